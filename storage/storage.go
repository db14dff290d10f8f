package storage

import (
	"context"
	"time"
)

// ClientStore holds registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient stores a client record. Client IDs are unique; saving an
	// existing ID replaces nothing and returns ErrClientExists.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)

	// CheckIPLimit returns ErrClientLimitExceeded if ip already registered maxClientsPerIP clients.
	// A limit of zero or less disables the check.
	CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error

	// SaveClientFromIP stores a client registered from ip and counts it
	// against the per-IP limit in one step. Returns ErrClientLimitExceeded,
	// saving nothing, if ip already registered maxClientsPerIP clients.
	SaveClientFromIP(ctx context.Context, client *Client, ip string, maxClientsPerIP int) error
}

// CodeCheck inspects an authorization code inside a store's critical section.
// Returning an error aborts the consume and leaves the code in place.
type CodeCheck func(code *AuthorizationCode) error

// CodeStore holds short-lived, single-use authorization codes.
type CodeStore interface {
	// SaveAuthorizationCode stores an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically looks up, checks and deletes a code.
	// Returns ErrCodeNotFound if absent, ErrCodeExpired (after deleting it) if
	// expired at now, or the error returned by check. The code is removed only
	// when check succeeds, so at most one caller can ever consume it.
	ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time, check CodeCheck) (*AuthorizationCode, error)
}

// RefreshCheck inspects a refresh token inside a store's critical section.
type RefreshCheck func(token *RefreshToken) error

// TokenStore holds linked access/refresh token pairs.
type TokenStore interface {
	// SaveTokenPair stores both members of a pair in one operation.
	SaveTokenPair(ctx context.Context, access *AccessToken, refresh *RefreshToken) error

	// GetAccessToken retrieves an access token without checking expiry.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteAccessToken removes an access token and unlinks it from its
	// refresh token. Deleting an absent token is not an error.
	DeleteAccessToken(ctx context.Context, token string) error

	// GetRefreshToken retrieves a refresh token without checking expiry.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// ConsumeRefreshToken atomically looks up, checks and removes a refresh
	// token together with its paired access token. Returns ErrTokenNotFound,
	// ErrTokenExpired (after deleting the pair) or the error returned by check.
	// Two concurrent consumes of the same token never both succeed.
	ConsumeRefreshToken(ctx context.Context, token string, now time.Time, check RefreshCheck) (*RefreshToken, error)

	// RevokeRefreshToken removes a refresh token and its paired access token.
	// Returns false if the token was not present.
	RevokeRefreshToken(ctx context.Context, token string) (bool, error)

	// RevokeAccessToken removes an access token and its paired refresh token.
	// Returns false if the token was not present.
	RevokeAccessToken(ctx context.Context, token string) (bool, error)
}

// Sweeper removes expired records in bulk.
type Sweeper interface {
	// Sweep deletes every code and token whose expiry is before now.
	Sweep(ctx context.Context, now time.Time) (SweepResult, error)
}

// Store is the full set of operations the authorization server needs.
type Store interface {
	ClientStore
	CodeStore
	TokenStore
	Sweeper
}

// SweepResult reports how many records a sweep removed.
type SweepResult struct {
	Codes         int
	AccessTokens  int
	RefreshTokens int
}

// Total returns the number of removed records.
func (r SweepResult) Total() int {
	return r.Codes + r.AccessTokens + r.RefreshTokens
}

// Client represents a registered OAuth client
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash
	ClientName              string
	RedirectURIs            []string // may contain "*" path segments
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	CreatedAt               time.Time
}

// HasGrantType reports whether the client registered the given grant type.
func (c *Client) HasGrantType(grantType string) bool {
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// HasResponseType reports whether the client registered the given response type.
func (c *Client) HasResponseType(responseType string) bool {
	for _, rt := range c.ResponseTypes {
		if rt == responseType {
			return true
		}
	}
	return false
}

// AuthorizationCode is an issued, not yet redeemed, authorization code.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	Resource            string // RFC 8707 audience
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// AccessToken is an issued bearer token.
type AccessToken struct {
	Token        string
	ClientID     string
	Scope        string
	Resource     string
	RefreshToken string // paired refresh token, empty once unlinked
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// RefreshToken is an issued refresh token.
type RefreshToken struct {
	Token       string
	ClientID    string
	Scope       string
	Resource    string
	AccessToken string // paired access token, empty once unlinked
	IssuedAt    time.Time
	ExpiresAt   time.Time
}
