package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

// Grant types, response types and token endpoint auth methods
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"

	ResponseTypeCode = "code"

	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodNone              = "none"

	DefaultClientName = "MCP Client"
)

var (
	// SupportedGrantTypes lists the grant types clients may register
	SupportedGrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeClientCredentials}

	// SupportedAuthMethods lists the token endpoint auth methods clients may register
	SupportedAuthMethods = []string{AuthMethodClientSecretBasic, AuthMethodClientSecretPost, AuthMethodNone}
)

// dummyHash is compared against when a client is unknown so that
// authentication takes the same time whether or not the client exists.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ClientMetadata is the client-supplied part of a registration request
// (RFC 7591). Every field is optional.
type ClientMetadata struct {
	ClientName              string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
}

// RegisteredClient is the result of a successful registration. ClientSecret
// is the only copy of the plaintext secret.
type RegisteredClient struct {
	Client       *storage.Client
	ClientSecret string
}

// RegisterClient validates metadata, fills in defaults and stores a new
// client with a generated ID and secret.
func (s *Server) RegisterClient(ctx context.Context, md ClientMetadata, clientIP string) (*RegisteredClient, error) {
	ctx, span := s.startSpan(ctx, "register_client")
	defer span.End()

	applyClientMetadataDefaults(&md)
	if err := s.validateClientMetadata(md); err != nil {
		instrumentation.RecordError(span, err)
		s.audit(ctx, security.EventClientRegistrationRejected, "", map[string]any{"reason": err.Error()})
		return nil, err
	}

	// Cheap early rejection; the limit is enforced again when saving.
	if err := s.clientStore.CheckIPLimit(ctx, clientIP, s.Config.MaxClientsPerIP); err != nil {
		instrumentation.RecordError(span, err)
		return nil, s.registrationLimitError(ctx, err)
	}

	secret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}

	client := &storage.Client{
		ClientID:                uuid.NewString(),
		ClientSecretHash:        string(hash),
		ClientName:              md.ClientName,
		RedirectURIs:            md.RedirectURIs,
		GrantTypes:              md.GrantTypes,
		ResponseTypes:           md.ResponseTypes,
		TokenEndpointAuthMethod: md.TokenEndpointAuthMethod,
		CreatedAt:               s.now(),
	}

	if err := s.clientStore.SaveClientFromIP(ctx, client, clientIP, s.Config.MaxClientsPerIP); err != nil {
		instrumentation.RecordError(span, err)
		return nil, s.registrationLimitError(ctx, err)
	}

	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "", "")
	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordClientRegistration(ctx, client.TokenEndpointAuthMethod)
	s.Auditor.LogClientRegistered(client.ClientID, client.TokenEndpointAuthMethod, clientIP)
	s.Logger.Info("Registered new client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"redirect_uris", len(client.RedirectURIs))

	return &RegisteredClient{Client: client, ClientSecret: secret}, nil
}

// ListClients returns every registered client, oldest first.
func (s *Server) ListClients(ctx context.Context) ([]*storage.Client, error) {
	clients, err := s.clientStore.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return clients, nil
}

func (s *Server) registrationLimitError(ctx context.Context, err error) error {
	if errors.Is(err, storage.ErrClientLimitExceeded) {
		s.audit(ctx, security.EventClientRegistrationRejected, "", map[string]any{"reason": "per-IP client limit reached"})
		return newError(ErrorCodeInvalidRequest, "client registration limit reached for this address")
	}
	return fmt.Errorf("failed to save client: %w", err)
}

func applyClientMetadataDefaults(md *ClientMetadata) {
	if md.ClientName == "" {
		md.ClientName = DefaultClientName
	}
	if len(md.GrantTypes) == 0 {
		md.GrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}
	if len(md.ResponseTypes) == 0 {
		md.ResponseTypes = []string{ResponseTypeCode}
	}
	if md.TokenEndpointAuthMethod == "" {
		md.TokenEndpointAuthMethod = AuthMethodClientSecretBasic
	}
}

func (s *Server) validateClientMetadata(md ClientMetadata) error {
	for _, gt := range md.GrantTypes {
		if !contains(SupportedGrantTypes, gt) {
			return newError(ErrorCodeInvalidClientMetadata, "unsupported grant_type %q", gt)
		}
	}
	for _, rt := range md.ResponseTypes {
		if rt != ResponseTypeCode {
			return newError(ErrorCodeInvalidClientMetadata, "unsupported response_type %q", rt)
		}
	}
	if !contains(SupportedAuthMethods, md.TokenEndpointAuthMethod) {
		return newError(ErrorCodeInvalidClientMetadata, "unsupported token_endpoint_auth_method %q", md.TokenEndpointAuthMethod)
	}
	for _, uri := range md.RedirectURIs {
		if err := s.validateRedirectURIFormat(uri, true); err != nil {
			return newError(ErrorCodeInvalidClientMetadata, "%s", err.Error())
		}
	}
	return nil
}

// validateRedirectURIFormat checks that uri is absolute, has no fragment and
// only uses plain http on loopback hosts. Registered URIs may contain "*"
// path segments; presented URIs may not.
func (s *Server) validateRedirectURIFormat(uri string, allowWildcard bool) error {
	if uri == "" {
		return fmt.Errorf("redirect_uri must not be empty")
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("redirect_uri %q is not a valid URL", uri)
	}
	if !parsed.IsAbs() {
		return fmt.Errorf("redirect_uri %q must be absolute", uri)
	}
	if parsed.Fragment != "" || strings.Contains(uri, "#") {
		return fmt.Errorf("redirect_uri %q must not contain a fragment", uri)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "https":
		if parsed.Host == "" {
			return fmt.Errorf("redirect_uri %q has no host", uri)
		}
	case "http":
		if parsed.Host == "" {
			return fmt.Errorf("redirect_uri %q has no host", uri)
		}
		if !s.Config.AllowInsecureHTTPRedirects && !util.IsLoopbackHost(parsed.Hostname()) {
			return fmt.Errorf("redirect_uri %q must use https unless it targets a loopback host", uri)
		}
	case "javascript", "data", "file", "vbscript", "about":
		return fmt.Errorf("redirect_uri scheme %q is not allowed", parsed.Scheme)
	}

	if strings.Contains(parsed.Host, "*") {
		return fmt.Errorf("redirect_uri %q may not use a wildcard host", uri)
	}
	if strings.Contains(parsed.Path, "*") {
		if !allowWildcard {
			return fmt.Errorf("redirect_uri %q may not contain wildcards", uri)
		}
		for _, seg := range strings.Split(parsed.Path, "/") {
			if strings.Contains(seg, "*") && seg != "*" {
				return fmt.Errorf("redirect_uri %q: wildcards must be whole path segments", uri)
			}
		}
	}
	return nil
}

// ValidateRegistrationToken reports whether token matches the configured
// registration access token. Always true when none is configured.
func (s *Server) ValidateRegistrationToken(token string) bool {
	if s.Config.RegistrationAccessToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.Config.RegistrationAccessToken)) == 1
}

// GetClient returns the client with the given ID.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clientStore.GetClient(ctx, clientID)
}

// ValidateClientID reports whether clientID names a registered client. The
// default client is seeded at startup, so it counts as registered.
func (s *Server) ValidateClientID(ctx context.Context, clientID string) bool {
	if clientID == "" {
		return false
	}
	_, err := s.clientStore.GetClient(ctx, clientID)
	return err == nil
}

// AuthenticateClient checks clientID and secret against the stored hash.
// An unknown client costs the same bcrypt comparison as a known one.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(secret))
		if errors.Is(err, storage.ErrClientNotFound) {
			s.Auditor.LogAuthFailure(clientID, security.ClientIPFromContext(ctx), "unknown client")
			return nil, ErrUnknownClient
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	hash := client.ClientSecretHash
	if hash == "" {
		hash = dummyHash
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil || client.ClientSecretHash == "" {
		s.Auditor.LogAuthFailure(clientID, security.ClientIPFromContext(ctx), "invalid client secret")
		return nil, ErrInvalidClientCreds
	}
	return client, nil
}

// ValidateClientCredentials reports whether clientID and secret match a
// registered client.
func (s *Server) ValidateClientCredentials(ctx context.Context, clientID, secret string) bool {
	_, err := s.AuthenticateClient(ctx, clientID, secret)
	return err == nil
}

// requireGrantType loads clientID and checks that it registered grantType.
func (s *Server) requireGrantType(ctx context.Context, clientID, grantType string) (*storage.Client, error) {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrUnknownClient
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if !client.HasGrantType(grantType) {
		return nil, newError(ErrorCodeUnauthorizedClient, "client is not allowed to use grant_type %s", grantType)
	}
	return client, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
