package testutil

import (
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/storage"
)

// TestSecret is the plaintext secret of clients built by GenerateTestClient.
const TestSecret = "secret"

// TestSecretHash is the bcrypt hash of TestSecret at minimum cost.
var TestSecretHash = mustHash(TestSecret)

func mustHash(secret string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// FakeClientName returns a plausible application name.
func FakeClientName() string {
	return gofakeit.AppName()
}

// FakeRedirectURI returns an https callback URL on a random domain.
func FakeRedirectURI() string {
	return "https://" + gofakeit.DomainName() + "/callback"
}

// GenerateTestClient creates a client with a random ID whose secret is TestSecret.
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                uuid.NewString(),
		ClientSecretHash:        TestSecretHash,
		ClientName:              FakeClientName(),
		RedirectURIs:            []string{FakeRedirectURI()},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
		CreatedAt:               time.Now(),
	}
}

// GenerateTestAuthorizationCode creates an unexpired code for clientID at now.
func GenerateTestAuthorizationCode(clientID string, now time.Time) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        oauth2.GenerateVerifier(),
		ClientID:    clientID,
		RedirectURI: FakeRedirectURI(),
		Scope:       "read write",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

// GenerateTestTokenPair creates an unexpired access/refresh pair for clientID at now.
func GenerateTestTokenPair(clientID string, now time.Time) (*storage.AccessToken, *storage.RefreshToken) {
	access := &storage.AccessToken{
		Token:     oauth2.GenerateVerifier(),
		ClientID:  clientID,
		Scope:     "read",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	refresh := &storage.RefreshToken{
		Token:     oauth2.GenerateVerifier(),
		ClientID:  clientID,
		Scope:     "read",
		IssuedAt:  now,
		ExpiresAt: now.Add(30 * 24 * time.Hour),
	}
	return access, refresh
}

// GeneratePKCEPair returns an S256 (challenge, verifier) pair.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}
