package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/giantswarm/mcp-authserver/internal/testutil"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/storage/memory"
	"github.com/giantswarm/mcp-authserver/storage/mock"
)

func TestServer_ExchangeAuthorizationCode(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t)
	client := saveTestClient(t, store)
	challenge, verifier := testutil.GeneratePKCEPair()

	code, err := srv.IssueCode(ctx, client.ClientID, testRedirectURI, challenge, PKCEMethodS256, "read", "")
	if err != nil {
		t.Fatalf("IssueCode() error = %v", err)
	}

	pair, err := srv.ExchangeAuthorizationCode(ctx, code, client.ClientID, testRedirectURI, verifier, "")
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}

	if pair.TokenType != TokenTypeBearer {
		t.Errorf("TokenType = %q, want %q", pair.TokenType, TokenTypeBearer)
	}
	if pair.ExpiresIn != DefaultAccessTokenTTL {
		t.Errorf("ExpiresIn = %d, want %d", pair.ExpiresIn, DefaultAccessTokenTTL)
	}
	if pair.Scope != "read" {
		t.Errorf("Scope = %q, want %q", pair.Scope, "read")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Error("access and refresh tokens must differ")
	}
	if want := testStart.Add(time.Hour); !pair.AccessExpiresAt.Equal(want) {
		t.Errorf("AccessExpiresAt = %v, want %v", pair.AccessExpiresAt, want)
	}
	if want := testStart.Add(30 * 24 * time.Hour); !pair.RefreshExpiresAt.Equal(want) {
		t.Errorf("RefreshExpiresAt = %v, want %v", pair.RefreshExpiresAt, want)
	}

	at, err := store.GetAccessToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if at.RefreshToken != pair.RefreshToken {
		t.Error("access token should reference its refresh token")
	}
	rt, err := store.GetRefreshToken(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if rt.AccessToken != pair.AccessToken {
		t.Error("refresh token should reference its access token")
	}
}

func TestServer_ExchangeAuthorizationCode_Resource(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t, func(c *Config) { c.Resource = "https://mcp.example.com" })
	client := saveTestClient(t, store)

	t.Run("code resource is carried", func(t *testing.T) {
		code, _ := srv.IssueCode(ctx, client.ClientID, testRedirectURI, "", "", "", "https://mcp.example.com")
		pair, err := srv.ExchangeAuthorizationCode(ctx, code, client.ClientID, testRedirectURI, "", "")
		if err != nil {
			t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
		}
		if pair.Resource != "https://mcp.example.com" {
			t.Errorf("Resource = %q", pair.Resource)
		}
	})

	t.Run("request resource binds unbound code", func(t *testing.T) {
		code, _ := srv.IssueCode(ctx, client.ClientID, testRedirectURI, "", "", "", "")
		pair, err := srv.ExchangeAuthorizationCode(ctx, code, client.ClientID, testRedirectURI, "", "https://mcp.example.com/")
		if err != nil {
			t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
		}
		if pair.Resource != "https://mcp.example.com/" {
			t.Errorf("Resource = %q", pair.Resource)
		}
	})

	t.Run("different resource is rejected", func(t *testing.T) {
		code, _ := srv.IssueCode(ctx, client.ClientID, testRedirectURI, "", "", "", "https://mcp.example.com")
		_, err := srv.ExchangeAuthorizationCode(ctx, code, client.ClientID, testRedirectURI, "", "https://mcp.example.com/other")
		if !errors.Is(err, ErrResourceMismatch) {
			t.Fatalf("error = %v, want %v", err, ErrResourceMismatch)
		}
		if _, err := srv.ExchangeAuthorizationCode(ctx, code, client.ClientID, testRedirectURI, "", ""); err != nil {
			t.Errorf("code should survive a resource mismatch, got %v", err)
		}
	})
}

func TestServer_ExchangeAuthorizationCode_UnauthorizedClient(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t)
	client := saveTestClient(t, store, GrantTypeClientCredentials)

	_, err := srv.ExchangeAuthorizationCode(ctx, "some-code", client.ClientID, testRedirectURI, "", "")
	if got := AsError(err).Code; got != ErrorCodeUnauthorizedClient {
		t.Errorf("error code = %q, want %q", got, ErrorCodeUnauthorizedClient)
	}
}

func TestServer_ClientCredentialsGrant(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t)
	client := saveTestClient(t, store, GrantTypeClientCredentials)
	noCC := saveTestClient(t, store)

	pair, err := srv.ClientCredentialsGrant(ctx, client.ClientID, testutil.TestSecret, "read", "")
	if err != nil {
		t.Fatalf("ClientCredentialsGrant() error = %v", err)
	}
	if pair.ClientID != client.ClientID || pair.Scope != "read" {
		t.Errorf("pair = %+v", pair)
	}

	if _, err := srv.ClientCredentialsGrant(ctx, client.ClientID, "wrong", "", ""); !errors.Is(err, ErrInvalidClientCreds) {
		t.Errorf("wrong secret error = %v, want %v", err, ErrInvalidClientCreds)
	}
	_, err = srv.ClientCredentialsGrant(ctx, noCC.ClientID, testutil.TestSecret, "", "")
	if got := AsError(err).Code; got != ErrorCodeUnauthorizedClient {
		t.Errorf("error code = %q, want %q", got, ErrorCodeUnauthorizedClient)
	}
}

func TestServer_ClientCredentialsGrant_Resource(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t)
	client := saveTestClient(t, store, GrantTypeClientCredentials)

	pair, err := srv.ClientCredentialsGrant(ctx, client.ClientID, testutil.TestSecret, "", testIssuer+"/mcp")
	if err != nil {
		t.Fatalf("ClientCredentialsGrant() error = %v", err)
	}
	if _, err := srv.ValidateAccessToken(ctx, pair.AccessToken); err != nil {
		t.Errorf("token bound to a served resource should validate, got %v", err)
	}

	_, err = srv.ClientCredentialsGrant(ctx, client.ClientID, testutil.TestSecret, "", "https://other.example.com")
	if got := AsError(err).Code; got != ErrorCodeInvalidTarget {
		t.Errorf("error code = %q, want %q", got, ErrorCodeInvalidTarget)
	}
}

func TestServer_StoreFailureIsServerError(t *testing.T) {
	ctx := context.Background()
	ms := mock.New(memory.New())
	ms.SaveTokenPairFunc = func(ctx context.Context, access *storage.AccessToken, refresh *storage.RefreshToken) error {
		return errors.New("disk on fire")
	}

	srv, err := New(ms, ms, ms, &Config{Issuer: testIssuer}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	client := saveTestClient(t, ms)

	code, err := srv.IssueCode(ctx, client.ClientID, testRedirectURI, "", "", "", "")
	if err != nil {
		t.Fatalf("IssueCode() error = %v", err)
	}

	_, err = srv.ExchangeAuthorizationCode(ctx, code, client.ClientID, testRedirectURI, "", "")
	if err == nil {
		t.Fatal("ExchangeAuthorizationCode() should fail when the store fails")
	}
	if got := AsError(err).Code; got != ErrorCodeServerError {
		t.Errorf("error code = %q, want %q", got, ErrorCodeServerError)
	}
	if ms.CallCount("SaveTokenPair") != 1 {
		t.Errorf("SaveTokenPair calls = %d, want 1", ms.CallCount("SaveTokenPair"))
	}
}

func TestServer_ValidateAccessToken_FailsClosed(t *testing.T) {
	ms := mock.New(memory.New())
	ms.GetAccessTokenFunc = func(ctx context.Context, token string) (*storage.AccessToken, error) {
		return nil, errors.New("store unavailable")
	}

	srv, err := New(ms, ms, ms, &Config{Issuer: testIssuer}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := srv.ValidateAccessToken(context.Background(), "token"); err == nil {
		t.Error("ValidateAccessToken() should reject when the store fails")
	}
}
