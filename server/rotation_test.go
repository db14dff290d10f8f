package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func issueTestPair(t *testing.T, srv *Server, clientID, scope, resource string) *TokenPair {
	t.Helper()
	pair, err := srv.IssueTokenPair(context.Background(), clientID, scope, resource)
	if err != nil {
		t.Fatalf("IssueTokenPair() error = %v", err)
	}
	return pair
}

func TestServer_RefreshAccessToken(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t)
	client := saveTestClient(t, store)
	old := issueTestPair(t, srv, client.ClientID, "read write", "https://auth.example.com/mcp")

	pair, err := srv.RefreshAccessToken(ctx, old.RefreshToken, client.ClientID, "")
	if err != nil {
		t.Fatalf("RefreshAccessToken() error = %v", err)
	}

	if pair.AccessToken == old.AccessToken || pair.RefreshToken == old.RefreshToken {
		t.Error("rotation must issue new token values")
	}
	if pair.Scope != old.Scope {
		t.Errorf("Scope = %q, want %q", pair.Scope, old.Scope)
	}
	if pair.Resource != old.Resource {
		t.Errorf("Resource = %q, want %q", pair.Resource, old.Resource)
	}

	// The old pair is gone.
	if _, err := srv.ValidateAccessToken(ctx, old.AccessToken); !errors.Is(err, ErrAccessTokenNotFound) {
		t.Errorf("old access token error = %v, want %v", err, ErrAccessTokenNotFound)
	}
	if _, err := srv.ValidateRefreshToken(ctx, old.RefreshToken); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("old refresh token error = %v, want %v", err, ErrRefreshTokenNotFound)
	}

	// Replaying the old refresh token fails.
	if _, err := srv.RefreshAccessToken(ctx, old.RefreshToken, client.ClientID, ""); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("replay error = %v, want %v", err, ErrRefreshTokenNotFound)
	}

	// The new pair works.
	if _, err := srv.ValidateAccessToken(ctx, pair.AccessToken); err != nil {
		t.Errorf("new access token error = %v", err)
	}
}

func TestServer_RefreshAccessToken_OtherClient(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t)
	owner := saveTestClient(t, store)
	thief := saveTestClient(t, store)
	pair := issueTestPair(t, srv, owner.ClientID, "", "")

	if _, err := srv.RefreshAccessToken(ctx, pair.RefreshToken, thief.ClientID, ""); !errors.Is(err, ErrClientMismatch) {
		t.Fatalf("error = %v, want %v", err, ErrClientMismatch)
	}

	// The owner's pair is untouched.
	if _, err := srv.ValidateAccessToken(ctx, pair.AccessToken); err != nil {
		t.Errorf("owner access token error = %v", err)
	}
	if _, err := srv.RefreshAccessToken(ctx, pair.RefreshToken, owner.ClientID, ""); err != nil {
		t.Errorf("owner refresh error = %v", err)
	}
}

func TestServer_RefreshAccessToken_ResourceMismatch(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t)
	client := saveTestClient(t, store)
	pair := issueTestPair(t, srv, client.ClientID, "", "https://auth.example.com")

	if _, err := srv.RefreshAccessToken(ctx, pair.RefreshToken, client.ClientID, "https://other.example.com"); !errors.Is(err, ErrResourceMismatch) {
		t.Fatalf("error = %v, want %v", err, ErrResourceMismatch)
	}
	if _, err := srv.RefreshAccessToken(ctx, pair.RefreshToken, client.ClientID, "https://auth.example.com/"); err != nil {
		t.Errorf("same resource with trailing slash error = %v", err)
	}
}

func TestServer_RefreshAccessToken_Expired(t *testing.T) {
	ctx := context.Background()
	srv, store, clock := setupTestServer(t)
	client := saveTestClient(t, store)
	pair := issueTestPair(t, srv, client.ClientID, "", "")

	clock.Advance(30 * 24 * time.Hour)

	if _, err := srv.ValidateRefreshToken(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Errorf("ValidateRefreshToken() error = %v, want %v", err, ErrRefreshTokenExpired)
	}
	if _, err := srv.RefreshAccessToken(ctx, pair.RefreshToken, client.ClientID, ""); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Errorf("RefreshAccessToken() error = %v, want %v", err, ErrRefreshTokenExpired)
	}
	if _, err := srv.ValidateRefreshToken(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("expired refresh token should be deleted, got %v", err)
	}
}

func TestServer_RefreshAccessToken_Concurrent(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t)
	client := saveTestClient(t, store)
	pair := issueTestPair(t, srv, client.ClientID, "", "")

	const attempts = 50
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := srv.RefreshAccessToken(ctx, pair.RefreshToken, client.ClientID, ""); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("successful rotations = %d, want exactly 1", got)
	}
}

func TestServer_ValidateRefreshToken_NoMutation(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t)
	client := saveTestClient(t, store)
	pair := issueTestPair(t, srv, client.ClientID, "read", "")

	for i := 0; i < 3; i++ {
		rt, err := srv.ValidateRefreshToken(ctx, pair.RefreshToken)
		if err != nil {
			t.Fatalf("ValidateRefreshToken() error = %v", err)
		}
		if rt.ClientID != client.ClientID || rt.Scope != "read" {
			t.Errorf("record = %+v", rt)
		}
	}
	if _, err := srv.ValidateAccessToken(ctx, pair.AccessToken); err != nil {
		t.Errorf("access token should still be valid: %v", err)
	}
}

func TestServer_RevokeRefreshToken(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t)
	client := saveTestClient(t, store)
	pair := issueTestPair(t, srv, client.ClientID, "", "")

	if err := srv.RevokeRefreshToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("RevokeRefreshToken() error = %v", err)
	}
	if _, err := srv.ValidateAccessToken(ctx, pair.AccessToken); !errors.Is(err, ErrAccessTokenNotFound) {
		t.Errorf("paired access token error = %v, want %v", err, ErrAccessTokenNotFound)
	}
	if err := srv.RevokeRefreshToken(ctx, pair.RefreshToken); err != nil {
		t.Errorf("second RevokeRefreshToken() error = %v, want nil", err)
	}
}

func TestServer_RevokeToken(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupTestServer(t)
	owner := saveTestClient(t, store)
	other := saveTestClient(t, store)

	t.Run("access token revokes pair", func(t *testing.T) {
		pair := issueTestPair(t, srv, owner.ClientID, "", "")
		if err := srv.RevokeToken(ctx, pair.AccessToken, TokenTypeHintAccessToken, owner.ClientID); err != nil {
			t.Fatalf("RevokeToken() error = %v", err)
		}
		if _, err := srv.ValidateRefreshToken(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshTokenNotFound) {
			t.Errorf("paired refresh token error = %v", err)
		}
	})

	t.Run("wrong hint still finds token", func(t *testing.T) {
		pair := issueTestPair(t, srv, owner.ClientID, "", "")
		if err := srv.RevokeToken(ctx, pair.RefreshToken, TokenTypeHintAccessToken, owner.ClientID); err != nil {
			t.Fatalf("RevokeToken() error = %v", err)
		}
		if _, err := srv.ValidateAccessToken(ctx, pair.AccessToken); !errors.Is(err, ErrAccessTokenNotFound) {
			t.Errorf("paired access token error = %v", err)
		}
	})

	t.Run("other client's token is left alone", func(t *testing.T) {
		pair := issueTestPair(t, srv, owner.ClientID, "", "")
		if err := srv.RevokeToken(ctx, pair.RefreshToken, "", other.ClientID); err != nil {
			t.Fatalf("RevokeToken() error = %v", err)
		}
		if _, err := srv.ValidateRefreshToken(ctx, pair.RefreshToken); err != nil {
			t.Errorf("token should survive revocation by another client: %v", err)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		if err := srv.RevokeToken(ctx, "unknown", "", owner.ClientID); err != nil {
			t.Errorf("RevokeToken(unknown) error = %v, want nil", err)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		err := srv.RevokeToken(ctx, "", "", owner.ClientID)
		if got := AsError(err).Code; got != ErrorCodeInvalidRequest {
			t.Errorf("error code = %q, want %q", got, ErrorCodeInvalidRequest)
		}
	})
}
