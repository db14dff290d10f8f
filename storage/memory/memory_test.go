package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/testutil"
	"github.com/giantswarm/mcp-authserver/storage"
)

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// ============================================================
// ClientStore Tests
// ============================================================

func TestStore_SaveAndGetClient(t *testing.T) {
	ctx := context.Background()
	store := New()

	client := testutil.GenerateTestClient()
	require.NoError(t, store.SaveClient(ctx, client))

	got, err := store.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client.ClientName, got.ClientName)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)

	// Mutating the returned copy must not affect the stored record
	got.RedirectURIs[0] = "https://evil.example.com/cb"
	again, err := store.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client.RedirectURIs[0], again.RedirectURIs[0])
}

func TestStore_SaveClient_Duplicate(t *testing.T) {
	ctx := context.Background()
	store := New()

	client := testutil.GenerateTestClient()
	require.NoError(t, store.SaveClient(ctx, client))

	err := store.SaveClient(ctx, client)
	assert.ErrorIs(t, err, storage.ErrClientExists)
}

func TestStore_SaveClient_Invalid(t *testing.T) {
	store := New()
	assert.Error(t, store.SaveClient(context.Background(), nil))
	assert.Error(t, store.SaveClient(context.Background(), &storage.Client{}))
}

func TestStore_GetClient_NotFound(t *testing.T) {
	_, err := New().GetClient(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestStore_ListClients(t *testing.T) {
	ctx := context.Background()
	store := New()

	first := testutil.GenerateTestClient()
	first.CreatedAt = testNow
	second := testutil.GenerateTestClient()
	second.CreatedAt = testNow.Add(time.Second)

	require.NoError(t, store.SaveClient(ctx, second))
	require.NoError(t, store.SaveClient(ctx, first))

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, first.ClientID, clients[0].ClientID)
	assert.Equal(t, second.ClientID, clients[1].ClientID)
}

func TestStore_IPLimit(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.CheckIPLimit(ctx, "10.0.0.1", 2))
	require.NoError(t, store.SaveClientFromIP(ctx, testutil.GenerateTestClient(), "10.0.0.1", 2))
	require.NoError(t, store.CheckIPLimit(ctx, "10.0.0.1", 2))
	require.NoError(t, store.SaveClientFromIP(ctx, testutil.GenerateTestClient(), "10.0.0.1", 2))

	assert.ErrorIs(t, store.CheckIPLimit(ctx, "10.0.0.1", 2), storage.ErrClientLimitExceeded)
	assert.ErrorIs(t, store.SaveClientFromIP(ctx, testutil.GenerateTestClient(), "10.0.0.1", 2), storage.ErrClientLimitExceeded)
	assert.NoError(t, store.CheckIPLimit(ctx, "10.0.0.2", 2), "other IPs are unaffected")
	assert.NoError(t, store.CheckIPLimit(ctx, "10.0.0.1", 0), "zero disables the limit")
	assert.NoError(t, store.SaveClientFromIP(ctx, testutil.GenerateTestClient(), "10.0.0.1", 0), "zero disables the limit")

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 3, "a rejected client must not be saved")
}

func TestStore_SaveClientFromIP_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := New()

	const attempts = 20
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.SaveClientFromIP(ctx, testutil.GenerateTestClient(), "10.9.9.9", 2) == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), succeeded.Load())
	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 2)
}

// ============================================================
// CodeStore Tests
// ============================================================

func TestStore_ConsumeAuthorizationCode(t *testing.T) {
	ctx := context.Background()
	store := New()

	code := testutil.GenerateTestAuthorizationCode("client-1", testNow)
	require.NoError(t, store.SaveAuthorizationCode(ctx, code))

	got, err := store.ConsumeAuthorizationCode(ctx, code.Code, testNow, nil)
	require.NoError(t, err)
	assert.Equal(t, code.ClientID, got.ClientID)
	assert.Equal(t, code.Scope, got.Scope)

	_, err = store.ConsumeAuthorizationCode(ctx, code.Code, testNow, nil)
	assert.ErrorIs(t, err, storage.ErrCodeNotFound, "a consumed code is gone")
}

func TestStore_ConsumeAuthorizationCode_Expired(t *testing.T) {
	ctx := context.Background()
	store := New()

	code := testutil.GenerateTestAuthorizationCode("client-1", testNow)
	require.NoError(t, store.SaveAuthorizationCode(ctx, code))

	_, err := store.ConsumeAuthorizationCode(ctx, code.Code, code.ExpiresAt, nil)
	assert.ErrorIs(t, err, storage.ErrCodeExpired, "expiry at exactly now counts as expired")

	_, err = store.ConsumeAuthorizationCode(ctx, code.Code, testNow, nil)
	assert.ErrorIs(t, err, storage.ErrCodeNotFound, "expired code is deleted")
}

func TestStore_ConsumeAuthorizationCode_CheckFailureKeepsCode(t *testing.T) {
	ctx := context.Background()
	store := New()

	code := testutil.GenerateTestAuthorizationCode("client-1", testNow)
	require.NoError(t, store.SaveAuthorizationCode(ctx, code))

	errMismatch := errors.New("client mismatch")
	_, err := store.ConsumeAuthorizationCode(ctx, code.Code, testNow, func(c *storage.AuthorizationCode) error {
		return errMismatch
	})
	assert.ErrorIs(t, err, errMismatch)

	_, err = store.ConsumeAuthorizationCode(ctx, code.Code, testNow, nil)
	assert.NoError(t, err, "code survives a failed check")
}

func TestStore_ConsumeAuthorizationCode_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := New()

	code := testutil.GenerateTestAuthorizationCode("client-1", testNow)
	require.NoError(t, store.SaveAuthorizationCode(ctx, code))

	const attempts = 50
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.ConsumeAuthorizationCode(ctx, code.Code, testNow, nil); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

// ============================================================
// TokenStore Tests
// ============================================================

func TestStore_SaveTokenPair_LinksPair(t *testing.T) {
	ctx := context.Background()
	store := New()

	access, refresh := testutil.GenerateTestTokenPair("client-1", testNow)
	require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

	at, err := store.GetAccessToken(ctx, access.Token)
	require.NoError(t, err)
	assert.Equal(t, refresh.Token, at.RefreshToken)

	rt, err := store.GetRefreshToken(ctx, refresh.Token)
	require.NoError(t, err)
	assert.Equal(t, access.Token, rt.AccessToken)
}

func TestStore_SaveTokenPair_Invalid(t *testing.T) {
	store := New()
	access, refresh := testutil.GenerateTestTokenPair("client-1", testNow)

	assert.Error(t, store.SaveTokenPair(context.Background(), nil, refresh))
	assert.Error(t, store.SaveTokenPair(context.Background(), access, nil))
}

func TestStore_ConsumeRefreshToken_RemovesPair(t *testing.T) {
	ctx := context.Background()
	store := New()

	access, refresh := testutil.GenerateTestTokenPair("client-1", testNow)
	require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

	rt, err := store.ConsumeRefreshToken(ctx, refresh.Token, testNow, nil)
	require.NoError(t, err)
	assert.Equal(t, "client-1", rt.ClientID)

	_, err = store.GetAccessToken(ctx, access.Token)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	_, err = store.ConsumeRefreshToken(ctx, refresh.Token, testNow, nil)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestStore_ConsumeRefreshToken_Expired(t *testing.T) {
	ctx := context.Background()
	store := New()

	access, refresh := testutil.GenerateTestTokenPair("client-1", testNow)
	require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

	_, err := store.ConsumeRefreshToken(ctx, refresh.Token, refresh.ExpiresAt.Add(time.Second), nil)
	assert.ErrorIs(t, err, storage.ErrTokenExpired)

	_, err = store.GetRefreshToken(ctx, refresh.Token)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestStore_ConsumeRefreshToken_CheckFailureKeepsPair(t *testing.T) {
	ctx := context.Background()
	store := New()

	access, refresh := testutil.GenerateTestTokenPair("client-1", testNow)
	require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

	errMismatch := errors.New("client mismatch")
	_, err := store.ConsumeRefreshToken(ctx, refresh.Token, testNow, func(*storage.RefreshToken) error {
		return errMismatch
	})
	assert.ErrorIs(t, err, errMismatch)

	_, err = store.GetAccessToken(ctx, access.Token)
	assert.NoError(t, err)
	_, err = store.GetRefreshToken(ctx, refresh.Token)
	assert.NoError(t, err)
}

func TestStore_ConsumeRefreshToken_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := New()

	access, refresh := testutil.GenerateTestTokenPair("client-1", testNow)
	require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

	const attempts = 50
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.ConsumeRefreshToken(ctx, refresh.Token, testNow, nil); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestStore_RevokeTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("revoke refresh removes pair", func(t *testing.T) {
		store := New()
		access, refresh := testutil.GenerateTestTokenPair("client-1", testNow)
		require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

		removed, err := store.RevokeRefreshToken(ctx, refresh.Token)
		require.NoError(t, err)
		assert.True(t, removed)

		_, err = store.GetAccessToken(ctx, access.Token)
		assert.ErrorIs(t, err, storage.ErrTokenNotFound)

		removed, err = store.RevokeRefreshToken(ctx, refresh.Token)
		require.NoError(t, err)
		assert.False(t, removed, "second revoke is a no-op")
	})

	t.Run("revoke access removes pair", func(t *testing.T) {
		store := New()
		access, refresh := testutil.GenerateTestTokenPair("client-1", testNow)
		require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

		removed, err := store.RevokeAccessToken(ctx, access.Token)
		require.NoError(t, err)
		assert.True(t, removed)

		_, err = store.GetRefreshToken(ctx, refresh.Token)
		assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	})

	t.Run("delete access unlinks refresh", func(t *testing.T) {
		store := New()
		access, refresh := testutil.GenerateTestTokenPair("client-1", testNow)
		require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

		require.NoError(t, store.DeleteAccessToken(ctx, access.Token))
		require.NoError(t, store.DeleteAccessToken(ctx, access.Token))

		rt, err := store.GetRefreshToken(ctx, refresh.Token)
		require.NoError(t, err)
		assert.Empty(t, rt.AccessToken)
	})
}

// ============================================================
// Sweep Tests
// ============================================================

func TestStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store := New()

	code := testutil.GenerateTestAuthorizationCode("client-1", testNow)
	require.NoError(t, store.SaveAuthorizationCode(ctx, code))

	access, refresh := testutil.GenerateTestTokenPair("client-1", testNow)
	require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

	// Nothing expired yet
	result, err := store.Sweep(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total())

	// Past code and access token expiry, refresh token still live
	result, err = store.Sweep(ctx, testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, storage.SweepResult{Codes: 1, AccessTokens: 1}, result)

	rt, err := store.GetRefreshToken(ctx, refresh.Token)
	require.NoError(t, err)
	assert.Empty(t, rt.AccessToken, "swept access token is unlinked")

	// Past refresh expiry
	result, err = store.Sweep(ctx, testNow.Add(31*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, storage.SweepResult{RefreshTokens: 1}, result)
}

func TestStore_SetInstrumentation(t *testing.T) {
	ctx := context.Background()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true})
	require.NoError(t, err)
	defer func() { _ = inst.Shutdown(ctx) }()

	store := New()
	store.SetInstrumentation(inst)

	access, refresh := testutil.GenerateTestTokenPair("client-1", testNow)
	require.NoError(t, store.SaveTokenPair(ctx, access, refresh))
	require.NoError(t, store.SaveClient(ctx, testutil.GenerateTestClient()))

	assert.Equal(t, int64(1), store.clientsCount.Load())
	assert.Equal(t, int64(1), store.accessTokensCount.Load())
	assert.Equal(t, int64(1), store.refreshTokensCount.Load())
	assert.Equal(t, int64(0), store.codesCount.Load())
}
