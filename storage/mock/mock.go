// Package mock provides a storage.Store wrapper for testing failure paths.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/mcp-authserver/storage"
)

// Store wraps a real storage.Store. Each Func field, when set, replaces the
// corresponding method; unset fields delegate to the wrapped store. Every
// call is counted in CallCounts under the method name.
type Store struct {
	storage.Store

	SaveClientFunc               func(ctx context.Context, client *storage.Client) error
	SaveClientFromIPFunc         func(ctx context.Context, client *storage.Client, ip string, maxClientsPerIP int) error
	GetClientFunc                func(ctx context.Context, clientID string) (*storage.Client, error)
	SaveAuthorizationCodeFunc    func(ctx context.Context, code *storage.AuthorizationCode) error
	ConsumeAuthorizationCodeFunc func(ctx context.Context, code string, now time.Time, check storage.CodeCheck) (*storage.AuthorizationCode, error)
	SaveTokenPairFunc            func(ctx context.Context, access *storage.AccessToken, refresh *storage.RefreshToken) error
	GetAccessTokenFunc           func(ctx context.Context, token string) (*storage.AccessToken, error)
	ConsumeRefreshTokenFunc      func(ctx context.Context, token string, now time.Time, check storage.RefreshCheck) (*storage.RefreshToken, error)
	SweepFunc                    func(ctx context.Context, now time.Time) (storage.SweepResult, error)

	mu         sync.Mutex
	callCounts map[string]int
}

var _ storage.Store = (*Store)(nil)

// New wraps base.
func New(base storage.Store) *Store {
	return &Store{Store: base, callCounts: make(map[string]int)}
}

// CallCount returns how many times method was called.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

func (m *Store) count(method string) {
	m.mu.Lock()
	m.callCounts[method]++
	m.mu.Unlock()
}

// SaveClient stores a client
func (m *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	m.count("SaveClient")
	if m.SaveClientFunc != nil {
		return m.SaveClientFunc(ctx, client)
	}
	return m.Store.SaveClient(ctx, client)
}

// SaveClientFromIP stores a client and counts it against ip
func (m *Store) SaveClientFromIP(ctx context.Context, client *storage.Client, ip string, maxClientsPerIP int) error {
	m.count("SaveClientFromIP")
	if m.SaveClientFromIPFunc != nil {
		return m.SaveClientFromIPFunc(ctx, client, ip, maxClientsPerIP)
	}
	return m.Store.SaveClientFromIP(ctx, client, ip, maxClientsPerIP)
}

// GetClient retrieves a client
func (m *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.count("GetClient")
	if m.GetClientFunc != nil {
		return m.GetClientFunc(ctx, clientID)
	}
	return m.Store.GetClient(ctx, clientID)
}

// SaveAuthorizationCode stores a code
func (m *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.count("SaveAuthorizationCode")
	if m.SaveAuthorizationCodeFunc != nil {
		return m.SaveAuthorizationCodeFunc(ctx, code)
	}
	return m.Store.SaveAuthorizationCode(ctx, code)
}

// ConsumeAuthorizationCode consumes a code
func (m *Store) ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time, check storage.CodeCheck) (*storage.AuthorizationCode, error) {
	m.count("ConsumeAuthorizationCode")
	if m.ConsumeAuthorizationCodeFunc != nil {
		return m.ConsumeAuthorizationCodeFunc(ctx, code, now, check)
	}
	return m.Store.ConsumeAuthorizationCode(ctx, code, now, check)
}

// SaveTokenPair stores a token pair
func (m *Store) SaveTokenPair(ctx context.Context, access *storage.AccessToken, refresh *storage.RefreshToken) error {
	m.count("SaveTokenPair")
	if m.SaveTokenPairFunc != nil {
		return m.SaveTokenPairFunc(ctx, access, refresh)
	}
	return m.Store.SaveTokenPair(ctx, access, refresh)
}

// GetAccessToken retrieves an access token
func (m *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	m.count("GetAccessToken")
	if m.GetAccessTokenFunc != nil {
		return m.GetAccessTokenFunc(ctx, token)
	}
	return m.Store.GetAccessToken(ctx, token)
}

// ConsumeRefreshToken consumes a refresh token
func (m *Store) ConsumeRefreshToken(ctx context.Context, token string, now time.Time, check storage.RefreshCheck) (*storage.RefreshToken, error) {
	m.count("ConsumeRefreshToken")
	if m.ConsumeRefreshTokenFunc != nil {
		return m.ConsumeRefreshTokenFunc(ctx, token, now, check)
	}
	return m.Store.ConsumeRefreshToken(ctx, token, now, check)
}

// Sweep removes expired records
func (m *Store) Sweep(ctx context.Context, now time.Time) (storage.SweepResult, error) {
	m.count("Sweep")
	if m.SweepFunc != nil {
		return m.SweepFunc(ctx, now)
	}
	return m.Store.Sweep(ctx, now)
}
