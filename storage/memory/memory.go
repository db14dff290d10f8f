package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

// tokenIDLogLength is the number of characters of a code or token included in logs
const tokenIDLogLength = 8

// Store is an in-memory implementation of storage.Store.
//
// A single RWMutex guards every map, so each exported method is atomic with
// respect to every other. Records are stored and returned as copies; callers
// can never mutate what the store holds.
type Store struct {
	mu sync.RWMutex

	clients      map[string]storage.Client
	clientsPerIP map[string]int // IP address -> registrations (DoS protection)

	codes map[string]storage.AuthorizationCode

	accessTokens  map[string]storage.AccessToken
	refreshTokens map[string]storage.RefreshToken

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCount       atomic.Int64
	codesCount         atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64

	logger *slog.Logger
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
// Expired records are dropped lazily on access; call Sweep (or run a
// server.Sweeper) to reclaim records nobody touches again.
func New() *Store {
	return &Store{
		clients:       make(map[string]storage.Client),
		clientsPerIP:  make(map[string]int),
		codes:         make(map[string]storage.AuthorizationCode),
		accessTokens:  make(map[string]storage.AccessToken),
		refreshTokens: make(map[string]storage.RefreshToken),
		logger:        slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
// and registers the store size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.syncCountsLocked()
	logger := s.logger
	s.mu.Unlock()

	if inst == nil {
		return
	}

	err := inst.RegisterStorageSizeCallbacks(
		s.clientsCount.Load,
		s.codesCount.Load,
		s.accessTokensCount.Load,
		s.refreshTokensCount.Load,
	)
	if err != nil {
		logger.Warn("Failed to register storage metrics callbacks", "error", err)
	}
}

// syncCountsLocked refreshes the gauge counters. Caller must hold s.mu.
func (s *Store) syncCountsLocked() {
	s.clientsCount.Store(int64(len(s.clients)))
	s.codesCount.Store(int64(len(s.codes)))
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
}

// isExpired reports whether expiresAt is not strictly after now.
func isExpired(expiresAt, now time.Time) bool {
	return !expiresAt.After(now)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_client", &err, time.Now())

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		return fmt.Errorf("%w: %s", storage.ErrClientExists, client.ClientID)
	}

	s.clients[client.ClientID] = cloneClient(client)
	s.syncCountsLocked()

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_client", &err, time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}

	c := cloneClient(&client)
	return &c, nil
}

// ListClients lists all registered clients ordered by creation time
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		c := cloneClient(&client)
		clients = append(clients, &c)
	}

	sort.Slice(clients, func(i, j int) bool {
		if clients[i].CreatedAt.Equal(clients[j].CreatedAt) {
			return clients[i].ClientID < clients[j].ClientID
		}
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})

	return clients, nil
}

// CheckIPLimit checks if an IP has reached the client registration limit
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	if maxClientsPerIP <= 0 {
		return nil // No limit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.clientsPerIP[ip]
	if count >= maxClientsPerIP {
		return fmt.Errorf("%w: %s has %d/%d clients", storage.ErrClientLimitExceeded, ip, count, maxClientsPerIP)
	}

	return nil
}

// SaveClientFromIP saves a client and increments the registration count for
// ip under a single write lock.
func (s *Store) SaveClientFromIP(ctx context.Context, client *storage.Client, ip string, maxClientsPerIP int) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client_from_ip")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_client_from_ip", &err, time.Now())

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if count := s.clientsPerIP[ip]; maxClientsPerIP > 0 && count >= maxClientsPerIP {
		return fmt.Errorf("%w: %s has %d/%d clients", storage.ErrClientLimitExceeded, ip, count, maxClientsPerIP)
	}
	if _, exists := s.clients[client.ClientID]; exists {
		return fmt.Errorf("%w: %s", storage.ErrClientExists, client.ClientID)
	}

	s.clients[client.ClientID] = cloneClient(client)
	s.clientsPerIP[ip]++
	s.syncCountsLocked()

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_authorization_code", &err, time.Now())

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[code.Code] = *code
	s.syncCountsLocked()

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// ConsumeAuthorizationCode atomically checks and deletes an authorization code.
// Only ONE concurrent caller can receive the code; every other caller sees
// ErrCodeNotFound. An expired code is deleted and reported as ErrCodeExpired.
// If check fails the code stays in place.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time, check storage.CodeCheck) (_ *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "consume_authorization_code", &err, time.Now())

	s.mu.Lock() // MUST use write lock for atomic check-and-delete
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}

	if isExpired(authCode.ExpiresAt, now) {
		delete(s.codes, code)
		s.syncCountsLocked()
		return nil, storage.ErrCodeExpired
	}

	if check != nil {
		c := authCode
		if err := check(&c); err != nil {
			return nil, err
		}
	}

	delete(s.codes, code)
	s.syncCountsLocked()

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return &authCode, nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveTokenPair stores an access token and its refresh token, linking the two.
func (s *Store) SaveTokenPair(ctx context.Context, access *storage.AccessToken, refresh *storage.RefreshToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_token_pair")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_token_pair", &err, time.Now())

	if access == nil || access.Token == "" {
		return fmt.Errorf("invalid access token")
	}
	if refresh == nil || refresh.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}

	a := *access
	r := *refresh
	a.RefreshToken = r.Token
	r.AccessToken = a.Token

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessTokens[a.Token] = a
	s.refreshTokens[r.Token] = r
	s.syncCountsLocked()

	s.logger.Debug("Saved token pair",
		"client_id", a.ClientID,
		"access_prefix", util.SafeTruncate(a.Token, tokenIDLogLength))
	return nil
}

// GetAccessToken retrieves an access token. Expiry is the caller's concern.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_access_token", &err, time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.accessTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return &at, nil
}

// DeleteAccessToken removes an access token and unlinks it from its refresh token
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteAccessLocked(token)
	s.syncCountsLocked()
	return nil
}

// GetRefreshToken retrieves a refresh token. Expiry is the caller's concern.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_refresh_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_refresh_token", &err, time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return &rt, nil
}

// ConsumeRefreshToken atomically checks a refresh token and removes it along
// with its paired access token.
//
// SECURITY: Only ONE concurrent caller can consume a given refresh token.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string, now time.Time, check storage.RefreshCheck) (_ *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "consume_refresh_token", &err, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}

	if isExpired(rt.ExpiresAt, now) {
		s.deletePairByRefreshLocked(token)
		s.syncCountsLocked()
		return nil, storage.ErrTokenExpired
	}

	if check != nil {
		c := rt
		if err := check(&c); err != nil {
			return nil, err
		}
	}

	s.deletePairByRefreshLocked(token)
	s.syncCountsLocked()

	s.logger.Debug("Consumed refresh token",
		"client_id", rt.ClientID,
		"token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	return &rt, nil
}

// RevokeRefreshToken removes a refresh token and its paired access token
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[token]; !ok {
		return false, nil
	}
	s.deletePairByRefreshLocked(token)
	s.syncCountsLocked()
	return true, nil
}

// RevokeAccessToken removes an access token and its paired refresh token
func (s *Store) RevokeAccessToken(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.accessTokens[token]
	if !ok {
		return false, nil
	}
	delete(s.accessTokens, token)
	if at.RefreshToken != "" {
		delete(s.refreshTokens, at.RefreshToken)
	}
	s.syncCountsLocked()
	return true, nil
}

// deletePairByRefreshLocked removes a refresh token and its paired access token.
// Caller must hold s.mu.
func (s *Store) deletePairByRefreshLocked(token string) {
	rt, ok := s.refreshTokens[token]
	if !ok {
		return
	}
	delete(s.refreshTokens, token)
	if rt.AccessToken != "" {
		delete(s.accessTokens, rt.AccessToken)
	}
}

// deleteAccessLocked removes an access token and clears the back-link on its
// refresh token. Caller must hold s.mu.
func (s *Store) deleteAccessLocked(token string) {
	at, ok := s.accessTokens[token]
	if !ok {
		return
	}
	delete(s.accessTokens, token)
	if rt, ok := s.refreshTokens[at.RefreshToken]; ok && rt.AccessToken == token {
		rt.AccessToken = ""
		s.refreshTokens[at.RefreshToken] = rt
	}
}

// ============================================================
// Sweep
// ============================================================

// Sweep removes every code and token that is expired at now.
func (s *Store) Sweep(ctx context.Context, now time.Time) (result storage.SweepResult, err error) {
	ctx, span := s.startStorageSpan(ctx, "sweep")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "sweep", &err, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	for code, authCode := range s.codes {
		if isExpired(authCode.ExpiresAt, now) {
			delete(s.codes, code)
			result.Codes++
		}
	}

	for token, rt := range s.refreshTokens {
		if isExpired(rt.ExpiresAt, now) {
			delete(s.refreshTokens, token)
			result.RefreshTokens++
			if at, ok := s.accessTokens[rt.AccessToken]; ok && at.RefreshToken == token {
				at.RefreshToken = ""
				s.accessTokens[rt.AccessToken] = at
			}
		}
	}

	for token, at := range s.accessTokens {
		if isExpired(at.ExpiresAt, now) {
			s.deleteAccessLocked(token)
			result.AccessTokens++
		}
	}

	s.syncCountsLocked()

	if result.Total() > 0 {
		s.logger.Debug("Swept expired records",
			"codes", result.Codes,
			"access_tokens", result.AccessTokens,
			"refresh_tokens", result.RefreshTokens)
	}
	return result, nil
}

// ============================================================
// Helpers
// ============================================================

func cloneClient(c *storage.Client) storage.Client {
	out := *c
	out.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	out.GrantTypes = append([]string(nil), c.GrantTypes...)
	out.ResponseTypes = append([]string(nil), c.ResponseTypes...)
	return out
}

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(attribute.String(instrumentation.AttrStorageOperation, operation)))
}

// recordStorageOperation records metrics for a storage operation and sets span status.
// errp points at the operation's named error result so it can be used with defer.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, errp *error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err := *errp; err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
