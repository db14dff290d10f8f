package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

// Server implements the authorization server logic: client registry,
// authorization codes, token issuance, validation and refresh rotation.
// It is transport-agnostic; the root oauth package exposes it over HTTP.
type Server struct {
	clientStore storage.ClientStore
	codeStore   storage.CodeStore
	tokenStore  storage.TokenStore

	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // IP-based rate limiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer  trace.Tracer
	metrics *instrumentation.Metrics
	now     func() time.Time
}

// New creates a new OAuth server and seeds the configured default client.
func New(
	clientStore storage.ClientStore,
	codeStore storage.CodeStore,
	tokenStore storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codeStore == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		clientStore: clientStore,
		codeStore:   codeStore,
		tokenStore:  tokenStore,
		Config:      config,
		Logger:      logger,
		tracer:      noop.NewTracerProvider().Tracer("server"),
		now:         time.Now,
	}

	if err := srv.seedDefaultClient(context.Background()); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation sets the tracer and metrics used by every operation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst == nil {
		s.tracer = noop.NewTracerProvider().Tracer("server")
		s.metrics = nil
		return
	}
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
}

// SetClock replaces the time source. Intended for tests.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the server's current time.
func (s *Server) Now() time.Time {
	return s.now()
}

// expiryReference is the instant stores compare expiries against, shifted
// back by the configured clock-skew grace period.
func (s *Server) expiryReference() time.Time {
	return security.ExpiryReference(s.now(), s.Config.clockSkewGrace())
}

func (s *Server) seedDefaultClient(ctx context.Context) error {
	dc := s.Config.DefaultClient
	if dc.ClientID == "" {
		return nil
	}

	client := &storage.Client{
		ClientID:                dc.ClientID,
		ClientName:              dc.ClientName,
		RedirectURIs:            dc.RedirectURIs,
		GrantTypes:              []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeClientCredentials},
		ResponseTypes:           []string{ResponseTypeCode},
		TokenEndpointAuthMethod: AuthMethodClientSecretBasic,
		CreatedAt:               s.now(),
	}
	if dc.ClientSecret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(dc.ClientSecret), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash default client secret: %w", err)
		}
		client.ClientSecretHash = string(hash)
	} else {
		client.TokenEndpointAuthMethod = AuthMethodNone
		client.GrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		if errors.Is(err, storage.ErrClientExists) {
			return nil
		}
		return fmt.Errorf("failed to seed default client: %w", err)
	}

	s.Logger.Info("Seeded default client",
		"client_id", client.ClientID,
		"redirect_uris", len(client.RedirectURIs))
	return nil
}

// startSpan starts a span named operation on the server tracer.
func (s *Server) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "server."+operation)
}

// audit writes an audit event, filling the client IP and request ID from ctx.
func (s *Server) audit(ctx context.Context, eventType, clientID string, details map[string]any) {
	s.Auditor.LogEvent(security.Event{
		Type:      eventType,
		ClientID:  clientID,
		IPAddress: security.ClientIPFromContext(ctx),
		RequestID: security.GetRequestID(ctx),
		Details:   details,
	})
}

// generateRandomToken returns 32 bytes of crypto/rand output encoded as
// unpadded base64url, suitable for codes, tokens and client secrets.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
