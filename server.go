package oauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/storage"
)

// AuthServer assembles the OAuth server, its HTTP handler and the background
// sweeper around a single store.
type AuthServer struct {
	Server  *server.Server
	Handler *Handler
	Sweeper *server.Sweeper

	rateLimiter *security.RateLimiter
	closeOnce   sync.Once
}

// New creates an authorization server backed by store. The sweeper is not
// started; call Start once the server is ready to serve.
func New(store storage.Store, cfg *Config) (*AuthServer, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()
	logger := cfg.Logger

	srvConfig := cfg.Server
	srv, err := server.New(store, store, store, &srvConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	if cfg.Instrumentation != nil {
		srv.SetInstrumentation(cfg.Instrumentation)
	}
	srv.SetAuditor(security.NewAuditor(logger, cfg.Security.EnableAuditLogging))

	as := &AuthServer{Server: srv}

	if cfg.RateLimit.Rate > 0 {
		as.rateLimiter = security.NewRateLimiter(security.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.Rate,
			Burst:             cfg.RateLimit.Burst,
			MaxEntries:        cfg.RateLimit.MaxEntries,
			CleanupInterval:   cfg.RateLimit.CleanupInterval,
		}, logger)
		srv.SetRateLimiter(as.rateLimiter)
	} else {
		logger.Warn("Rate limiting is disabled")
	}

	as.Sweeper = server.NewSweeper(store, cfg.SweepInterval, logger)
	as.Sweeper.SetGracePeriod(time.Duration(srv.Config.ClockSkewGracePeriod) * time.Second)
	if srv.Instrumentation != nil {
		as.Sweeper.SetMetrics(srv.Instrumentation.Metrics())
	}

	as.Handler = NewHandler(srv, logger)
	return as, nil
}

// Routes returns a mux with every OAuth endpoint registered. Callers may add
// their own protected routes wrapped with Handler.ValidateToken.
func (as *AuthServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	as.Handler.RegisterRoutes(mux)
	return mux
}

// Start runs the background sweeper and logs the clients known at startup.
func (as *AuthServer) Start() {
	as.Sweeper.Start()

	clients, err := as.Server.ListClients(context.Background())
	if err != nil {
		as.Server.Logger.Warn("Failed to list clients", "error", err)
		return
	}
	as.Server.Logger.Info("Authorization server started", "clients", len(clients))
	for _, c := range clients {
		as.Server.Logger.Debug("Registered client",
			"client_id", c.ClientID,
			"client_name", c.ClientName,
			"auth_method", c.TokenEndpointAuthMethod)
	}
}

// Close stops the sweeper and the rate limiter. Safe to call more than once.
func (as *AuthServer) Close() {
	as.closeOnce.Do(func() {
		as.Sweeper.Stop()
		if as.rateLimiter != nil {
			as.rateLimiter.Stop()
		}
	})
}
