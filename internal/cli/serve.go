package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	oauth "github.com/giantswarm/mcp-authserver"
	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/config"
	"github.com/giantswarm/mcp-authserver/storage/memory"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		issuer     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			// Flags override file and environment
			if listenAddr != "" {
				cfg.HTTP.ListenAddr = listenAddr
			}
			if issuer != "" {
				cfg.OAuth.Issuer = issuer
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file (default $CONFIG_PATH)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on, overrides LISTEN_ADDR")
	cmd.Flags().StringVar(&issuer, "issuer", "", "Issuer URL, overrides ISSUER")
	return cmd
}

// runServe serves until ctx is cancelled, then shuts down gracefully.
func runServe(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger := cfg.NewLogger(logOut)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    instrumentation.DefaultServiceName,
		ServiceVersion: Version,
		Enabled:        cfg.Metrics.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	store := memory.New()
	store.SetLogger(logger)
	store.SetInstrumentation(inst)

	as, err := oauth.New(store, cfg.AuthServerConfig(logger, inst))
	if err != nil {
		return err
	}
	defer as.Close()
	as.Start()

	srv := &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		Handler:      buildMux(as, inst, cfg.Metrics.Enabled),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting authorization server",
			"addr", srv.Addr,
			"issuer", as.Server.Config.Issuer,
			"version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// buildMux mounts the OAuth endpoints, the protected MCP endpoint and the
// operational endpoints.
func buildMux(as *oauth.AuthServer, inst *instrumentation.Instrumentation, metricsEnabled bool) *http.ServeMux {
	mux := as.Routes()
	mux.Handle("/mcp", as.Handler.ValidateToken(newMCPHandler(Version)))
	mux.HandleFunc("/healthz", healthHandler)
	if metricsEnabled {
		mux.Handle("/metrics", inst.MetricsHandler())
	}
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Debug("Failed to write health response", "error", err)
	}
}
