// Package config loads the authserver binary configuration from a YAML file
// and the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	oauth "github.com/giantswarm/mcp-authserver"
	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/server"
)

// Config is the complete binary configuration.
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	OAuth         OAuthConfig         `yaml:"oauth"`
	DefaultClient DefaultClientConfig `yaml:"default_client"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Log           LogConfig           `yaml:"log"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// HTTPConfig holds the listener address and http.Server timeouts.
type HTTPConfig struct {
	ListenAddr      string        `yaml:"listen_addr" env:"LISTEN_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// OAuthConfig holds issuer, token lifetime and client policy settings.
type OAuthConfig struct {
	Issuer   string `yaml:"issuer" env:"ISSUER" env-default:"http://localhost:8080"`
	Resource string `yaml:"resource" env:"RESOURCE"`

	AuthorizationCodeTTL time.Duration `yaml:"authorization_code_ttl" env:"AUTHORIZATION_CODE_TTL" env-default:"10m"`
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"1h"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"720h"`
	ClockSkewGracePeriod time.Duration `yaml:"clock_skew_grace_period" env:"CLOCK_SKEW_GRACE_PERIOD" env-default:"0s"`
	SweepInterval        time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"1m"`

	RequirePKCE                bool     `yaml:"require_pkce" env:"REQUIRE_PKCE"`
	AllowPKCEPlain             bool     `yaml:"allow_pkce_plain" env:"ALLOW_PKCE_PLAIN"`
	AllowInsecureHTTPRedirects bool     `yaml:"allow_insecure_http_redirects" env:"ALLOW_INSECURE_HTTP_REDIRECTS"`
	DisableAudienceCheck       bool     `yaml:"disable_audience_check" env:"DISABLE_AUDIENCE_CHECK"`
	SupportedScopes            []string `yaml:"supported_scopes" env:"SUPPORTED_SCOPES" env-separator:","`

	RegistrationAccessToken string `yaml:"registration_access_token" env:"REGISTRATION_ACCESS_TOKEN"`
	MaxClientsPerIP         int    `yaml:"max_clients_per_ip" env:"MAX_CLIENTS_PER_IP" env-default:"10"`

	TrustProxy         bool `yaml:"trust_proxy" env:"TRUST_PROXY"`
	TrustedProxyCount  int  `yaml:"trusted_proxy_count" env:"TRUSTED_PROXY_COUNT" env-default:"1"`
	EnableAuditLogging bool `yaml:"enable_audit_logging" env:"ENABLE_AUDIT_LOGGING" env-default:"true"`
}

// DefaultClientConfig describes a client seeded at startup. Empty ClientID
// disables it.
type DefaultClientConfig struct {
	ClientID     string   `yaml:"client_id" env:"DEFAULT_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"DEFAULT_CLIENT_SECRET"`
	ClientName   string   `yaml:"client_name" env:"DEFAULT_CLIENT_NAME"`
	RedirectURIs []string `yaml:"redirect_uris" env:"DEFAULT_CLIENT_REDIRECT_URIS" env-separator:","`
}

// RateLimitConfig configures per-IP request rate limiting.
type RateLimitConfig struct {
	// Rate is requests per second per client IP; 0 disables limiting.
	Rate       float64 `yaml:"rate" env:"RATE_LIMIT_RATE" env-default:"10"`
	Burst      int     `yaml:"burst" env:"RATE_LIMIT_BURST" env-default:"20"`
	MaxEntries int     `yaml:"max_entries" env:"RATE_LIMIT_MAX_ENTRIES" env-default:"10000"`
}

// LogConfig selects the slog level and output format.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// MetricsConfig toggles the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
}

// Load reads configuration from path, if non-empty, and then from the
// environment. Environment variables win over file values.
func Load(path string) (*Config, error) {
	var cfg Config

	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cleanenv cannot express as tags.
func (c *Config) Validate() error {
	u, err := url.Parse(c.OAuth.Issuer)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL, got %q", c.OAuth.Issuer)
	}
	if c.DefaultClient.ClientID == "" && (c.DefaultClient.ClientSecret != "" || len(c.DefaultClient.RedirectURIs) > 0) {
		return fmt.Errorf("default client settings require DEFAULT_CLIENT_ID")
	}
	if c.RateLimit.Rate < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Usage writes the environment variable reference to w.
func Usage(w io.Writer) error {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, text)
	return err
}

// NewLogger builds the process logger.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(c.Log.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// AuthServerConfig converts the binary configuration into library options.
func (c *Config) AuthServerConfig(logger *slog.Logger, inst *instrumentation.Instrumentation) *oauth.Config {
	o := c.OAuth
	return &oauth.Config{
		Server: server.Config{
			Issuer:                     o.Issuer,
			Resource:                   o.Resource,
			AuthorizationCodeTTL:       seconds(o.AuthorizationCodeTTL),
			AccessTokenTTL:             seconds(o.AccessTokenTTL),
			RefreshTokenTTL:            seconds(o.RefreshTokenTTL),
			ClockSkewGracePeriod:       seconds(o.ClockSkewGracePeriod),
			RequirePKCE:                o.RequirePKCE,
			AllowPKCEPlain:             o.AllowPKCEPlain,
			AllowInsecureHTTPRedirects: o.AllowInsecureHTTPRedirects,
			MaxClientsPerIP:            o.MaxClientsPerIP,
			RegistrationAccessToken:    o.RegistrationAccessToken,
			TrustProxy:                 o.TrustProxy,
			TrustedProxyCount:          o.TrustedProxyCount,
			DisableAudienceCheck:       o.DisableAudienceCheck,
			SupportedScopes:            o.SupportedScopes,
			DefaultClient: server.DefaultClientConfig{
				ClientID:     c.DefaultClient.ClientID,
				ClientSecret: c.DefaultClient.ClientSecret,
				ClientName:   c.DefaultClient.ClientName,
				RedirectURIs: c.DefaultClient.RedirectURIs,
			},
		},
		RateLimit: oauth.RateLimitConfig{
			Rate:       c.RateLimit.Rate,
			Burst:      c.RateLimit.Burst,
			MaxEntries: c.RateLimit.MaxEntries,
		},
		Security: oauth.SecurityConfig{
			EnableAuditLogging: o.EnableAuditLogging,
		},
		SweepInterval:   o.SweepInterval,
		Instrumentation: inst,
		Logger:          logger,
	}
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
