package server

import (
	"log/slog"
	"time"
)

// Default lifetimes in seconds
const (
	DefaultAuthorizationCodeTTL = 600     // 10 minutes
	DefaultAccessTokenTTL       = 3600    // 1 hour
	DefaultRefreshTokenTTL      = 2592000 // 30 days
	DefaultMaxClientsPerIP      = 10
)

// Config holds OAuth server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// Resource is the identifier of the protected resource this server guards
	// (RFC 8707 / RFC 9728). Default: Issuer
	Resource string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// ClockSkewGracePeriod extends every expiry check by this many seconds.
	// Default: 0 (a token expiring exactly now is expired)
	ClockSkewGracePeriod int64

	// RequirePKCE makes code_challenge mandatory on authorization requests.
	// Default: false, so clients that cannot do PKCE can still connect;
	// a code issued with a challenge always requires the verifier.
	RequirePKCE bool

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// Default: false (S256 only)
	AllowPKCEPlain bool

	// AllowInsecureHTTPRedirects allows http:// redirect URIs on non-loopback hosts.
	// Default: false (http is accepted only for localhost, 127.0.0.0/8 and ::1)
	AllowInsecureHTTPRedirects bool

	// MaxClientsPerIP limits client registrations per IP address.
	// Default: 10. Negative disables the limit.
	MaxClientsPerIP int

	// RegistrationAccessToken, when set, must be presented as a Bearer token
	// on POST /oauth/register. Empty means open dynamic registration.
	RegistrationAccessToken string

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Default: 1
	TrustedProxyCount int

	// DisableAudienceCheck turns off the resource check at token validation.
	// Default: false (tokens bound to another resource are rejected)
	DisableAudienceCheck bool

	// SupportedScopes lists the scopes clients may request.
	// If empty, any scope is accepted.
	SupportedScopes []string

	// DefaultClient is seeded into the client store at startup when ClientID is set
	DefaultClient DefaultClientConfig
}

// DefaultClientConfig describes the statically configured client.
type DefaultClientConfig struct {
	ClientID     string
	ClientSecret string
	ClientName   string
	RedirectURIs []string
}

// applySecureDefaults fills zero values and logs warnings for risky settings
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)

	if config.Resource == "" {
		config.Resource = config.Issuer
	}
	if config.MaxClientsPerIP == 0 {
		config.MaxClientsPerIP = DefaultMaxClientsPerIP
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.DefaultClient.ClientID != "" && config.DefaultClient.ClientName == "" {
		config.DefaultClient.ClientName = "Default Client"
	}

	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.ClockSkewGracePeriod < 0 {
		config.ClockSkewGracePeriod = 0
	}
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("SECURITY WARNING: PKCE is optional",
			"risk", "Authorization code interception for clients that omit code_challenge",
			"recommendation", "Set RequirePKCE=true for OAuth 2.1 compliance")
	}
	if config.AllowPKCEPlain {
		logger.Warn("SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256")
	}
	if config.AllowInsecureHTTPRedirects {
		logger.Warn("SECURITY WARNING: http redirect URIs allowed on any host",
			"risk", "Authorization codes sent in clear text")
	}
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"trusted_proxy_count", config.TrustedProxyCount)
	}
	if config.RegistrationAccessToken == "" {
		logger.Info("Dynamic client registration is open",
			"max_clients_per_ip", config.MaxClientsPerIP)
	}
	if config.DisableAudienceCheck {
		logger.Warn("SECURITY WARNING: Resource audience check disabled",
			"risk", "Tokens issued for other resources are accepted")
	}
	if config.DefaultClient.ClientID != "" && config.DefaultClient.ClientSecret == "" {
		logger.Warn("Default client has no secret; it can only use PKCE-protected grants",
			"client_id", config.DefaultClient.ClientID)
	}
}

func (c *Config) authorizationCodeTTL() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

func (c *Config) accessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

func (c *Config) refreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

func (c *Config) clockSkewGrace() time.Duration {
	return time.Duration(c.ClockSkewGracePeriod) * time.Second
}
