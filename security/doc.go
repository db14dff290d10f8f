// Package security provides the protective layers around the OAuth endpoints:
// per-IP rate limiting, client IP extraction behind proxies, request IDs,
// security response headers, clock-skew aware expiry checks and the
// security audit log.
//
// # Rate Limiting
//
// RateLimiter keeps one token bucket (golang.org/x/time/rate) per identifier,
// usually the client IP. The number of tracked identifiers is bounded: when
// MaxEntries is reached the least recently used bucket is evicted, and a
// background loop drops buckets idle for longer than IdleTimeout.
//
//	limiter := security.NewRateLimiter(security.RateLimiterConfig{
//	    RequestsPerSecond: 10,
//	    Burst:             20,
//	}, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // 429
//	}
//
// # Audit Logging
//
// Auditor writes "security_audit" records through slog. Credentials never
// appear in audit records; when a token must be correlated across events
// only a short SHA-256 fingerprint is logged.
package security
