package instrumentation

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server.
// All Record methods are nil-safe.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Authorization server flows
	ClientsRegistered metric.Int64Counter
	CodesIssued       metric.Int64Counter
	CodesRedeemed     metric.Int64Counter
	TokensIssued      metric.Int64Counter
	TokensRefreshed   metric.Int64Counter
	TokensRevoked     metric.Int64Counter
	TokenValidations  metric.Int64Counter

	// Security
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter

	// Storage
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	SweepRemoved              metric.Int64Counter
	StorageClientsCount       metric.Int64ObservableGauge
	StorageCodesCount         metric.Int64ObservableGauge
	StorageAccessTokensCount  metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
}

type counterSpec struct {
	dst   *metric.Int64Counter
	name  string
	desc  string
	unit  string
	meter metric.Meter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, "oauth.http.requests.total", "Total number of HTTP requests", "{request}", httpMeter},
		{&m.ClientsRegistered, "oauth.client.registered", "Number of clients registered", "{client}", serverMeter},
		{&m.CodesIssued, "oauth.code.issued", "Number of authorization codes issued", "{code}", serverMeter},
		{&m.CodesRedeemed, "oauth.code.redeemed", "Number of authorization code redemption attempts", "{attempt}", serverMeter},
		{&m.TokensIssued, "oauth.token.issued", "Number of token pairs issued", "{pair}", serverMeter},
		{&m.TokensRefreshed, "oauth.token.refreshed", "Number of refresh token rotations", "{refresh}", serverMeter},
		{&m.TokensRevoked, "oauth.token.revoked", "Number of token pairs revoked", "{revocation}", serverMeter},
		{&m.TokenValidations, "oauth.token.validations", "Number of access token validations", "{validation}", serverMeter},
		{&m.RateLimitExceeded, "oauth.ratelimit.exceeded", "Number of requests rejected by rate limiting", "{request}", securityMeter},
		{&m.PKCEValidationFailed, "oauth.pkce.validation_failed", "Number of failed PKCE verifications", "{failure}", securityMeter},
		{&m.StorageOperationTotal, "oauth.storage.operations.total", "Total number of storage operations", "{operation}", storageMeter},
		{&m.SweepRemoved, "oauth.storage.sweep.removed", "Number of expired records removed by the sweeper", "{record}", storageMeter},
	}

	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []struct {
		dst  *metric.Int64ObservableGauge
		name string
		desc string
	}{
		{&m.StorageClientsCount, "oauth.storage.clients.count", "Number of registered clients"},
		{&m.StorageCodesCount, "oauth.storage.codes.count", "Number of outstanding authorization codes"},
		{&m.StorageAccessTokensCount, "oauth.storage.access_tokens.count", "Number of stored access tokens"},
		{&m.StorageRefreshTokensCount, "oauth.storage.refresh_tokens.count", "Number of stored refresh tokens"},
	}
	for _, g := range gauges {
		gauge, err := storageMeter.Int64ObservableGauge(g.name, metric.WithDescription(g.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
		*g.dst = gauge
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.String("status", strconv.Itoa(statusCode)),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, authMethod string) {
	if m == nil {
		return
	}
	m.ClientsRegistered.Add(ctx, 1, metric.WithAttributes(attribute.String("auth_method", authMethod)))
}

// RecordCodeIssued records an authorization code being issued
func (m *Metrics) RecordCodeIssued(ctx context.Context, pkceMethod string) {
	if m == nil {
		return
	}
	if pkceMethod == "" {
		pkceMethod = "none"
	}
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("pkce_method", pkceMethod)))
}

// RecordCodeRedemption records an authorization code redemption attempt
func (m *Metrics) RecordCodeRedemption(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.CodesRedeemed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordTokenIssued records a token pair being minted
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("grant_type", grantType)))
}

// RecordTokenRefresh records a refresh token rotation attempt
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.TokensRefreshed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordTokenRevocation records a token pair revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, tokenType string) {
	if m == nil {
		return
	}
	m.TokensRevoked.Add(ctx, 1, metric.WithAttributes(attribute.String("token_type", tokenType)))
}

// RecordTokenValidation records the outcome of an access token validation
func (m *Metrics) RecordTokenValidation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.TokenValidations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}

// RecordSweep records the records removed by one sweep pass
func (m *Metrics) RecordSweep(ctx context.Context, codes, accessTokens, refreshTokens int) {
	if m == nil {
		return
	}
	m.SweepRemoved.Add(ctx, int64(codes), metric.WithAttributes(attribute.String("kind", "code")))
	m.SweepRemoved.Add(ctx, int64(accessTokens), metric.WithAttributes(attribute.String("kind", "access_token")))
	m.SweepRemoved.Add(ctx, int64(refreshTokens), metric.WithAttributes(attribute.String("kind", "refresh_token")))
}
