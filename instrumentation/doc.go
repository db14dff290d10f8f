// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// When enabled, meters are backed by the SDK meter provider and exported in
// Prometheus format through MetricsHandler; tracers come from the SDK tracer
// provider. When disabled, no-op providers are used and every recording call
// is effectively free.
//
// Instruments are grouped by layer:
//   - http: request counts and durations per endpoint
//   - server: registrations, codes, token issuance, rotation, validation
//   - security: rate limiting and PKCE failures
//   - storage: operation counts, durations, sweep removals and store sizes
//
// Example usage:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//	    ServiceName:    "mcp-authserver",
//	    ServiceVersion: "1.0.0",
//	    Enabled:        true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.MetricsHandler())
package instrumentation
