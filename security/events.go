package security

// Audit event types.
const (
	// Client registration
	EventClientRegistered           = "client_registered"
	EventClientRegistrationRejected = "client_registration_rejected"

	// Authorization codes
	EventAuthorizationCodeIssued   = "authorization_code_issued"
	EventAuthorizationCodeRejected = "authorization_code_rejected"

	// Tokens
	EventTokenIssued          = "token_issued"
	EventTokenRefreshed       = "token_refreshed"
	EventTokenRevoked         = "token_revoked"
	EventRefreshTokenRejected = "refresh_token_rejected" //nolint:gosec // event name, not a credential

	// Violations
	EventAuthFailure           = "auth_failure"
	EventRateLimitExceeded     = "rate_limit_exceeded"
	EventPKCEValidationFailed  = "pkce_validation_failed"
	EventResourceMismatch      = "resource_mismatch"
	EventInvalidTokenPresented = "invalid_token_presented" //nolint:gosec // event name, not a credential
)
