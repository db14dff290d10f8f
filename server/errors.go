package server

import (
	"errors"
	"fmt"
)

// OAuth error codes returned by the business layer (RFC 6749, RFC 7591, RFC 8707)
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidTarget           = "invalid_target"
	ErrorCodeInvalidClientMetadata   = "invalid_client_metadata"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeServerError             = "server_error"
)

// Error is a failure the HTTP layer reports to the caller as an OAuth error
// body. Description is safe to disclose.
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches another *Error with the same code and description, so the
// package-level reason errors below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Description == e.Description
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// AsError extracts the *Error from err. Anything else becomes server_error.
func AsError(err error) *Error {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr
	}
	return &Error{Code: ErrorCodeServerError, Description: "internal server error"}
}

// Authorization code grant failures, in the order they are checked.
var (
	ErrCodeNotFound        = &Error{ErrorCodeInvalidGrant, "code not found"}
	ErrCodeExpired         = &Error{ErrorCodeInvalidGrant, "code expired"}
	ErrClientMismatch      = &Error{ErrorCodeInvalidGrant, "client mismatch"}
	ErrRedirectMismatch    = &Error{ErrorCodeInvalidGrant, "redirect mismatch"}
	ErrInvalidCodeVerifier = &Error{ErrorCodeInvalidGrant, "invalid code verifier"}
	ErrResourceMismatch    = &Error{ErrorCodeInvalidGrant, "resource mismatch"}
)

// Refresh token failures
var (
	ErrRefreshTokenNotFound = &Error{ErrorCodeInvalidGrant, "token not found"}
	ErrRefreshTokenExpired  = &Error{ErrorCodeInvalidGrant, "token expired"}
)

// Access token validation failures
var (
	ErrAccessTokenNotFound = &Error{ErrorCodeInvalidToken, "token not found"}
	ErrAccessTokenExpired  = &Error{ErrorCodeInvalidToken, "token expired"}
	ErrAudienceMismatch    = &Error{ErrorCodeInvalidToken, "token not issued for this resource"}
)

// Client failures
var (
	ErrUnknownClient      = &Error{ErrorCodeInvalidClient, "unknown client"}
	ErrInvalidClientCreds = &Error{ErrorCodeInvalidClient, "invalid client credentials"}
)
