package storage

import "errors"

// Sentinel errors returned by store implementations. Callers match them with
// errors.Is; implementations wrap them with the offending key.
var (
	ErrClientNotFound      = errors.New("client not found")
	ErrClientExists        = errors.New("client already exists")
	ErrClientLimitExceeded = errors.New("client registration limit exceeded")
	ErrCodeNotFound        = errors.New("code not found")
	ErrCodeExpired         = errors.New("code expired")
	ErrTokenNotFound       = errors.New("token not found")
	ErrTokenExpired        = errors.New("token expired")
)
