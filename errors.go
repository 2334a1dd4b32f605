package authkit

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for local (non-HTTP) failure modes.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrRefreshInFlight  = errors.New("refresh already in progress")
	ErrSessionExpired   = errors.New("session expired")
)

// NetworkError means the request never reached the server or no response
// arrived. It is retryable and must never tear down session state.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network request failed: %v", e.Err)
	}
	return "network request failed"
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthenticationError is a 401-class rejection: the credential or token was
// not accepted. It triggers the refresh-and-retry path once; surfacing it to
// a caller means the session has been torn down.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return "authentication failed"
	}
	return e.Message
}

// AuthorizationError is a 403: authenticated but insufficiently privileged.
// Never retried.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	if e.Message == "" {
		return "insufficient permissions"
	}
	return e.Message
}

// ValidationError is a 400/422, or a response payload that failed schema
// validation client-side. Never retried. Fields carries field-level detail
// when the server (or validator) provided it.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return "request validation failed"
	}
	return e.Message
}

// RateLimitError is a 429. RetryAfter is zero when the server sent no hint.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return "rate limit exceeded"
	}
	return e.Message
}

// ServerError is a 5xx, surfaced as-is and eligible for caller-driven retry.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (status %d)", e.Status)
	}
	return e.Message
}

// IsRetryable reports whether an error may be retried by the backoff helper.
// Authentication, authorization and validation failures are permanent; rate
// limits are left to the caller's discretion and excluded here too.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		authn *AuthenticationError
		authz *AuthorizationError
		val   *ValidationError
		rate  *RateLimitError
	)
	if errors.As(err, &authn) || errors.As(err, &authz) || errors.As(err, &val) || errors.As(err, &rate) {
		return false
	}
	return true
}
