// ABOUTME: Typed error hierarchy for provider failures with retryability baked in.
// ABOUTME: Every adapter error wraps a ProviderError so callers can branch on kind.

package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindRateLimit      ErrorKind = "rate_limit"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindContextLength  ErrorKind = "context_length"
	KindServer         ErrorKind = "server"
	KindTimeout        ErrorKind = "timeout"
	KindNetwork        ErrorKind = "network"
	KindConfiguration  ErrorKind = "configuration"
)

// ProviderError is the unified error type produced by provider adapters.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	RetryAfter *time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the same request may succeed.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}

// NewProviderError constructs a ProviderError.
func NewProviderError(kind ErrorKind, provider, message string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Message: message, Err: err}
}

// ErrorFromStatusCode maps an HTTP status to the matching error kind.
func ErrorFromStatusCode(provider string, status int, message string) *ProviderError {
	kind := KindServer
	switch {
	case status == 401 || status == 403:
		kind = KindAuthentication
	case status == 429:
		kind = KindRateLimit
	case status == 408:
		kind = KindTimeout
	case status == 413:
		kind = KindContextLength
	case status >= 400 && status < 500:
		kind = KindInvalidRequest
	}
	return &ProviderError{Kind: kind, Provider: provider, StatusCode: status, Message: message}
}

// IsRetryable reports whether err (or anything it wraps) is a retryable
// provider failure. Non-provider errors are treated as transient network
// failures and retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}

// RetryAfterHint extracts a server-suggested retry delay, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter != nil {
		return *pe.RetryAfter, true
	}
	return 0, false
}
