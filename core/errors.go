package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// GenErrorKind classifies generation failures so callers can react
// programmatically (retry, re-prompt for a key, back off) while the Message
// stays suitable for direct display.
type GenErrorKind string

const (
	// KindMissingAPIKey indicates no API key is configured for the provider.
	KindMissingAPIKey GenErrorKind = "missing_api_key"

	// KindAuthError indicates the provider rejected the configured key.
	KindAuthError GenErrorKind = "auth_error"

	// KindRateLimited indicates the provider throttled the request.
	KindRateLimited GenErrorKind = "rate_limited"

	// KindInvalidResponse indicates the provider returned no usable image.
	KindInvalidResponse GenErrorKind = "invalid_response"

	// KindNetworkError covers timeouts and connection failures.
	KindNetworkError GenErrorKind = "network_error"

	// KindCancelled indicates the request was cancelled by the caller.
	KindCancelled GenErrorKind = "cancelled"

	// KindCacheIO indicates a cache filesystem failure. Reads degrade to a
	// cache miss and writes degrade to an uncached success, so this kind only
	// reaches callers through ClearCache and explicit index operations.
	KindCacheIO GenErrorKind = "cache_io"

	// KindUnsupportedProvider indicates an unknown provider name. This is a
	// programming error at the call site and the only kind surfaced eagerly.
	KindUnsupportedProvider GenErrorKind = "unsupported_provider"
)

// GenError is the structured failure result produced at the provider/cache
// boundary. Provider and network errors never bubble up as plain errors from
// the orchestration path; they are wrapped in a GenError and carried inside
// the request result.
type GenError struct {
	Kind     GenErrorKind // Classification for programmatic handling
	Provider string       // Provider that produced the error, if any
	Message  string       // Human-readable message suitable for display
	Err      error        // Underlying cause, if any
}

func (e *GenError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *GenError) Unwrap() error {
	return e.Err
}

// NewGenError creates a GenError with the given kind and display message.
func NewGenError(kind GenErrorKind, provider, message string, err error) *GenError {
	return &GenError{
		Kind:     kind,
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// ErrMissingAPIKey returns the canonical error for an unconfigured provider key.
func ErrMissingAPIKey(provider string) *GenError {
	return &GenError{
		Kind:     KindMissingAPIKey,
		Provider: provider,
		Message:  fmt.Sprintf("no API key configured for %s; set the provider key in settings", provider),
	}
}

// ErrUnsupportedProvider returns the canonical error for an unknown provider
// name. Callers pass provider names from a fixed set, so hitting this
// indicates a bug at the call site rather than a runtime condition.
func ErrUnsupportedProvider(provider string) *GenError {
	return &GenError{
		Kind:     KindUnsupportedProvider,
		Provider: provider,
		Message:  fmt.Sprintf("unsupported image provider %q", provider),
	}
}

// ErrCancelled returns the canonical cancellation error, wrapping the
// context error that triggered it. A nil cause defaults to
// context.Canceled.
func ErrCancelled(provider string, cause error) *GenError {
	if cause == nil {
		cause = context.Canceled
	}
	return &GenError{
		Kind:     KindCancelled,
		Provider: provider,
		Message:  "generation cancelled",
		Err:      cause,
	}
}

// AsGenError extracts a *GenError from an error chain. When err is not a
// GenError it is classified by ClassifyErr so callers always receive a
// structured result.
func AsGenError(err error, provider string) *GenError {
	if err == nil {
		return nil
	}
	var genErr *GenError
	if errors.As(err, &genErr) {
		return genErr
	}
	return ClassifyErr(err, provider)
}

// ClassifyErr maps a raw transport-level error onto the taxonomy. Context
// cancellation maps to Cancelled, deadline expiry and net errors map to
// NetworkError, everything else is treated as an invalid provider response.
func ClassifyErr(err error, provider string) *GenError {
	switch {
	case errors.Is(err, context.Canceled):
		return &GenError{Kind: KindCancelled, Provider: provider, Message: "generation cancelled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &GenError{Kind: KindNetworkError, Provider: provider, Message: "provider request timed out", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		msg := "provider connection failed"
		if netErr.Timeout() {
			msg = "provider request timed out"
		}
		return &GenError{Kind: KindNetworkError, Provider: provider, Message: msg, Err: err}
	}

	return &GenError{
		Kind:     KindInvalidResponse,
		Provider: provider,
		Message:  fmt.Sprintf("provider returned an unusable response: %v", err),
		Err:      err,
	}
}

// Process exit codes.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// IsKind reports whether err carries a GenError of the given kind.
func IsKind(err error, kind GenErrorKind) bool {
	var genErr *GenError
	if errors.As(err, &genErr) {
		return genErr.Kind == kind
	}
	return false
}
