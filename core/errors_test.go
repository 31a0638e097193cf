package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// timeoutErr implements net.Error for testing network classification.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// TestGenError_Error tests the display format with and without a provider.
func TestGenError_Error(t *testing.T) {
	withProvider := NewGenError(KindAuthError, "openai", "invalid API key", nil)
	if withProvider.Error() != "openai: invalid API key" {
		t.Errorf("unexpected message: %s", withProvider.Error())
	}

	withoutProvider := NewGenError(KindCacheIO, "", "cache directory unreadable", nil)
	if withoutProvider.Error() != "cache directory unreadable" {
		t.Errorf("unexpected message: %s", withoutProvider.Error())
	}
}

// TestGenError_Unwrap tests that errors.Is sees the wrapped cause.
func TestGenError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewGenError(KindNetworkError, "stability", "connection failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

// TestClassifyErr tests the mapping from raw errors onto the taxonomy.
func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want GenErrorKind
	}{
		{"context cancelled", context.Canceled, KindCancelled},
		{"deadline exceeded", context.DeadlineExceeded, KindNetworkError},
		{"wrapped cancellation", fmt.Errorf("call failed: %w", context.Canceled), KindCancelled},
		{"net timeout", timeoutErr{}, KindNetworkError},
		{"unknown error", errors.New("garbled payload"), KindInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyErr(tt.err, "openai")
			if got.Kind != tt.want {
				t.Errorf("expected kind %s, got %s", tt.want, got.Kind)
			}
			if got.Provider != "openai" {
				t.Errorf("expected provider openai, got %s", got.Provider)
			}
		})
	}
}

// TestAsGenError_PassThrough tests that an existing GenError survives unwrapped.
func TestAsGenError_PassThrough(t *testing.T) {
	orig := ErrMissingAPIKey("stability")
	wrapped := fmt.Errorf("generate: %w", orig)

	got := AsGenError(wrapped, "ignored")
	if got != orig {
		t.Error("expected the original GenError to be returned")
	}
}

// TestAsGenError_Nil tests that nil input yields nil.
func TestAsGenError_Nil(t *testing.T) {
	if AsGenError(nil, "openai") != nil {
		t.Error("expected nil for nil error")
	}
}

// TestIsKind tests kind matching through wrapping.
func TestIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrUnsupportedProvider("dalle9000"))

	if !IsKind(err, KindUnsupportedProvider) {
		t.Error("expected IsKind to match through wrapping")
	}
	if IsKind(err, KindRateLimited) {
		t.Error("expected IsKind to reject a different kind")
	}
}
