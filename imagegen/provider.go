// Package imagegen orchestrates background-image generation for lyric
// slides.
//
// provider.go defines the Provider interface every image backend implements,
// along with the normalized request and result shapes. The coordinator only
// speaks these types; adding a provider never touches the orchestration
// path.
package imagegen

import (
	"context"
	"strings"
)

// GenerateParams is the provider-agnostic request shape. Each adapter maps
// these onto its provider's own vocabulary (size enums, aspect ratios,
// quality knobs).
type GenerateParams struct {
	// Prompt is the full natural-language instruction. Never empty by the
	// time it reaches a provider.
	Prompt string

	// Model is the provider model identifier. Empty selects the adapter's
	// default.
	Model string

	// Size is the requested image size as "WIDTHxHEIGHT" or one of the
	// orientation shorthands "square", "landscape", "portrait".
	Size string

	// Quality and Style are optional provider knobs; adapters ignore values
	// their provider does not support.
	Quality string
	Style   string
}

// ProviderResult is the normalized response every adapter produces
// regardless of the wire format of the underlying API.
type ProviderResult struct {
	// ImageBytes is the generated image. Always non-empty on success.
	ImageBytes []byte

	// MIMEType is the image content type (e.g., "image/png").
	MIMEType string

	// Model is the model that actually served the request.
	Model string

	// RevisedPrompt is the provider's rewritten prompt, when reported.
	RevisedPrompt string
}

// Provider is the interface for image generation backends.
//
// Generate must honor ctx: return a Cancelled error without calling the
// network when ctx is already done, and abort the in-flight HTTP request on
// mid-call cancellation. Expected failures (auth, rate limit, bad response,
// network) are returned as *core.GenError values.
type Provider interface {
	// Name returns the stable provider identifier ("openai", "stability").
	Name() string

	// DefaultModel returns the model the adapter uses when a request does
	// not name one. The coordinator resolves this before consulting the
	// cache so that cache keys never carry an empty model.
	DefaultModel() string

	// Generate creates one image from the given params.
	Generate(ctx context.Context, params GenerateParams) (*ProviderResult, error)

	// CheckAPIKey verifies a candidate API key against the provider with a
	// cheap authenticated call. A nil return means the key is usable.
	CheckAPIKey(ctx context.Context, apiKey string) error
}

// orientationSize resolves the "square"/"landscape"/"portrait" shorthands
// against a provider's allowed size list. Returns ok=false for anything
// else.
func orientationSize(size string, square, landscape, portrait string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(size)) {
	case "", "square":
		return square, true
	case "landscape":
		return landscape, true
	case "portrait":
		return portrait, true
	default:
		return "", false
	}
}

// truncateText shortens a string for log output.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
