// openai_provider.go implements the Provider interface for OpenAI's image
// models (DALL-E 2, DALL-E 3, gpt-image-1).
//
// This adapter composes:
//   - core.Config: for API key and HTTP transport settings
//   - go-openai client: for API calls
//   - core.GenError: for the normalized error taxonomy
package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"lyricdeck/core"

	"github.com/sashabaranov/go-openai"
)

// ProviderOpenAI is the stable identifier for the OpenAI adapter.
const ProviderOpenAI = "openai"

// defaultOpenAIModel is used when no model is configured or requested.
const defaultOpenAIModel = "dall-e-3"

// modelGPTImage1 has its own size set distinct from the DALL-E families.
const modelGPTImage1 = "gpt-image-1"

// OpenAIProvider implements Provider for OpenAI image generation.
//
// This adapter handles:
//   - OpenAI client configuration with proper HTTP transport
//   - Model selection and per-model size normalization
//   - Quality and style parameters for DALL-E 3
//   - Mapping API failures onto the core.GenError taxonomy
//
// Thread Safety: OpenAIProvider is safe for concurrent use.
// The underlying OpenAI client handles connection pooling.
type OpenAIProvider struct {
	client *openai.Client
	apiKey string
	model  string
}

// NewOpenAIProvider creates an OpenAI image provider from the application
// config. A missing API key is not a construction error; Generate reports it
// as a MissingAPIKey failure so callers get a structured result instead of a
// crash at startup.
func NewOpenAIProvider(cfg *core.Config) (*OpenAIProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}

	model := cfg.DefaultModel
	if model == "" {
		model = defaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	clientConfig.HTTPClient = core.GetHTTPClient(cfg, cfg.ProviderTimeout)

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		apiKey: cfg.OpenAIAPIKey,
		model:  model,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return ProviderOpenAI
}

// DefaultModel returns the model used when a request does not name one.
func (p *OpenAIProvider) DefaultModel() string {
	return p.model
}

// Generate creates an image from the given params using the OpenAI API.
//
// The method:
//  1. Resolves the model and normalizes the size to what the model allows
//  2. Builds an image request asking for base64 response data
//  3. Calls the OpenAI API
//  4. Validates and decodes the response
//
// Quality and style are only attached for DALL-E 3, which is the only model
// family that accepts them.
func (p *OpenAIProvider) Generate(ctx context.Context, params GenerateParams) (*ProviderResult, error) {
	if p.apiKey == "" {
		return nil, core.ErrMissingAPIKey(ProviderOpenAI)
	}
	if params.Prompt == "" {
		return nil, core.NewGenError(core.KindInvalidResponse, ProviderOpenAI, "prompt cannot be empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, core.ErrCancelled(ProviderOpenAI, err)
	}

	model := params.Model
	if model == "" {
		model = p.model
	}

	size, err := normalizeOpenAISize(model, params.Size)
	if err != nil {
		return nil, core.NewGenError(core.KindInvalidResponse, ProviderOpenAI, err.Error(), err)
	}

	req := openai.ImageRequest{
		Prompt:         params.Prompt,
		Model:          model,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	}

	if model == openai.CreateImageModelDallE3 {
		switch strings.ToLower(params.Quality) {
		case "hd", "high":
			req.Quality = openai.CreateImageQualityHD
		default:
			req.Quality = openai.CreateImageQualityStandard
		}
		switch strings.ToLower(params.Style) {
		case "natural":
			req.Style = openai.CreateImageStyleNatural
		default:
			req.Style = openai.CreateImageStyleVivid
		}
	}

	response, err := p.client.CreateImage(ctx, req)
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	if len(response.Data) == 0 {
		return nil, core.NewGenError(core.KindInvalidResponse, ProviderOpenAI,
			"API returned no image data", nil)
	}
	if response.Data[0].B64JSON == "" {
		return nil, core.NewGenError(core.KindInvalidResponse, ProviderOpenAI,
			"API returned empty image payload", nil)
	}

	imageBytes, err := base64.StdEncoding.DecodeString(response.Data[0].B64JSON)
	if err != nil {
		return nil, core.NewGenError(core.KindInvalidResponse, ProviderOpenAI,
			"failed to decode base64 image data", err)
	}

	return &ProviderResult{
		ImageBytes:    imageBytes,
		MIMEType:      "image/png",
		Model:         model,
		RevisedPrompt: response.Data[0].RevisedPrompt,
	}, nil
}

// CheckAPIKey verifies a candidate key by listing models, which is cheap and
// requires a valid key. The provider's own configured key is unused here.
func (p *OpenAIProvider) CheckAPIKey(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return core.ErrMissingAPIKey(ProviderOpenAI)
	}

	client := openai.NewClient(apiKey)
	if _, err := client.ListModels(ctx); err != nil {
		return mapOpenAIError(err)
	}
	return nil
}

// normalizeOpenAISize maps the requested size or orientation shorthand onto
// a size the given model supports. DALL-E 2 only renders squares, so every
// orientation collapses to 1024x1024 there.
func normalizeOpenAISize(model, size string) (string, error) {
	square := openai.CreateImageSize1024x1024
	landscape := openai.CreateImageSize1792x1024
	portrait := openai.CreateImageSize1024x1792
	switch model {
	case openai.CreateImageModelDallE2:
		landscape = square
		portrait = square
	case modelGPTImage1:
		landscape = "1536x1024"
		portrait = "1024x1536"
	}

	if resolved, ok := orientationSize(size, square, landscape, portrait); ok {
		return resolved, nil
	}

	allowed := openAISizesFor(model)
	for _, s := range allowed {
		if size == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("size %q is not supported by model %q (allowed: %s)",
		size, model, strings.Join(allowed, ", "))
}

// openAISizesFor returns the exact size strings a model accepts.
func openAISizesFor(model string) []string {
	switch model {
	case openai.CreateImageModelDallE2:
		return []string{
			openai.CreateImageSize256x256,
			openai.CreateImageSize512x512,
			openai.CreateImageSize1024x1024,
		}
	case modelGPTImage1:
		return []string{
			openai.CreateImageSize1024x1024,
			"1536x1024",
			"1024x1536",
		}
	default:
		return []string{
			openai.CreateImageSize1024x1024,
			openai.CreateImageSize1792x1024,
			openai.CreateImageSize1024x1792,
		}
	}
}

// mapOpenAIError translates go-openai errors into the core.GenError
// taxonomy so callers can dispatch on failure kind instead of parsing
// messages.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return core.NewGenError(core.KindAuthError, ProviderOpenAI,
				"API key was rejected", err)
		case 429:
			return core.NewGenError(core.KindRateLimited, ProviderOpenAI,
				"rate limit exceeded", err)
		}
		return core.NewGenError(core.KindInvalidResponse, ProviderOpenAI,
			fmt.Sprintf("API error (status %d)", apiErr.HTTPStatusCode), err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case 401, 403:
			return core.NewGenError(core.KindAuthError, ProviderOpenAI,
				"API key was rejected", err)
		case 429:
			return core.NewGenError(core.KindRateLimited, ProviderOpenAI,
				"rate limit exceeded", err)
		}
	}

	return core.ClassifyErr(err, ProviderOpenAI)
}

// Ensure OpenAIProvider implements Provider interface at compile time.
var _ Provider = (*OpenAIProvider)(nil)
