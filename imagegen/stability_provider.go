// stability_provider.go implements the Provider interface for the Stability
// AI image API (v2beta stable-image endpoints).
//
// Stability has no Go SDK, so this adapter speaks the REST API directly:
// multipart form request, raw image bytes in the response.
package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"lyricdeck/core"
)

// ProviderStability is the stable identifier for the Stability adapter.
const ProviderStability = "stability"

const (
	defaultStabilityBaseURL = "https://api.stability.ai"
	defaultStabilityModel   = "core"

	// stabilityGeneratePath is the v2beta endpoint template; the model name
	// ("core", "ultra", "sd3") selects the engine.
	stabilityGeneratePath = "/v2beta/stable-image/generate/%s"

	// stabilityAccountPath is a cheap authenticated endpoint used for key
	// validation.
	stabilityAccountPath = "/v1/user/account"
)

// StabilityProvider implements Provider for Stability AI image generation.
//
// Thread Safety: StabilityProvider is safe for concurrent use; it holds no
// mutable state beyond the shared http.Client.
type StabilityProvider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
}

// NewStabilityProvider creates a Stability image provider from the
// application config. Like the OpenAI adapter, a missing API key surfaces at
// Generate time as a MissingAPIKey failure rather than at construction.
func NewStabilityProvider(cfg *core.Config) (*StabilityProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}

	return &StabilityProvider{
		httpClient: core.GetHTTPClient(cfg, cfg.ProviderTimeout),
		apiKey:     cfg.StabilityAPIKey,
		baseURL:    defaultStabilityBaseURL,
		model:      defaultStabilityModel,
	}, nil
}

// NewStabilityProviderWithEndpoint creates a provider pointed at an explicit
// base URL. Used by tests to target an httptest server.
func NewStabilityProviderWithEndpoint(apiKey, baseURL string, client *http.Client) *StabilityProvider {
	if client == nil {
		client = core.GetDefaultHTTPClient(nil)
	}
	return &StabilityProvider{
		httpClient: client,
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      defaultStabilityModel,
	}
}

// Name returns the provider identifier.
func (p *StabilityProvider) Name() string {
	return ProviderStability
}

// DefaultModel returns the model used when a request does not name one.
func (p *StabilityProvider) DefaultModel() string {
	return p.model
}

// Generate creates an image via the Stability v2beta API.
//
// The request is a multipart form carrying the prompt, output format, and
// aspect ratio. With "Accept: image/*" the API responds with raw image bytes
// on success and a JSON error document otherwise.
func (p *StabilityProvider) Generate(ctx context.Context, params GenerateParams) (*ProviderResult, error) {
	if p.apiKey == "" {
		return nil, core.ErrMissingAPIKey(ProviderStability)
	}
	if params.Prompt == "" {
		return nil, core.NewGenError(core.KindInvalidResponse, ProviderStability, "prompt cannot be empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, core.ErrCancelled(ProviderStability, err)
	}

	model := params.Model
	if model == "" {
		model = p.model
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"prompt":        params.Prompt,
		"output_format": "png",
		"aspect_ratio":  stabilityAspectRatio(params.Size),
	}
	if params.Style != "" {
		fields["style_preset"] = params.Style
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, core.NewGenError(core.KindInvalidResponse, ProviderStability,
				"failed to encode request body", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, core.NewGenError(core.KindInvalidResponse, ProviderStability,
			"failed to encode request body", err)
	}

	url := p.baseURL + fmt.Sprintf(stabilityGeneratePath, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, core.NewGenError(core.KindInvalidResponse, ProviderStability,
			"failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "image/*")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, core.ClassifyErr(err, ProviderStability)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(resp)
	}

	imageBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.ClassifyErr(err, ProviderStability)
	}
	if len(imageBytes) == 0 {
		return nil, core.NewGenError(core.KindInvalidResponse, ProviderStability,
			"API returned empty image payload", nil)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "image/*") {
		mimeType = "image/png"
	}

	return &ProviderResult{
		ImageBytes: imageBytes,
		MIMEType:   mimeType,
		Model:      model,
	}, nil
}

// CheckAPIKey validates a candidate key against the account endpoint.
func (p *StabilityProvider) CheckAPIKey(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return core.ErrMissingAPIKey(ProviderStability)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+stabilityAccountPath, nil)
	if err != nil {
		return core.NewGenError(core.KindInvalidResponse, ProviderStability,
			"failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return core.ClassifyErr(err, ProviderStability)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return p.mapStatus(resp.StatusCode, "key check failed")
}

// mapHTTPError reads a non-200 response body (the API returns a short JSON
// error document) and maps the status onto the error taxonomy.
func (p *StabilityProvider) mapHTTPError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(detail))
	if msg == "" {
		msg = "request failed"
	}
	return p.mapStatus(resp.StatusCode, truncateText(msg, 200))
}

func (p *StabilityProvider) mapStatus(status int, msg string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.NewGenError(core.KindAuthError, ProviderStability,
			"API key was rejected", nil)
	case http.StatusTooManyRequests:
		return core.NewGenError(core.KindRateLimited, ProviderStability,
			"rate limit exceeded", nil)
	}
	return core.NewGenError(core.KindInvalidResponse, ProviderStability,
		fmt.Sprintf("API error (status %d): %s", status, msg), nil)
}

// stabilityAspectRatio maps a "WIDTHxHEIGHT" size or orientation shorthand
// onto the nearest aspect ratio the v2beta API accepts.
func stabilityAspectRatio(size string) string {
	if ratio, ok := orientationSize(size, "1:1", "16:9", "9:16"); ok {
		return ratio
	}

	parts := strings.SplitN(strings.ToLower(size), "x", 2)
	if len(parts) != 2 {
		return "1:1"
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return "1:1"
	}

	target := float64(w) / float64(h)
	allowed := []struct {
		name  string
		value float64
	}{
		{"21:9", 21.0 / 9.0},
		{"16:9", 16.0 / 9.0},
		{"3:2", 3.0 / 2.0},
		{"5:4", 5.0 / 4.0},
		{"1:1", 1.0},
		{"4:5", 4.0 / 5.0},
		{"2:3", 2.0 / 3.0},
		{"9:16", 9.0 / 16.0},
		{"9:21", 9.0 / 21.0},
	}

	best := allowed[0]
	bestDiff := diff(target, best.value)
	for _, candidate := range allowed[1:] {
		if d := diff(target, candidate.value); d < bestDiff {
			best = candidate
			bestDiff = d
		}
	}
	return best.name
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// Ensure StabilityProvider implements Provider interface at compile time.
var _ Provider = (*StabilityProvider)(nil)
