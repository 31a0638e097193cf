// coordinator.go drives a single generation request through its lifecycle:
// prompt construction, cache consultation, provider dispatch with retry, and
// cache write-back. One Coordinator instance is shared across all requests;
// identical concurrent requests collapse onto a single provider call.
package imagegen

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lyricdeck/core"
	"lyricdeck/imagecache"
	"lyricdeck/logging"
	"lyricdeck/prompt"
)

// GenerationLog is the history-facing view of a terminal result. The
// history package persists these; the coordinator does not import it to
// keep the dependency pointing outward.
type GenerationLog struct {
	RequestID  string
	Provider   string
	Model      string
	PromptHash string
	Title      string
	Artist     string
	Status     string
	ErrorKind  string
	FromCache  bool
	Duration   time.Duration
	CreatedAt  time.Time
}

// HistoryRecorder persists terminal results. Recording is best effort; a
// failure is logged and never fails the generation.
type HistoryRecorder interface {
	Record(ctx context.Context, rec GenerationLog) error
}

// flight is one in-progress provider call that identical requests attach to.
type flight struct {
	done   chan struct{}
	result *Result
}

// Coordinator owns the request lifecycle. Construct once and share; all
// methods are safe for concurrent use.
type Coordinator struct {
	cfg       *core.Config
	builder   *prompt.Builder
	cache     *imagecache.Index
	providers map[string]Provider
	usage     *UsageStats
	history   HistoryRecorder
	logger    *logging.Logger

	flightMu sync.Mutex
	flights  map[string]*flight
}

// NewCoordinator wires the coordinator from its collaborators. history may
// be nil when persistence is disabled.
func NewCoordinator(cfg *core.Config, builder *prompt.Builder, cache *imagecache.Index,
	providers map[string]Provider, usage *UsageStats, history HistoryRecorder,
	logger *logging.Logger) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}
	if builder == nil {
		return nil, fmt.Errorf("imagegen: prompt builder cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("imagegen: cache index cannot be nil")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("imagegen: at least one provider is required")
	}
	if usage == nil {
		usage = NewUsageStats()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Coordinator{
		cfg:       cfg,
		builder:   builder,
		cache:     cache,
		providers: providers,
		usage:     usage,
		history:   history,
		logger:    logger.Named("coordinator"),
		flights:   make(map[string]*flight),
	}, nil
}

// Run executes one request to a terminal result. The returned Result is
// never nil; expected failures arrive as Result.Error rather than a Go
// error. emit may be nil when the caller does not want progress events.
//
// Cancellation is observed at every stage boundary: before prompt
// construction, before the cache check, before dispatch, and during the
// provider call itself.
func (c *Coordinator) Run(ctx context.Context, req Request, emit ProgressFunc) *Result {
	start := time.Now()
	if emit == nil {
		emit = func(ProgressEvent) {}
	}

	send := func(status Status, message string, extra map[string]string) {
		emit(ProgressEvent{
			RequestID: req.RequestID,
			Status:    status,
			Fraction:  status.Fraction(),
			Message:   message,
			Extra:     extra,
		})
	}

	send(StatusStarted, "request accepted", nil)

	if err := ctx.Err(); err != nil {
		return c.finish(ctx, req, start, send, cancelledResult(req, "", err))
	}

	// Stage 1: prompt.
	providerName := c.resolveProviderName(req)
	promptText, promptHash, genErr := c.buildPrompt(req, providerName)
	if genErr != nil {
		return c.finish(ctx, req, start, send, failedResult(req, providerName, "", "", genErr))
	}
	send(StatusPromptReady, "prompt ready", map[string]string{
		"prompt_hash": prompt.ShortHash(promptText),
	})

	if err := ctx.Err(); err != nil {
		return c.finish(ctx, req, start, send, cancelledResult(req, providerName, err))
	}

	provider, ok := c.providers[providerName]
	if !ok {
		return c.finish(ctx, req, start, send,
			failedResult(req, providerName, "", promptHash, core.ErrUnsupportedProvider(providerName)))
	}

	// Resolve the effective model before the cache check so that lookup,
	// flight key, and the cached entry all agree on it even when neither the
	// request nor the config names one.
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	if model == "" {
		model = provider.DefaultModel()
	}
	size := req.Size
	if size == "" {
		size = c.cfg.DefaultSize
	}
	quality := req.Quality
	if quality == "" {
		quality = c.cfg.DefaultQuality
	}
	style := req.Style
	if style == "" {
		style = c.cfg.DefaultStyle
	}

	// Stage 2: cache.
	if entry, hit := c.lookupCache(req, promptHash, model, size, quality, style); hit {
		if data, err := os.ReadFile(entry.FilePath); err == nil {
			send(StatusCacheChecked, "cache hit", map[string]string{"cache_hit": "true"})
			res := &Result{
				RequestID:  req.RequestID,
				Status:     StatusCompleted,
				Success:    true,
				FromCache:  true,
				ImageBytes: data,
				FilePath:   entry.FilePath,
				Provider:   entry.Provider,
				Model:      entry.Model,
				Prompt:     promptText,
				PromptHash: promptHash,
			}
			return c.finish(ctx, req, start, send, res)
		}
		// Unreadable cache file degrades to a miss.
		c.logger.Warn("cached image unreadable, regenerating",
			zap.String("file_path", entry.FilePath))
	}
	send(StatusCacheChecked, "cache miss", map[string]string{"cache_hit": "false"})

	if err := ctx.Err(); err != nil {
		return c.finish(ctx, req, start, send, cancelledResult(req, providerName, err))
	}

	// Stage 3: single-flight dispatch.
	flightKey := imagecache.KeyFileID(promptHash, model, size, quality, style)
	var f *flight
	for f == nil {
		c.flightMu.Lock()
		existing, inFlight := c.flights[flightKey]
		if !inFlight {
			f = &flight{done: make(chan struct{})}
			c.flights[flightKey] = f
		}
		c.flightMu.Unlock()
		if inFlight {
			res, done := c.awaitFlight(ctx, req, providerName, start, send, existing)
			if done {
				return res
			}
			// The leader was cancelled while this request is still live;
			// contend to become the new leader.
		}
	}

	send(StatusDispatched, fmt.Sprintf("generating via %s", providerName), map[string]string{
		"provider": providerName,
		"model":    model,
	})

	params := GenerateParams{
		Prompt:  promptText,
		Model:   model,
		Size:    size,
		Quality: quality,
		Style:   style,
	}
	provRes, err := c.generateWithRetry(ctx, provider, params)

	var res *Result
	if err != nil {
		genErr := core.AsGenError(err, providerName)
		if genErr.Kind == core.KindCancelled {
			res = cancelledResult(req, providerName, err)
		} else {
			res = failedResult(req, providerName, model, promptHash, genErr)
		}
	} else {
		res = &Result{
			RequestID:     req.RequestID,
			Status:        StatusCompleted,
			Success:       true,
			ImageBytes:    provRes.ImageBytes,
			Provider:      providerName,
			Model:         provRes.Model,
			Prompt:        promptText,
			PromptHash:    promptHash,
			RevisedPrompt: provRes.RevisedPrompt,
		}
		res.FilePath = c.storeInCache(req, provRes, promptHash, model, size, quality, style)
	}

	c.flightMu.Lock()
	delete(c.flights, flightKey)
	c.flightMu.Unlock()
	f.result = res
	close(f.done)

	return c.finish(ctx, req, start, send, res)
}

// awaitFlight blocks a duplicate request on the leader's in-flight call and
// shares its outcome. The follower keeps its own identity, duration, and
// cancellation: a follower whose ctx ends first is cancelled even though the
// leader's call continues. If the leader ends up cancelled while the follower
// is still live, the leader's cancellation must not leak into the follower;
// awaitFlight returns done=false and the follower re-enters dispatch.
func (c *Coordinator) awaitFlight(ctx context.Context, req Request, providerName string,
	start time.Time, send func(Status, string, map[string]string), f *flight) (*Result, bool) {
	send(StatusDispatched, "waiting on identical in-flight request", map[string]string{
		"provider": providerName,
		"shared":   "true",
	})

	select {
	case <-ctx.Done():
		return c.finish(ctx, req, start, send, cancelledResult(req, providerName, ctx.Err())), true
	case <-f.done:
	}

	shared := f.result
	if shared.Status == StatusCancelled && ctx.Err() == nil {
		return nil, false
	}
	res := &Result{
		RequestID:     req.RequestID,
		Status:        shared.Status,
		Success:       shared.Success,
		FromCache:     shared.Success,
		ImageBytes:    shared.ImageBytes,
		FilePath:      shared.FilePath,
		Provider:      shared.Provider,
		Model:         shared.Model,
		Prompt:        shared.Prompt,
		PromptHash:    shared.PromptHash,
		RevisedPrompt: shared.RevisedPrompt,
		Error:         shared.Error,
	}
	return c.finish(ctx, req, start, send, res), true
}

// finish stamps the duration, emits the terminal event, and records usage
// and history. Always returns res.
func (c *Coordinator) finish(ctx context.Context, req Request, start time.Time,
	send func(Status, string, map[string]string), res *Result) *Result {
	res.Duration = time.Since(start)

	var extra map[string]string
	message := "image ready"
	switch res.Status {
	case StatusFailed:
		message = res.Error.Message
		extra = map[string]string{"error_kind": string(res.Error.Kind)}
	case StatusCancelled:
		message = "generation cancelled"
	default:
		if res.FromCache {
			message = "image ready (cached)"
		}
	}
	send(res.Status, message, extra)

	providerName := res.Provider
	if providerName == "" {
		providerName = c.resolveProviderName(req)
	}
	c.usage.Record(UsageRecord{
		Provider:  providerName,
		Model:     res.Model,
		FromCache: res.FromCache,
		Success:   res.Success,
		Duration:  res.Duration,
	})

	if c.history != nil {
		errorKind := ""
		if res.Error != nil {
			errorKind = string(res.Error.Kind)
		}
		rec := GenerationLog{
			RequestID:  req.RequestID,
			Provider:   providerName,
			Model:      res.Model,
			PromptHash: res.PromptHash,
			Title:      req.SongTitle,
			Artist:     req.Artist,
			Status:     string(res.Status),
			ErrorKind:  errorKind,
			FromCache:  res.FromCache,
			Duration:   res.Duration,
			CreatedAt:  time.Now(),
		}
		// Use a detached context so history still records after cancellation.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.history.Record(recordCtx, rec); err != nil {
			c.logger.Warn("failed to record generation history",
				zap.String("request_id", req.RequestID),
				zap.Error(err))
		}
	}

	c.logger.Info("request finished",
		zap.String("request_id", req.RequestID),
		zap.String("status", string(res.Status)),
		zap.String("provider", providerName),
		zap.Bool("from_cache", res.FromCache),
		zap.Duration("duration", res.Duration))
	return res
}

// buildPrompt resolves the final prompt text and its hash. An explicit
// prompt bypasses the builder; otherwise lyrics are required.
func (c *Coordinator) buildPrompt(req Request, providerName string) (string, string, *core.GenError) {
	text := strings.TrimSpace(req.Prompt)
	if text == "" {
		if strings.TrimSpace(req.Lyrics) == "" {
			return "", "", core.NewGenError(core.KindInvalidResponse, providerName,
				"request has neither lyrics nor an explicit prompt", nil)
		}
		tmpl := req.Template
		if tmpl == "" {
			tmpl = c.cfg.DefaultTemplate
		}
		width, height := parseSize(firstNonEmpty(req.Size, c.cfg.DefaultSize))
		text = c.builder.Build(req.Lyrics, prompt.BuildOptions{
			Template:  tmpl,
			SongTitle: req.SongTitle,
			Artist:    req.Artist,
			Style:     req.Style,
			Width:     width,
			Height:    height,
		})
	}
	return text, prompt.Hash(text), nil
}

// lookupCache consults the index: identity first when the request names a
// song, then the exact generation key.
func (c *Coordinator) lookupCache(req Request, promptHash, model, size, quality, style string) (imagecache.Entry, bool) {
	if req.SongTitle != "" {
		if entry, ok := c.cache.LookupByIdentity(req.SongTitle, req.Artist); ok {
			return entry, true
		}
	}
	return c.cache.LookupByKey(promptHash, model, size, quality, style)
}

// storeInCache writes a fresh image into the cache. Failures degrade the
// result to uncached and are logged, never surfaced as request failures.
func (c *Coordinator) storeInCache(req Request, provRes *ProviderResult, promptHash, model, size, quality, style string) string {
	if c.cache.Disabled() {
		return ""
	}
	// The entry is keyed by the model resolved before the cache check, not
	// whatever label the provider reports back, so later lookups match.
	entry := imagecache.Entry{
		PromptHash: promptHash,
		SongTitle:  req.SongTitle,
		Artist:     req.Artist,
		Provider:   c.resolveProviderName(req),
		Model:      model,
		Size:       size,
		Quality:    quality,
		Style:      style,
	}
	stored, err := c.cache.Insert(entry, provRes.ImageBytes, provRes.MIMEType)
	if err != nil {
		c.logger.Warn("cache write failed, returning uncached result",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
		return ""
	}
	return stored.FilePath
}

// generateWithRetry calls the provider, retrying transient failures (rate
// limit, network) with a fixed delay. Cancellation during the backoff wait
// returns immediately.
func (c *Coordinator) generateWithRetry(ctx context.Context, p Provider, params GenerateParams) (*ProviderResult, error) {
	attempts := c.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.logger.Warn("retrying provider call",
				zap.String("provider", p.Name()),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, core.ErrCancelled(p.Name(), ctx.Err())
			case <-time.After(c.cfg.RetryDelay):
			}
		}

		res, err := p.Generate(ctx, params)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// isRetryable reports whether a provider failure is worth another attempt.
func isRetryable(err error) bool {
	return core.IsKind(err, core.KindRateLimited) || core.IsKind(err, core.KindNetworkError)
}

func (c *Coordinator) resolveProviderName(req Request) string {
	if req.Provider != "" {
		return strings.ToLower(req.Provider)
	}
	return strings.ToLower(c.cfg.DefaultProvider)
}

func cancelledResult(req Request, providerName string, cause error) *Result {
	return &Result{
		RequestID: req.RequestID,
		Status:    StatusCancelled,
		Provider:  providerName,
		Error:     core.ErrCancelled(providerName, cause),
	}
}

func failedResult(req Request, providerName, model, promptHash string, genErr *core.GenError) *Result {
	return &Result{
		RequestID:  req.RequestID,
		Status:     StatusFailed,
		Provider:   providerName,
		Model:      model,
		PromptHash: promptHash,
		Error:      genErr,
	}
}

// parseSize extracts WIDTHxHEIGHT dimensions; orientation shorthands and
// malformed sizes yield zeros, which suppresses the resolution hint.
func parseSize(size string) (int, int) {
	parts := strings.SplitN(strings.ToLower(size), "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0
	}
	return w, h
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
