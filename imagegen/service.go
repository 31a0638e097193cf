// service.go is the package facade: it assembles the providers, prompt
// builder, cache, coordinator, and scheduler from application config and
// exposes the operations the UI layer calls.
package imagegen

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lyricdeck/core"
	"lyricdeck/imagecache"
	"lyricdeck/logging"
	"lyricdeck/prompt"
)

// Service is the top-level entry point for image generation.
//
// Thread Safety: all methods are safe for concurrent use.
type Service struct {
	cfg         *core.Config
	logger      *logging.Logger
	builder     *prompt.Builder
	cache       *imagecache.Index
	providers   map[string]Provider
	usage       *UsageStats
	coordinator *Coordinator
	scheduler   *Scheduler

	mu          sync.Mutex
	active      map[string]context.CancelFunc
	subscribers []ProgressFunc
}

// NewService builds a fully wired service from config. history may be nil
// to disable persistence. Provider construction never fails on a missing
// API key; that surfaces per request as a MissingAPIKey result.
func NewService(cfg *core.Config, logger *logging.Logger, history HistoryRecorder) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("imagegen")

	builder, err := prompt.NewBuilderFromConfig(cfg.DefaultTemplate, cfg.TemplatesPath)
	if err != nil {
		return nil, fmt.Errorf("imagegen: failed to load prompt templates: %w", err)
	}

	cacheTTL := cfg.CacheTTL
	var cache *imagecache.Index
	if cfg.CacheDisabled {
		cache = imagecache.NewDisabledIndex(logger)
	} else {
		cache = imagecache.NewIndex(cfg.CacheDir, cacheTTL, logger)
	}

	openaiProvider, err := NewOpenAIProvider(cfg)
	if err != nil {
		return nil, err
	}
	stabilityProvider, err := NewStabilityProvider(cfg)
	if err != nil {
		return nil, err
	}
	providers := map[string]Provider{
		openaiProvider.Name():    openaiProvider,
		stabilityProvider.Name(): stabilityProvider,
	}

	usage := NewUsageStats()
	coordinator, err := NewCoordinator(cfg, builder, cache, providers, usage, history, logger)
	if err != nil {
		return nil, err
	}
	scheduler, err := NewScheduler(coordinator, cfg.MaxConcurrent)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:         cfg,
		logger:      logger,
		builder:     builder,
		cache:       cache,
		providers:   providers,
		usage:       usage,
		coordinator: coordinator,
		scheduler:   scheduler,
		active:      make(map[string]context.CancelFunc),
	}, nil
}

// GenerateImage runs one request to completion. The returned Result is
// never nil; expected failures (missing key, auth, rate limit,
// cancellation) arrive as Result.Error with Success false.
//
// A requestID is assigned when the caller leaves it empty. The request can
// be aborted mid-flight via CancelGeneration with that ID or by cancelling
// ctx.
func (s *Service) GenerateImage(ctx context.Context, req Request, onProgress ProgressFunc) *Result {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	reqCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.active[req.RequestID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, req.RequestID)
		s.mu.Unlock()
		cancel()
	}()

	return s.coordinator.Run(reqCtx, req, s.fanOut(onProgress))
}

// GenerateBatch runs a slice of requests through the bounded scheduler and
// returns results in input order. Missing request IDs are assigned before
// scheduling so progress events are attributable.
func (s *Service) GenerateBatch(ctx context.Context, reqs []Request, onItem ProgressFunc, onBatch BatchProgressFunc) []*Result {
	for i := range reqs {
		if reqs[i].RequestID == "" {
			reqs[i].RequestID = uuid.NewString()
		}
	}
	s.logger.Info("starting batch generation",
		zap.Int("items", len(reqs)),
		zap.Int("max_parallel", s.cfg.MaxConcurrent))
	return s.scheduler.RunBatch(ctx, reqs, s.fanOut(onItem), onBatch)
}

// CancelGeneration aborts one in-flight request by ID. Returns false when
// no such request is active (already finished or never started); cancelling
// a finished request is a no-op.
func (s *Service) CancelGeneration(requestID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[requestID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelAll aborts every active single request and every running batch.
func (s *Service) CancelAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.active))
	for _, cancel := range s.active {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.scheduler.CancelAll()
}

// SubscribeProgress registers a consumer that receives every progress event
// from every request, in addition to any per-call callback. Subscribers
// must not block.
func (s *Service) SubscribeProgress(fn ProgressFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// fanOut merges the per-call callback with the registered subscribers.
func (s *Service) fanOut(onProgress ProgressFunc) ProgressFunc {
	return func(ev ProgressEvent) {
		if onProgress != nil {
			onProgress(ev)
		}
		s.mu.Lock()
		subs := make([]ProgressFunc, len(s.subscribers))
		copy(subs, s.subscribers)
		s.mu.Unlock()
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// CheckAPIKey validates a candidate key against the named provider without
// storing it.
func (s *Service) CheckAPIKey(ctx context.Context, providerName, apiKey string) error {
	provider, ok := s.providers[providerName]
	if !ok {
		return core.ErrUnsupportedProvider(providerName)
	}
	return provider.CheckAPIKey(ctx, apiKey)
}

// ClearCache removes cached images matching the filter and returns the
// number removed. A zero filter clears everything.
func (s *Service) ClearCache(filter imagecache.ClearFilter) (int, error) {
	return s.cache.Clear(filter)
}

// EvictExpired removes cache entries past their TTL.
func (s *Service) EvictExpired() int {
	return s.cache.EvictExpired()
}

// Usage exposes the per-provider counters and recent request history.
func (s *Service) Usage() *UsageStats {
	return s.usage
}

// Cache exposes the underlying index for UI listings.
func (s *Service) Cache() *imagecache.Index {
	return s.cache
}

// ProviderNames lists the registered provider identifiers.
func (s *Service) ProviderNames() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

// TemplateNames lists the available prompt templates.
func (s *Service) TemplateNames() []string {
	return s.builder.TemplateNames()
}
