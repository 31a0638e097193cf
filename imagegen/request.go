// request.go defines the lifecycle types shared by the coordinator, the
// batch scheduler, and the service facade: request parameters, status
// progression, progress events, and the terminal result shape.
package imagegen

import (
	"time"

	"lyricdeck/core"
)

// Status tracks a generation request through its lifecycle. The happy path
// is Started -> PromptReady -> CacheChecked -> Dispatched -> Completed; any
// non-terminal status may transition to Cancelled, and PromptReady onward
// may transition to Failed.
type Status string

const (
	StatusStarted      Status = "started"
	StatusPromptReady  Status = "prompt_ready"
	StatusCacheChecked Status = "cache_checked"
	StatusDispatched   Status = "dispatched"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether the status ends the request lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// progressFractions maps each status to an approximate completion fraction
// for progress reporting. Terminal statuses are always 1.0.
var progressFractions = map[Status]float64{
	StatusStarted:      0.05,
	StatusPromptReady:  0.20,
	StatusCacheChecked: 0.35,
	StatusDispatched:   0.50,
	StatusCompleted:    1.0,
	StatusFailed:       1.0,
	StatusCancelled:    1.0,
}

// Fraction returns the completion fraction for a status.
func (s Status) Fraction() float64 {
	if f, ok := progressFractions[s]; ok {
		return f
	}
	return 0
}

// Request carries everything needed to generate one background image.
// Either Prompt (a fully formed instruction) or Lyrics (raw text to run
// through the prompt builder) must be set; Prompt wins when both are.
type Request struct {
	// RequestID identifies the request in progress events and cancellation.
	// The service assigns one when empty.
	RequestID string

	// Lyrics is the raw song text to build a prompt from.
	Lyrics string

	// Prompt, when set, bypasses the prompt builder entirely.
	Prompt string

	// Template selects a prompt template by name; empty uses the default.
	Template string

	// SongTitle and Artist identify the song for cache identity lookups.
	SongTitle string
	Artist    string

	// Provider selects the backend by name; empty uses the configured
	// default.
	Provider string

	// Model, Size, Quality, and Style are passed through to the provider.
	Model   string
	Size    string
	Quality string
	Style   string
}

// ProgressEvent is one observation of a request moving through its
// lifecycle. Consumers receive events in status order; the last event for a
// request always carries a terminal status.
type ProgressEvent struct {
	RequestID string
	Status    Status
	Fraction  float64
	Message   string

	// Extra carries status-specific detail such as the prompt hash at
	// PromptReady or the error kind at Failed. May be nil.
	Extra map[string]string
}

// ProgressFunc receives progress events. Implementations must not block;
// slow consumers delay the pipeline.
type ProgressFunc func(ProgressEvent)

// Result is the terminal outcome of a generation request. Expected failures
// (missing key, auth, rate limit, cancellation) arrive here as a populated
// Error with Success false, not as a Go error from the call itself.
type Result struct {
	RequestID string

	// Status is the terminal status: Completed, Failed, or Cancelled.
	Status Status

	// Success is true only when Status is Completed.
	Success bool

	// FromCache is true when the image came from the cache or from another
	// identical request already in flight.
	FromCache bool

	// ImageBytes is the generated or cached image. Set on success.
	ImageBytes []byte

	// FilePath is the cache location of the image. Empty when the cache is
	// disabled or the write failed (the generation still succeeds).
	FilePath string

	// Provider and Model record what served the request.
	Provider string
	Model    string

	// Prompt is the final prompt text; PromptHash is its content hash.
	Prompt     string
	PromptHash string

	// RevisedPrompt is the provider's rewrite, when reported.
	RevisedPrompt string

	// Duration is wall time from Started to the terminal status.
	Duration time.Duration

	// Error is set when Success is false.
	Error *core.GenError
}

// Err returns the result's error, or nil on success. Convenience for
// callers that want idiomatic error flow at the outermost layer.
func (r *Result) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return r.Error
}
