package imagegen

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lyricdeck/core"
)

func newTestScheduler(t *testing.T, p Provider, maxParallel int) *Scheduler {
	t.Helper()
	cfg := testConfig()
	cfg.MaxConcurrent = maxParallel
	c := newTestCoordinator(t, cfg, p)
	s, err := NewScheduler(c, maxParallel)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return s
}

// batchRequests builds n requests with distinct prompts so single-flight
// does not collapse them.
func batchRequests(n int) []Request {
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = Request{
			RequestID: fmt.Sprintf("req-%d", i),
			Prompt:    fmt.Sprintf("background for verse %d, no text", i),
		}
	}
	return reqs
}

// TestScheduler_ResultsInInputOrder verifies each result lands at the index
// of its request regardless of completion order.
func TestScheduler_ResultsInInputOrder(t *testing.T) {
	p := &fakeProvider{
		generate: func(ctx context.Context, params GenerateParams) (*ProviderResult, error) {
			// Vary completion order.
			time.Sleep(time.Duration(len(params.Prompt)%7) * time.Millisecond)
			return &ProviderResult{ImageBytes: []byte(params.Prompt), MIMEType: "image/png", Model: params.Model}, nil
		},
	}
	s := newTestScheduler(t, p, 3)
	reqs := batchRequests(8)

	results := s.RunBatch(context.Background(), reqs, nil, nil)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	for i, res := range results {
		if res == nil {
			t.Fatalf("result %d is nil", i)
		}
		if res.RequestID != reqs[i].RequestID {
			t.Errorf("result %d carries request %q, want %q", i, res.RequestID, reqs[i].RequestID)
		}
		if !res.Success {
			t.Errorf("result %d failed: %v", i, res.Error)
		}
	}
}

// TestScheduler_ConcurrencyBound verifies at most maxParallel provider
// calls run simultaneously.
func TestScheduler_ConcurrencyBound(t *testing.T) {
	var current, peak int64
	p := &fakeProvider{
		generate: func(ctx context.Context, params GenerateParams) (*ProviderResult, error) {
			n := atomic.AddInt64(&current, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return &ProviderResult{ImageBytes: []byte("img"), MIMEType: "image/png", Model: params.Model}, nil
		},
	}
	s := newTestScheduler(t, p, 2)

	results := s.RunBatch(context.Background(), batchRequests(6), nil, nil)
	for i, res := range results {
		if !res.Success {
			t.Errorf("result %d failed: %v", i, res.Error)
		}
	}
	if got := atomic.LoadInt64(&peak); got > 2 {
		t.Errorf("concurrency peaked at %d, limit is 2", got)
	}
}

// TestScheduler_PartialFailureIsolation verifies one failing item does not
// disturb its siblings.
func TestScheduler_PartialFailureIsolation(t *testing.T) {
	p := &fakeProvider{
		generate: func(ctx context.Context, params GenerateParams) (*ProviderResult, error) {
			if params.Prompt == "background for verse 2, no text" {
				return nil, core.NewGenError(core.KindInvalidResponse, "fake", "API returned no image data", nil)
			}
			return &ProviderResult{ImageBytes: []byte("img"), MIMEType: "image/png", Model: params.Model}, nil
		},
	}
	s := newTestScheduler(t, p, 2)

	results := s.RunBatch(context.Background(), batchRequests(5), nil, nil)
	for i, res := range results {
		if i == 2 {
			if res.Status != StatusFailed {
				t.Errorf("result 2 should be failed, got %s", res.Status)
			}
			continue
		}
		if !res.Success {
			t.Errorf("result %d should succeed despite sibling failure: %v", i, res.Error)
		}
	}
}

// TestScheduler_BatchProgress verifies the aggregate snapshots count every
// terminal item exactly once and carry consistent per-item detail.
func TestScheduler_BatchProgress(t *testing.T) {
	p := &fakeProvider{}
	s := newTestScheduler(t, p, 2)

	var mu sync.Mutex
	var snapshots []BatchProgress
	results := s.RunBatch(context.Background(), batchRequests(4), nil, func(bp BatchProgress) {
		mu.Lock()
		snapshots = append(snapshots, bp)
		mu.Unlock()
	})

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if len(snapshots) != 4 {
		t.Fatalf("expected 4 snapshots, got %d", len(snapshots))
	}
	for i, snap := range snapshots {
		if len(snap.ResultsSoFar) != 4 {
			t.Fatalf("snapshot %d: ResultsSoFar should have one slot per input, got %d", i, len(snap.ResultsSoFar))
		}
		finished := 0
		for _, res := range snap.ResultsSoFar {
			if res != nil {
				finished++
			}
		}
		if finished != snap.Completed {
			t.Errorf("snapshot %d: %d terminal results but Completed=%d", i, finished, snap.Completed)
		}
		if len(snap.InProgressIndices) > 2 {
			t.Errorf("snapshot %d: %d in-progress items exceeds the parallelism limit", i, len(snap.InProgressIndices))
		}
		for _, idx := range snap.InProgressIndices {
			if snap.ResultsSoFar[idx] != nil {
				t.Errorf("snapshot %d: index %d is both in progress and terminal", i, idx)
			}
		}
	}
	final := snapshots[len(snapshots)-1]
	if final.Completed != 4 || final.Succeeded != 4 {
		t.Errorf("final snapshot should show 4/4 succeeded, got %+v", final)
	}
	if len(final.InProgressIndices) != 0 {
		t.Errorf("final snapshot should have no in-progress items, got %v", final.InProgressIndices)
	}
	if final.Fraction() != 1.0 {
		t.Errorf("final fraction should be 1.0, got %f", final.Fraction())
	}
}

// TestScheduler_CancelAll verifies cancellation aborts in-flight items and
// drains queued ones as Cancelled.
func TestScheduler_CancelAll(t *testing.T) {
	entered := make(chan struct{}, 1)
	p := &fakeProvider{
		generate: func(ctx context.Context, params GenerateParams) (*ProviderResult, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return nil, core.ErrCancelled("fake", ctx.Err())
		},
	}
	s := newTestScheduler(t, p, 1)

	done := make(chan []*Result, 1)
	go func() {
		done <- s.RunBatch(context.Background(), batchRequests(3), nil, nil)
	}()

	<-entered
	s.CancelAll()

	select {
	case results := <-done:
		for i, res := range results {
			if res.Status != StatusCancelled {
				t.Errorf("result %d should be cancelled, got %s", i, res.Status)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish after CancelAll")
	}
}

// TestScheduler_ContextCancel verifies cancelling the batch context has the
// same effect as CancelAll.
func TestScheduler_ContextCancel(t *testing.T) {
	entered := make(chan struct{}, 1)
	p := &fakeProvider{
		generate: func(ctx context.Context, params GenerateParams) (*ProviderResult, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return nil, core.ErrCancelled("fake", ctx.Err())
		},
	}
	s := newTestScheduler(t, p, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []*Result, 1)
	go func() {
		done <- s.RunBatch(ctx, batchRequests(2), nil, nil)
	}()

	<-entered
	cancel()

	select {
	case results := <-done:
		for i, res := range results {
			if res.Status != StatusCancelled {
				t.Errorf("result %d should be cancelled, got %s", i, res.Status)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish after context cancel")
	}
}

// TestScheduler_EmptyBatch verifies a zero-item batch returns immediately.
func TestScheduler_EmptyBatch(t *testing.T) {
	s := newTestScheduler(t, &fakeProvider{}, 2)
	results := s.RunBatch(context.Background(), nil, nil, nil)
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

// TestNewScheduler_Validation covers constructor argument checks.
func TestNewScheduler_Validation(t *testing.T) {
	c := newTestCoordinator(t, nil, &fakeProvider{})
	if _, err := NewScheduler(nil, 2); err == nil {
		t.Error("nil coordinator should be rejected")
	}
	if _, err := NewScheduler(c, 0); err == nil {
		t.Error("zero parallelism should be rejected")
	}
}
