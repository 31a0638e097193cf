// scheduler.go runs a batch of generation requests through the coordinator
// with a bounded worker pool. Results come back in input order regardless of
// completion order, and one failing item never aborts its siblings.
package imagegen

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchProgress is an aggregate snapshot emitted after every item reaches a
// terminal status.
type BatchProgress struct {
	Total     int
	Completed int // items at any terminal status
	Succeeded int
	Failed    int
	Cancelled int

	// InProgressIndices are the input indices of items currently running,
	// in ascending order.
	InProgressIndices []int

	// ResultsSoFar holds one slot per input request; a slot is nil until
	// that item reaches a terminal status.
	ResultsSoFar []*Result
}

// Fraction returns overall batch completion in [0, 1].
func (p BatchProgress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Completed) / float64(p.Total)
}

// BatchProgressFunc receives aggregate batch snapshots.
type BatchProgressFunc func(BatchProgress)

// Scheduler fans a slice of requests across a bounded number of concurrent
// coordinator runs.
//
// Thread Safety: safe for concurrent use; each RunBatch call is
// independent.
type Scheduler struct {
	coordinator *Coordinator
	maxParallel int

	mu      sync.Mutex
	cancels map[*context.CancelFunc]struct{}
}

// NewScheduler creates a scheduler running at most maxParallel requests at
// once.
func NewScheduler(coordinator *Coordinator, maxParallel int) (*Scheduler, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("imagegen: coordinator cannot be nil")
	}
	if maxParallel < 1 {
		return nil, fmt.Errorf("imagegen: maxParallel must be at least 1, got %d", maxParallel)
	}
	return &Scheduler{
		coordinator: coordinator,
		maxParallel: maxParallel,
		cancels:     make(map[*context.CancelFunc]struct{}),
	}, nil
}

// RunBatch processes every request and returns one Result per input, at the
// same index. Items that fail or are cancelled occupy their slot with a
// terminal Result; the slice never contains nil.
//
// onItem receives per-request progress events from every item (interleaved
// across workers); onBatch receives an aggregate snapshot after each item
// finishes. Both may be nil.
//
// Cancelling ctx, or calling CancelAll, cancels in-flight items and causes
// queued items to terminate as Cancelled without dispatching.
func (s *Scheduler) RunBatch(ctx context.Context, reqs []Request, onItem ProgressFunc, onBatch BatchProgressFunc) []*Result {
	results := make([]*Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	batchCtx, cancel := context.WithCancel(ctx)
	s.track(&cancel)
	defer func() {
		s.untrack(&cancel)
		cancel()
	}()

	var progressMu sync.Mutex
	progress := BatchProgress{Total: len(reqs)}
	inProgress := make(map[int]struct{})
	done := make([]*Result, len(reqs))

	// snapshotLocked copies the aggregate state so callbacks never see a
	// slice or map the workers keep mutating. Caller holds progressMu.
	snapshotLocked := func() BatchProgress {
		snap := progress
		snap.InProgressIndices = make([]int, 0, len(inProgress))
		for idx := range inProgress {
			snap.InProgressIndices = append(snap.InProgressIndices, idx)
		}
		sort.Ints(snap.InProgressIndices)
		snap.ResultsSoFar = make([]*Result, len(done))
		copy(snap.ResultsSoFar, done)
		return snap
	}

	// The group context is deliberately unused for item work: a failed item
	// must not cancel its siblings, so every worker returns nil.
	g := new(errgroup.Group)
	g.SetLimit(s.maxParallel)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			progressMu.Lock()
			inProgress[i] = struct{}{}
			progressMu.Unlock()

			res := s.coordinator.Run(batchCtx, req, onItem)
			results[i] = res

			progressMu.Lock()
			delete(inProgress, i)
			done[i] = res
			progress.Completed++
			switch res.Status {
			case StatusCompleted:
				progress.Succeeded++
			case StatusCancelled:
				progress.Cancelled++
			default:
				progress.Failed++
			}
			snapshot := snapshotLocked()
			progressMu.Unlock()

			if onBatch != nil {
				onBatch(snapshot)
			}
			return nil
		})
	}

	g.Wait()
	return results
}

// CancelAll cancels every batch currently running through this scheduler.
// In-flight provider calls are aborted; queued items finish as Cancelled.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	cancels := make([]*context.CancelFunc, 0, len(s.cancels))
	for c := range s.cancels {
		cancels = append(cancels, c)
	}
	s.mu.Unlock()

	for _, c := range cancels {
		(*c)()
	}
}

func (s *Scheduler) track(c *context.CancelFunc) {
	s.mu.Lock()
	s.cancels[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Scheduler) untrack(c *context.CancelFunc) {
	s.mu.Lock()
	delete(s.cancels, c)
	s.mu.Unlock()
}
