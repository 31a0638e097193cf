// usage.go tracks per-provider generation counters and a bounded history of
// recent requests. The UI surfaces these so operators can see how much paid
// API traffic the app is producing versus cache hits.
package imagegen

import (
	"sync"
	"time"
)

// defaultUsageHistoryLimit bounds the in-memory record list.
const defaultUsageHistoryLimit = 500

// UsageRecord is one completed request observation.
type UsageRecord struct {
	Provider  string
	Model     string
	Timestamp time.Time
	FromCache bool
	Success   bool
	Duration  time.Duration
}

// ProviderUsage aggregates counters for one provider.
type ProviderUsage struct {
	Requests  int64 // terminal results observed
	Generated int64 // successful provider calls (cache misses)
	CacheHits int64
	Failures  int64
}

// UsageStats accumulates usage counters and recent history.
//
// Thread Safety: safe for concurrent use.
type UsageStats struct {
	mu        sync.Mutex
	counters  map[string]*ProviderUsage
	history   []UsageRecord
	maxRecent int
}

// NewUsageStats creates an empty stats collector.
func NewUsageStats() *UsageStats {
	return &UsageStats{
		counters:  make(map[string]*ProviderUsage),
		maxRecent: defaultUsageHistoryLimit,
	}
}

// Record observes one terminal result. Zero timestamps are filled in with
// the current time.
func (u *UsageStats) Record(rec UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	usage, ok := u.counters[rec.Provider]
	if !ok {
		usage = &ProviderUsage{}
		u.counters[rec.Provider] = usage
	}

	usage.Requests++
	switch {
	case rec.Success && rec.FromCache:
		usage.CacheHits++
	case rec.Success:
		usage.Generated++
	default:
		usage.Failures++
	}

	u.history = append(u.history, rec)
	if len(u.history) > u.maxRecent {
		u.history = u.history[len(u.history)-u.maxRecent:]
	}
}

// Provider returns a copy of the counters for one provider. Unknown
// providers return zeros.
func (u *UsageStats) Provider(name string) ProviderUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	if usage, ok := u.counters[name]; ok {
		return *usage
	}
	return ProviderUsage{}
}

// Totals returns a copy of all per-provider counters.
func (u *UsageStats) Totals() map[string]ProviderUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]ProviderUsage, len(u.counters))
	for name, usage := range u.counters {
		out[name] = *usage
	}
	return out
}

// Recent returns up to n most recent records, newest last. n <= 0 returns
// the full retained history.
func (u *UsageStats) Recent(n int) []UsageRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	if n <= 0 || n > len(u.history) {
		n = len(u.history)
	}
	out := make([]UsageRecord, n)
	copy(out, u.history[len(u.history)-n:])
	return out
}
