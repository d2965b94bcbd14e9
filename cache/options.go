package cache

import (
	"context"
	"time"

	"github.com/IvanBrykalov/rescache/policy"
)

// EvictReason explains why the cache dropped its reference to an entry.
type EvictReason int

const (
	// EvictCapacity: removed to bring total cost back under MaxCost.
	EvictCapacity EvictReason = iota
	// EvictRemoved: removed by an explicit Remove call.
	EvictRemoved
	// EvictClosed: removed because the cache was closed.
	EvictClosed
)

// String returns a stable lowercase label for the reason.
func (r EvictReason) String() string {
	switch r {
	case EvictRemoved:
		return "removed"
	case EvictClosed:
		return "closed"
	default:
		return "capacity"
	}
}

// Factory builds the resource for k and reports its cost.
// It must either return a fully constructed resource or fail cleanly.
// A non-positive cost is accounted as 1.
type Factory[K comparable, R any] func(ctx context.Context, k K) (R, int64, error)

// UnitCost adapts a plain constructor into a Factory where every resource
// costs 1, so MaxCost becomes an entry count.
func UnitCost[K comparable, R any](fn func(ctx context.Context, k K) (R, error)) Factory[K, R] {
	return func(ctx context.Context, k K) (R, int64, error) {
		r, err := fn(ctx, k)
		return r, 1, err
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, cost int64)
	// Load observes one Factory call; err is nil on success.
	Load(d time.Duration, err error)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache. Zero values are safe except where noted;
// defaults are applied in New():
//   - nil Policy   => LRU
//   - nil Metrics  => NoopMetrics
//   - nil Destroy  => Close() if the resource implements io.Closer
type Options[K comparable, R any] struct {
	// MaxCost bounds the total cost of resident entries. Required (> 0).
	MaxCost int64

	// Factory constructs a resource on miss. Required.
	Factory Factory[K, R]

	// Destroy is called exactly once, outside the cache lock, when the last
	// reference to a resource is released.
	Destroy func(k K, r R)

	// Policy orders entries for eviction; nil => LRU.
	Policy policy.Policy[K]

	// OnEvict is called after the cache drops its reference to k, outside
	// the lock. The resource may still be alive if handles are outstanding.
	OnEvict func(k K, reason EvictReason)

	Metrics Metrics

	// Clock allows overriding the time source used for load timing.
	Clock Clock
}
