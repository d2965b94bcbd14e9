package cache

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/rescache/internal/singleflight"
	"github.com/IvanBrykalov/rescache/policy/lru"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("cache: closed")

// cache is the Cache implementation: one store for resident entries plus
// a singleflight group that serializes construction per key.
type cache[K comparable, R any] struct {
	s      *store[K, R]
	closed atomic.Bool

	opt Options[K, R]

	loads      atomic.Int64
	loadErrors atomic.Int64

	// sf coalesces concurrent misses for the same key.
	sf singleflight.Group[K, *resource[K, R]]
}

// New constructs a cache with the provided Options.
// Defaults:
//   - nil Metrics  -> NoopMetrics
//   - nil Policy   -> LRU
//   - nil Destroy  -> io.Closer.Close when R implements it
//
// New panics if MaxCost is not positive or Factory is nil.
func New[K comparable, R any](opt Options[K, R]) Cache[K, R] {
	if opt.MaxCost <= 0 {
		panic("MaxCost must be > 0")
	}
	if opt.Factory == nil {
		panic("Factory must not be nil")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New[K]()
	}
	if opt.Destroy == nil {
		opt.Destroy = closeResource[K, R]
	}

	c := &cache[K, R]{opt: opt}
	c.s = newStore(&c.opt)
	return c
}

// closeResource is the default Destroy: Close the value if it can be closed.
func closeResource[K comparable, R any](_ K, r R) {
	if cl, ok := any(r).(io.Closer); ok {
		_ = cl.Close()
	}
}

// ---- Cache[K,R] implementation ----

// Get returns a new reference to the resource for k.
//
// Hit path: a map lookup and a list promotion under the store lock; the
// Factory is never called.
//
// Miss path: one caller per key becomes the leader and runs the Factory
// outside the lock; the rest wait for it (or for their ctx). The leader
// inserts the entry already holding its own reference, so enforcing the
// bound cannot destroy the resource it is about to return. A follower
// whose entry left the cache before it could take a reference starts
// over as a new miss.
func (c *cache[K, R]) Get(ctx context.Context, k K) (*Handle[K, R], error) {
	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		if h, ok := c.s.acquire(k, true); ok {
			return h, nil
		}

		var mine *Handle[K, R]
		_, leader, err := c.sf.Do(ctx, k, func() (*resource[K, R], error) {
			// double-check after becoming leader: a previous flight may
			// have finished between our miss and Do.
			if h, ok := c.s.acquire(k, false); ok {
				mine = h
				return h.res, nil
			}
			h, err := c.load(ctx, k)
			mine = h
			if err != nil {
				return nil, err
			}
			return h.res, nil
		})
		if err != nil {
			return nil, err
		}
		if leader {
			return mine, nil
		}
		// Followers take their reference through the map, so nobody is
		// handed a resource the cache has already dropped.
		if h, ok := c.s.acquire(k, false); ok {
			return h, nil
		}
	}
}

// load runs the Factory and admits the result. On failure nothing is
// inserted and nothing is evicted.
func (c *cache[K, R]) load(ctx context.Context, k K) (*Handle[K, R], error) {
	start := c.now()
	v, cost, err := c.opt.Factory(ctx, k)
	c.opt.Metrics.Load(time.Duration(c.now()-start), err)
	if err != nil {
		c.loadErrors.Add(1)
		return nil, err
	}
	c.loads.Add(1)

	if cost <= 0 {
		cost = 1
	}
	res := &resource[K, R]{
		key:      k,
		val:      v,
		destroy:  c.opt.Destroy,
		unpinned: c.s.onUnpin,
	}
	// One reference for the entry, one for the caller.
	res.refs.Store(2)

	if !c.s.insert(res, cost) {
		// Closed while the Factory was running: nobody else can see res.
		res.refs.Store(0)
		c.opt.Destroy(k, v)
		return nil, ErrClosed
	}
	return newHandle(res), nil
}

// Contains reports residency without promoting the entry.
func (c *cache[K, R]) Contains(k K) bool { return c.s.contains(k) }

// Remove drops the cache's reference for k if resident.
func (c *cache[K, R]) Remove(k K) bool { return c.s.remove(k) }

// Len returns the number of resident entries.
func (c *cache[K, R]) Len() int {
	n, _ := c.s.size()
	return n
}

// Cost returns the total resident cost.
func (c *cache[K, R]) Cost() int64 {
	_, cost := c.s.size()
	return cost
}

// Keys returns resident keys from MRU to LRU.
func (c *cache[K, R]) Keys() []K { return c.s.keys() }

// Trim evicts unpinned entries until the bound holds again.
func (c *cache[K, R]) Trim() { c.s.trim() }

// Stats returns a snapshot of the cache counters.
func (c *cache[K, R]) Stats() Stats {
	entries, cost := c.s.size()
	return Stats{
		Hits:       c.s.hits.Load(),
		Misses:     c.s.misses.Load(),
		Loads:      c.loads.Load(),
		LoadErrors: c.loadErrors.Load(),
		Evictions:  c.s.evicts.Load(),
		Overflows:  c.s.overflows.Load(),
		Entries:    entries,
		Cost:       cost,
		Pinned:     c.s.pinned(),
	}
}

// Close marks the cache closed and drops every cache reference.
// Resources with outstanding handles live until those are released.
func (c *cache[K, R]) Close() error {
	c.closed.Store(true)
	c.s.close()
	return nil
}

// ---- helpers ----

func (c *cache[K, R]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}
