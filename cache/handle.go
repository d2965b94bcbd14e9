package cache

import "sync/atomic"

// resource is the shared, reference-counted box around a constructed value.
// The cache's entry owns one reference while resident; each Handle owns one.
type resource[K comparable, R any] struct {
	key  K
	val  R
	refs atomic.Int64

	destroy func(K, R)
	// unpinned runs when the count falls back to one, i.e. a holder let go
	// and only a single reference (usually the cache's) remains.
	unpinned func()
}

// tryRetain adds a reference unless the resource is already destroyed.
func (r *resource[K, R]) tryRetain() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (r *resource[K, R]) release() {
	switch n := r.refs.Add(-1); {
	case n == 0:
		if r.destroy != nil {
			r.destroy(r.key, r.val)
		}
	case n == 1:
		if r.unpinned != nil {
			r.unpinned()
		}
	case n < 0:
		panic("cache: resource reference count went negative")
	}
}

// Handle is one counted reference to a cached resource.
// The resource stays valid until Release, even if the cache has evicted
// its own entry in the meantime. A Handle must not be used after Release.
type Handle[K comparable, R any] struct {
	res      *resource[K, R]
	released atomic.Bool
}

func newHandle[K comparable, R any](res *resource[K, R]) *Handle[K, R] {
	return &Handle[K, R]{res: res}
}

// Value returns the shared resource.
func (h *Handle[K, R]) Value() R { return h.res.val }

// Key returns the key the resource was built for.
func (h *Handle[K, R]) Key() K { return h.res.key }

// Clone returns an independent reference to the same resource.
// Cloning a released handle panics.
func (h *Handle[K, R]) Clone() *Handle[K, R] {
	if h.released.Load() || !h.res.tryRetain() {
		panic("cache: Clone of a released handle")
	}
	return newHandle(h.res)
}

// Release drops this reference. Subsequent calls are no-ops.
func (h *Handle[K, R]) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.res.release()
	}
}
