package cache

import "context"

// Cache is an LRU-bounded cache of expensive, shareable resources keyed by K.
// All methods are safe for concurrent use by multiple goroutines.
//
// Resources are built on demand by Options.Factory and handed out as
// reference-counted Handles. The cache holds one reference per resident
// entry; every Handle is another. A resource is destroyed exactly when the
// last of those references is released.
type Cache[K comparable, R any] interface {
	// Get returns a new reference to the resource for k, constructing it on
	// a miss. Concurrent misses for the same key share one Factory call.
	// Factory errors are returned untouched and leave no entry behind.
	// On hit, the entry is promoted according to the policy.
	Get(ctx context.Context, k K) (*Handle[K, R], error)

	// Contains reports whether k is resident without promoting it.
	Contains(k K) bool

	// Remove drops the cache's reference for k and returns true if k was resident.
	// Callers holding handles keep the resource alive.
	Remove(k K) bool

	// Len returns the number of resident entries.
	Len() int

	// Cost returns the total cost of resident entries.
	Cost() int64

	// Keys returns resident keys ordered from most to least recently used.
	Keys() []K

	// Trim evicts unpinned entries until the cost bound holds again.
	// It runs automatically when a released handle unpins an entry while
	// the cache is over budget.
	Trim()

	// Stats returns a snapshot of counters and sizes.
	Stats() Stats

	// Close drops every cache reference and rejects further Gets with ErrClosed.
	// It is idempotent and always returns nil.
	Close() error
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Hits       int64
	Misses     int64
	Loads      int64 // successful Factory calls
	LoadErrors int64
	Evictions  int64
	Overflows  int64 // inserts that left the cache over budget because every entry was pinned

	Entries int
	Cost    int64
	Pinned  int // resident entries with at least one outstanding Handle
}
