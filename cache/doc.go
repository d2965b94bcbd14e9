// Package cache provides a generic, bounded cache of expensive, shareable
// resources keyed by a comparable key: network listeners, connections,
// decoders, anything that is costly to build and safe to share.
//
// Design
//
//   - Construction: resources are built on demand by Options.Factory.
//     Concurrent misses for the same key are coalesced (singleflight), so
//     one miss episode runs the Factory exactly once. Hits never wait on
//     a Factory running for another key.
//
//   - Sharing: Get returns a *Handle, one counted reference to the
//     resource. The cache itself owns one more reference per resident
//     entry. Options.Destroy (or io.Closer.Close) runs exactly when the
//     last reference is released.
//
//   - Storage: a map[K]*node for lookups plus an intrusive MRU↔LRU doubly
//     linked list. Lookups, promotions and inserts are O(1) expected.
//
//   - Bound: every entry carries a cost (Factory's second result, at least
//     1). After an insert the store evicts policy victims until the total
//     cost is within MaxCost. Entries whose resource is held by a caller
//     ("pinned") are skipped; if everything is pinned the bound stays
//     exceeded until a handle is released, at which point the cache trims
//     itself.
//
//   - Failures: a Factory error is returned untouched to every caller of
//     that miss episode. Nothing is inserted or evicted and the failure is
//     not remembered; the next Get tries again.
//
//   - Policies: LRU by default (policy/lru); policy/fifo ignores hits.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size/Load signals.
//     NoopMetrics is the default; metrics/prom exports them to Prometheus.
//
// Basic usage
//
//	servers := cache.New[int, *Server](cache.Options[int, *Server]{
//	    MaxCost: 10,
//	    Factory: cache.UnitCost(func(ctx context.Context, port int) (*Server, error) {
//	        return Listen(ctx, port)
//	    }),
//	})
//	defer servers.Close()
//
//	h, err := servers.Get(ctx, 1559)
//	if err != nil {
//	    // no server for now
//	}
//	defer h.Release()
//	srv := h.Value()
//
// Weighted entries
//
//	c := cache.New[string, *Decoder](cache.Options[string, *Decoder]{
//	    MaxCost: 64 << 20,
//	    Factory: func(ctx context.Context, name string) (*Decoder, int64, error) {
//	        d, err := openDecoder(name)
//	        if err != nil {
//	            return nil, 0, err
//	        }
//	        return d, d.Footprint(), nil
//	    },
//	})
package cache
