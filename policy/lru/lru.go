// Package lru implements the LRU eviction policy.
package lru

import "github.com/IvanBrykalov/rescache/policy"

// lru is a classic "move-to-front" Least-Recently-Used policy.
// It delegates list manipulation to policy.Hooks provided by the store.
type lru[K comparable] struct {
	h policy.Hooks[K]
}

type lruPolicy[K comparable] struct{}

// New returns a Policy factory that constructs LRU instances.
func New[K comparable]() policy.Policy[K] { return lruPolicy[K]{} }

// New implements policy.Policy by binding store hooks.
func (lruPolicy[K]) New(h policy.Hooks[K]) policy.ListPolicy[K] {
	return &lru[K]{h: h}
}

// OnAdd places the new entry at MRU.
func (p *lru[K]) OnAdd(n policy.Node[K]) { p.h.PushFront(n) }

// OnGet promotes the entry to MRU.
func (p *lru[K]) OnGet(n policy.Node[K]) { p.h.MoveToFront(n) }

// OnRemove is a no-op for pure LRU (nothing to clean up in policy state).
func (p *lru[K]) OnRemove(_ policy.Node[K]) {}

// Victim returns the least recently used entry nobody else holds.
func (p *lru[K]) Victim() policy.Node[K] { return policy.OldestUnpinned(p.h) }
