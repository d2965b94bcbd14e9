// Package fifo implements a first-in-first-out eviction policy: hits do not
// refresh an entry, so resources are dropped in construction order.
package fifo

import "github.com/IvanBrykalov/rescache/policy"

type fifo[K comparable] struct {
	h policy.Hooks[K]
}

type fifoPolicy[K comparable] struct{}

// New returns a Policy factory that constructs FIFO instances.
func New[K comparable]() policy.Policy[K] { return fifoPolicy[K]{} }

func (fifoPolicy[K]) New(h policy.Hooks[K]) policy.ListPolicy[K] {
	return &fifo[K]{h: h}
}

func (p *fifo[K]) OnAdd(n policy.Node[K]) { p.h.PushFront(n) }

// OnGet keeps insertion order.
func (p *fifo[K]) OnGet(policy.Node[K]) {}

func (p *fifo[K]) OnRemove(policy.Node[K]) {}

func (p *fifo[K]) Victim() policy.Node[K] { return policy.OldestUnpinned(p.h) }
