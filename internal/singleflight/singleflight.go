// Package singleflight coalesces concurrent calls for the same key.
package singleflight

import (
	"context"
	"errors"
	"sync"
)

// ErrPanicked is returned to followers when the leader's fn panicked.
var ErrPanicked = errors.New("singleflight: leader panicked")

// Group coalesces concurrent function calls for the same key K so that
// the supplied fn is executed at most once per flight. Other concurrent
// callers wait for the shared result.
//
// Concurrency notes:
//   - The first caller for a given key becomes the leader and runs fn.
//   - Followers wait on c.done. Publishing (val, err) happens-before
//     close(c.done), so reads after <-done observe the final values.
//   - Cancelling ctx in a follower unblocks only that follower; it does
//     NOT cancel the leader's fn.
//   - The in-flight marker is removed before followers are woken, so a
//     caller arriving after completion starts a new flight.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
}

// Do runs fn once for the given key. Concurrent calls with the same key
// wait for the shared result. leader reports whether this caller ran fn.
// If ctx is cancelled in a follower, that follower returns ctx.Err() while
// the leader continues to run fn.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (v V, leader bool, err error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()

		select {
		case <-c.done:
			return c.val, false, c.err
		case <-ctx.Done():
			var zero V
			return zero, false, ctx.Err()
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	// fn runs outside the lock; a panic still releases the followers.
	finished := false
	defer func() {
		if !finished {
			c.err = ErrPanicked
			g.finish(key, c)
		}
	}()
	c.val, c.err = fn()
	finished = true
	g.finish(key, c)

	return c.val, true, c.err
}

// InFlight reports whether a call for key is currently running.
func (g *Group[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

func (g *Group[K, V]) finish(key K, c *call[V]) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
	close(c.done)
}
