// Package signal is a small typed publish/subscribe registry.
//
// Slots are called in the order they were connected. Emit snapshots the
// slot list first, so a slot may connect or disconnect (itself or others)
// while being called; such changes take effect from the next Emit.
package signal

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Signal delivers values of type T to connected slots.
// The zero value is ready to use. Safe for concurrent use.
type Signal[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
}

type slot[T any] struct {
	id uuid.UUID
	fn func(T)
}

// Connection identifies one connected slot.
type Connection struct {
	id         uuid.UUID
	disconnect func(uuid.UUID)
}

// ID returns the connection's unique identifier.
func (c Connection) ID() uuid.UUID { return c.id }

// Connected reports whether c refers to a slot (the zero Connection does not).
func (c Connection) Connected() bool { return c.disconnect != nil }

// Disconnect removes the slot. It is safe to call more than once and on
// the zero Connection.
func (c Connection) Disconnect() {
	if c.disconnect != nil {
		c.disconnect(c.id)
	}
}

// Connect appends fn to the slot list.
func (s *Signal[T]) Connect(fn func(T)) Connection {
	id := uuid.New()
	s.mu.Lock()
	s.slots = append(s.slots, slot[T]{id: id, fn: fn})
	s.mu.Unlock()
	return Connection{id: id, disconnect: s.remove}
}

// Emit calls every connected slot with v, in connection order.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	snapshot := slices.Clone(s.slots)
	s.mu.Unlock()

	for _, sl := range snapshot {
		sl.fn(v)
	}
}

// Len returns the number of connected slots.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func (s *Signal[T]) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = slices.DeleteFunc(s.slots, func(sl slot[T]) bool { return sl.id == id })
}
