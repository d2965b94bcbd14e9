package policy

// Node is the minimal contract a cache entry must satisfy for a policy.
// Pinned reports whether the entry's resource is referenced by anyone
// other than the cache itself; pinned nodes are never offered as victims.
type Node[K comparable] interface {
	Key() K
	Pinned() bool
}

// Hooks expose O(1) list operations that a policy can use to manipulate
// the cache's intrusive MRU/LRU list. Implementations are provided by the store.
//
// Concurrency: all hook calls happen under the store lock.
// Important: hooks manage only the list; the store owns the key->node map.
type Hooks[K comparable] interface {
	// MoveToFront promotes the node to MRU.
	MoveToFront(Node[K])
	// PushFront inserts the node at MRU (used on admission).
	PushFront(Node[K])
	// Remove detaches the node from the list (map bookkeeping is done by the store).
	Remove(Node[K])
	// Back returns the current LRU node (or nil if empty).
	Back() Node[K]
	// Prev returns the node one step closer to MRU than n (or nil at the head).
	Prev(Node[K]) Node[K]
	// Len returns the number of resident nodes.
	Len() int
}

// ListPolicy is an eviction policy instance bound to a store's hooks.
// All methods are invoked under the store lock.
//
// Semantics:
//   - OnAdd places a newly admitted node in the list.
//   - OnGet reacts to a hit (LRU promotes, FIFO does not).
//   - OnRemove is a notification; the store performs the actual unlink.
//   - Victim returns the next node to drop while the store is over budget,
//     or nil if every resident node is pinned.
type ListPolicy[K comparable] interface {
	OnAdd(Node[K])
	OnGet(Node[K])
	OnRemove(Node[K])
	Victim() Node[K]
}

// Policy is a factory that creates a policy instance bound to a store's hooks.
type Policy[K comparable] interface {
	New(Hooks[K]) ListPolicy[K]
}

// OldestUnpinned walks from the LRU end towards MRU and returns the first
// node that is not pinned. The walk only goes past pinned nodes, so it is
// O(1) unless callers hold references to the oldest entries.
func OldestUnpinned[K comparable](h Hooks[K]) Node[K] {
	for n := h.Back(); n != nil; n = h.Prev(n) {
		if !n.Pinned() {
			return n
		}
	}
	return nil
}
