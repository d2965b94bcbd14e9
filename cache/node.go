package cache

// node is an intrusive doubly linked list element owned by the store.
// It pairs the key with the cache's counted reference to the resource.
type node[K comparable, R any] struct {
	key K
	res *resource[K, R]

	// Intrusive list links: head is MRU, tail is LRU.
	prev *node[K, R]
	next *node[K, R]

	// Logical cost charged against MaxCost. Always >= 1.
	cost int64
}

// Key returns the node key (part of policy.Node interface).
func (n *node[K, R]) Key() K { return n.key }

// Pinned reports whether anyone besides the cache holds the resource
// (part of policy.Node interface).
func (n *node[K, R]) Pinned() bool { return n.res.refs.Load() > 1 }
