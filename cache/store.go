package cache

import (
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/rescache/policy"
)

// store keeps resident entries: a map for lookups and an intrusive
// doubly linked list (head=MRU, tail=LRU) ordered by the policy.
// A single store backs the cache so eviction order is global.
type store[K comparable, R any] struct {
	// ---- guarded by mu ----
	mu      sync.Mutex
	m       map[K]*node[K, R]
	head    *node[K, R] // MRU
	tail    *node[K, R] // LRU
	len     int         // number of resident entries
	cost    int64       // total resident cost
	maxCost int64
	closed  bool

	pol policy.ListPolicy[K]
	opt *Options[K, R]

	// over is set while cost > maxCost; read without the lock on release.
	over atomic.Bool

	hits      atomic.Int64
	misses    atomic.Int64
	evicts    atomic.Int64
	overflows atomic.Int64
}

// dropped is an entry whose cache reference must be released once the
// lock is gone, so Destroy and OnEvict never run under it.
type dropped[K comparable, R any] struct {
	n      *node[K, R]
	reason EvictReason
}

func newStore[K comparable, R any](opt *Options[K, R]) *store[K, R] {
	s := &store[K, R]{
		m:       make(map[K]*node[K, R]),
		maxCost: opt.MaxCost,
		opt:     opt,
	}
	s.pol = opt.Policy.New(storeHooks[K, R]{s: s})
	return s
}

// acquire returns a new handle for a resident key and promotes it.
// record is false for lookups inside a miss episode (the leader's
// re-check, a follower taking its reference), which already counted.
func (s *store[K, R]) acquire(k K, record bool) (*Handle[K, R], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		if record {
			s.misses.Add(1)
			s.opt.Metrics.Miss()
		}
		return nil, false
	}

	// The cache's own reference keeps refs >= 1 while n is resident.
	n.res.refs.Add(1)
	s.pol.OnGet(n)
	if record {
		s.hits.Add(1)
		s.opt.Metrics.Hit()
	}
	return newHandle(n.res), true
}

// insert admits a freshly built resource as MRU and enforces the bound.
// It returns false, admitting nothing, if the store is closed.
func (s *store[K, R]) insert(res *resource[K, R], cost int64) bool {
	var out []dropped[K, R]

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if old, ok := s.m[res.key]; ok {
		// Replace a resident entry for the same key; the newer resource wins.
		out = append(out, s.unlinkLocked(old, EvictRemoved))
	}
	n := &node[K, R]{key: res.key, res: res, cost: cost}
	s.m[res.key] = n
	s.pol.OnAdd(n)
	out = s.enforceLocked(out)
	s.mu.Unlock()

	s.releaseAll(out)
	return true
}

// remove drops the cache reference for k.
func (s *store[K, R]) remove(k K) bool {
	s.mu.Lock()
	n, ok := s.m[k]
	if !ok {
		s.mu.Unlock()
		return false
	}
	d := s.unlinkLocked(n, EvictRemoved)
	s.opt.Metrics.Size(s.len, s.cost)
	s.mu.Unlock()

	s.releaseAll([]dropped[K, R]{d})
	return true
}

// trim re-runs bound enforcement.
func (s *store[K, R]) trim() {
	s.mu.Lock()
	out := s.enforceLocked(nil)
	s.mu.Unlock()
	s.releaseAll(out)
}

// close drops every entry and refuses further inserts.
func (s *store[K, R]) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	out := make([]dropped[K, R], 0, s.len)
	for s.tail != nil {
		out = append(out, s.unlinkLocked(s.tail, EvictClosed))
	}
	s.over.Store(false)
	s.opt.Metrics.Size(s.len, s.cost)
	s.mu.Unlock()

	s.releaseAll(out)
}

func (s *store[K, R]) contains(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[k]
	return ok
}

func (s *store[K, R]) size() (entries int, cost int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.len, s.cost
}

// keys lists resident keys from MRU to LRU.
func (s *store[K, R]) keys() []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]K, 0, s.len)
	for n := s.head; n != nil; n = n.next {
		out = append(out, n.key)
	}
	return out
}

func (s *store[K, R]) pinned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := 0
	for n := s.head; n != nil; n = n.next {
		if n.Pinned() {
			p++
		}
	}
	return p
}

// onUnpin is wired into every resource; it only takes the lock when the
// store is known to be over budget.
func (s *store[K, R]) onUnpin() {
	if s.over.Load() {
		s.trim()
	}
}

// -------------------- internals (mu held) --------------------

// insertFront inserts n at MRU in O(1).
func (s *store[K, R]) insertFront(n *node[K, R]) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
	s.cost += n.cost
}

// moveToFront promotes n to MRU in O(1).
func (s *store[K, R]) moveToFront(n *node[K, R]) {
	if n == s.head {
		return
	}
	// detach
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	// insert at head
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// removeNode removes n from the list and updates counters in O(1).
func (s *store[K, R]) removeNode(n *node[K, R]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.len--
	s.cost -= n.cost
}

// unlinkLocked detaches n from the list and map and records the drop.
// The cache reference is released later by releaseAll.
func (s *store[K, R]) unlinkLocked(n *node[K, R], reason EvictReason) dropped[K, R] {
	s.pol.OnRemove(n)
	s.removeNode(n)
	delete(s.m, n.key)
	s.evicts.Add(1)
	s.opt.Metrics.Evict(reason)
	return dropped[K, R]{n: n, reason: reason}
}

// enforceLocked evicts policy victims until cost fits the bound. If every
// remaining entry is pinned the bound is left exceeded; handles in use are
// never invalidated.
func (s *store[K, R]) enforceLocked(out []dropped[K, R]) []dropped[K, R] {
	wasOver := s.over.Load()
	// Raise the flag before reading pin counts: a holder that unpins after
	// our read is then guaranteed to see it and trim.
	if s.cost > s.maxCost {
		s.over.Store(true)
	}
	for s.cost > s.maxCost {
		v := s.pol.Victim()
		if v == nil {
			break
		}
		out = append(out, s.unlinkLocked(v.(*node[K, R]), EvictCapacity))
	}
	isOver := s.cost > s.maxCost
	if isOver && !wasOver {
		s.overflows.Add(1)
	}
	s.over.Store(isOver)
	s.opt.Metrics.Size(s.len, s.cost)
	return out
}

func (s *store[K, R]) releaseAll(out []dropped[K, R]) {
	for _, d := range out {
		d.n.res.release()
		if cb := s.opt.OnEvict; cb != nil {
			cb(d.n.key, d.reason)
		}
	}
}

// -------------------- policy hooks --------------------

// storeHooks adapts the store's list operations to policy.Hooks.
type storeHooks[K comparable, R any] struct{ s *store[K, R] }

func (h storeHooks[K, R]) MoveToFront(x policy.Node[K]) { h.s.moveToFront(x.(*node[K, R])) }
func (h storeHooks[K, R]) PushFront(x policy.Node[K])   { h.s.insertFront(x.(*node[K, R])) }
func (h storeHooks[K, R]) Remove(x policy.Node[K]) {
	// Policies call Remove while the store lock is held.
	// Map bookkeeping is performed by the store itself.
	h.s.removeNode(x.(*node[K, R]))
}

// Back and Prev must return an untyped nil, not a nil *node wrapped in
// the interface, so policies can test against nil.
func (h storeHooks[K, R]) Back() policy.Node[K] {
	if h.s.tail == nil {
		return nil
	}
	return h.s.tail
}

func (h storeHooks[K, R]) Prev(x policy.Node[K]) policy.Node[K] {
	if p := x.(*node[K, R]).prev; p != nil {
		return p
	}
	return nil
}

func (h storeHooks[K, R]) Len() int { return h.s.len }
