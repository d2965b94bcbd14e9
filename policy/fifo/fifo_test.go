package fifo

import (
	"testing"

	"github.com/IvanBrykalov/rescache/policy"
)

type testNode struct {
	k      string
	pinned bool
}

func (n *testNode) Key() string  { return n.k }
func (n *testNode) Pinned() bool { return n.pinned }

// listHooks is a tiny slice-backed list, index 0 = MRU.
type listHooks struct {
	moves int
	list  []policy.Node[string]
}

func (h *listHooks) MoveToFront(policy.Node[string]) { h.moves++ }
func (h *listHooks) PushFront(n policy.Node[string]) {
	h.list = append([]policy.Node[string]{n}, h.list...)
}
func (h *listHooks) Remove(policy.Node[string]) {}
func (h *listHooks) Back() policy.Node[string] {
	if len(h.list) == 0 {
		return nil
	}
	return h.list[len(h.list)-1]
}
func (h *listHooks) Prev(n policy.Node[string]) policy.Node[string] {
	for i := len(h.list) - 1; i > 0; i-- {
		if h.list[i] == n {
			return h.list[i-1]
		}
	}
	return nil
}
func (h *listHooks) Len() int { return len(h.list) }

// Hits must not reorder entries.
func TestFIFO_OnGet_NoPromotion(t *testing.T) {
	t.Parallel()

	h := &listHooks{}
	p := New[string]().New(h)

	a, b := &testNode{k: "a"}, &testNode{k: "b"}
	p.OnAdd(a)
	p.OnAdd(b)
	p.OnGet(a)

	if h.moves != 0 {
		t.Fatalf("FIFO must not call MoveToFront, got %d calls", h.moves)
	}
	if v := p.Victim(); v != a {
		t.Fatalf("victim must be the first inserted node, got %v", v)
	}
}

func TestFIFO_Victim_SkipsPinned(t *testing.T) {
	t.Parallel()

	h := &listHooks{}
	p := New[string]().New(h)

	a, b := &testNode{k: "a", pinned: true}, &testNode{k: "b"}
	p.OnAdd(a)
	p.OnAdd(b)

	if v := p.Victim(); v != b {
		t.Fatalf("victim must skip pinned a, got %v", v)
	}
}

func TestFIFO_Victim_Empty(t *testing.T) {
	t.Parallel()

	p := New[string]().New(&listHooks{})
	if v := p.Victim(); v != nil {
		t.Fatalf("empty list must have no victim, got %v", v)
	}
}
