package cache

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// A mixed workload of concurrent Get/hold/Release/Remove on random keys.
// Should pass under `-race`; no held resource may ever be destroyed.
func TestRace_Basic(t *testing.T) {
	var created, destroyed atomic.Int64

	c := New[int, *fakeRes](Options[int, *fakeRes]{
		MaxCost: 16,
		Factory: func(_ context.Context, k int) (*fakeRes, int64, error) {
			created.Add(1)
			return &fakeRes{key: k}, 1, nil
		},
		Destroy: func(_ int, r *fakeRes) {
			destroyed.Add(1)
			_ = r.Close()
		},
	})

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 64
	deadline := time.Now().Add(time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			var held []*Handle[int, *fakeRes]
			for time.Now().Before(deadline) {
				k := r.Intn(keyspace)
				switch r.Intn(100) {
				case 0, 1, 2: // ~3% Remove
					c.Remove(k)
				case 3, 4, 5, 6, 7, 8, 9, 10, 11, 12: // ~10% hold for a while
					h, err := c.Get(context.Background(), k)
					if err != nil {
						t.Errorf("Get(%d): %v", k, err)
						return
					}
					held = append(held, h)
				default: // ~87% get and release
					h, err := c.Get(context.Background(), k)
					if err != nil {
						t.Errorf("Get(%d): %v", k, err)
						return
					}
					if h.Value().closed.Load() {
						t.Errorf("Get(%d) returned a destroyed resource", k)
					}
					h.Release()
				}
				if len(held) > 4 {
					for _, h := range held {
						if h.Value().closed.Load() {
							t.Errorf("held resource %d destroyed", h.Key())
						}
						h.Release()
					}
					held = held[:0]
				}
			}
			for _, h := range held {
				h.Release()
			}
		}(w)
	}
	wg.Wait()

	if cost := c.Cost(); cost > 16 {
		t.Fatalf("all handles released: cost %d must be within bound", cost)
	}
	if live := created.Load() - destroyed.Load(); live != int64(c.Len()) {
		t.Fatalf("only resident resources may be alive: live=%d resident=%d", live, c.Len())
	}
	_ = c.Close()
	if created.Load() != destroyed.Load() {
		t.Fatalf("leak after Close: created=%d destroyed=%d", created.Load(), destroyed.Load())
	}
}

// One hundred goroutines call Get on the same key concurrently.
// The Factory should run exactly once (singleflight coalescing).
func TestRace_SameKey(t *testing.T) {
	var calls int64

	c := New[int, *fakeRes](Options[int, *fakeRes]{
		MaxCost: 4,
		Factory: func(_ context.Context, k int) (*fakeRes, int64, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(2 * time.Millisecond) // simulate bind
			return &fakeRes{key: k}, 1, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	const goroutines = 100
	key := 1559

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(goroutines)

	seen := make([]*fakeRes, goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			h, err := c.Get(context.Background(), key)
			if err != nil {
				t.Errorf("Get error: %v", err)
				return
			}
			seen[i] = h.Value()
			h.Release()
		}(i)
	}

	close(start)
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("factory should run exactly once, got %d", got)
	}
	for _, r := range seen {
		if r != seen[0] {
			t.Fatal("callers observed different resources")
		}
	}
}
