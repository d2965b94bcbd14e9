package signal

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal_DeliveryOrder(t *testing.T) {
	var s Signal[int]
	var got []string

	s.Connect(func(v int) { got = append(got, "a") })
	s.Connect(func(v int) { got = append(got, "b") })
	s.Connect(func(v int) { got = append(got, "c") })

	s.Emit(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSignal_Disconnect(t *testing.T) {
	var s Signal[string]
	var got []string

	a := s.Connect(func(v string) { got = append(got, "a:"+v) })
	s.Connect(func(v string) { got = append(got, "b:"+v) })
	require.Equal(t, 2, s.Len())
	require.True(t, a.Connected())
	assert.NotEqual(t, a.ID().String(), "")

	a.Disconnect()
	a.Disconnect()
	s.Emit("x")

	assert.Equal(t, []string{"b:x"}, got)
	assert.Equal(t, 1, s.Len())

	var zero Connection
	assert.False(t, zero.Connected())
	zero.Disconnect()
}

// A slot disconnecting itself during Emit does not disturb delivery.
func TestSignal_ReentrantDisconnect(t *testing.T) {
	var s Signal[int]
	calls := 0

	var self Connection
	self = s.Connect(func(int) {
		calls++
		self.Disconnect()
	})
	s.Connect(func(int) { calls += 10 })

	s.Emit(0)
	s.Emit(0)
	assert.Equal(t, 21, calls)
}

func TestSignal_ConcurrentEmit(t *testing.T) {
	var (
		s  Signal[int]
		mu sync.Mutex
		n  int
		wg sync.WaitGroup
	)
	s.Connect(func(v int) {
		mu.Lock()
		n += v
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Emit(1)
			c := s.Connect(func(int) {})
			c.Disconnect()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, n)
}
