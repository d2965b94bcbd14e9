package display

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBind = errors.New("bind: address already in use")

// testServers builds a server cache whose servers bind ephemeral loopback
// ports while keeping the requested port as their display port. Port 666
// always fails to bind.
func testServers(t *testing.T, maxServers int64, log zerolog.Logger) (ServerCache, *listenCounter) {
	t.Helper()
	lc := &listenCounter{calls: map[int]int{}}
	c := NewServerCache(ServerCacheOptions{
		MaxServers: maxServers,
		Logger:     log,
		Listen: func(_ context.Context, port int) (*Server, error) {
			lc.mu.Lock()
			lc.calls[port]++
			lc.mu.Unlock()
			if port == 666 {
				return nil, errBind
			}
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return nil, err
			}
			return Serve(port, ln, ServerOptions{Logger: log}), nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })
	return c, lc
}

type listenCounter struct {
	mu    sync.Mutex
	calls map[int]int
}

func (l *listenCounter) get(port int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[port]
}

func send(t *testing.T, addr net.Addr, payload []byte) {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestDisplay_ReceivesImage(t *testing.T) {
	servers, _ := testServers(t, 4, zerolog.Nop())
	d := New(context.Background(), "beauty", 1559, servers, zerolog.Nop())
	t.Cleanup(func() { _ = d.Close() })

	require.NotNil(t, d.Server())
	assert.Equal(t, 1559, d.Server().Port())

	data := make(chan struct{}, 64)
	image := make(chan struct{}, 1)
	d.DataReceived().Connect(func(*Display) { data <- struct{}{} })
	d.ImageReceived().Connect(func(*Display) { image <- struct{}{} })

	send(t, d.Server().Addr(), bytes.Repeat([]byte{0xab}, 4096))

	select {
	case <-image:
	case <-time.After(2 * time.Second):
		t.Fatal("image was not received")
	}
	assert.NotEmpty(t, data)

	drv := d.Driver()
	require.NotNil(t, drv)
	assert.Equal(t, int64(4096), drv.Received())
	assert.Equal(t, "1559", drv.Parameters()[ParamDisplayPort])

	st := d.Status()
	assert.True(t, st.Listening)
	assert.True(t, st.Driver)
	assert.Equal(t, int64(4096), st.Received)
}

// Two displays on one port share one server.
func TestDisplay_SharesServerPerPort(t *testing.T) {
	servers, lc := testServers(t, 4, zerolog.Nop())
	a := New(context.Background(), "a", 2000, servers, zerolog.Nop())
	b := New(context.Background(), "b", 2000, servers, zerolog.Nop())
	c := New(context.Background(), "c", 2001, servers, zerolog.Nop())
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
		_ = c.Close()
	})

	assert.Same(t, a.Server(), b.Server())
	assert.NotSame(t, a.Server(), c.Server())
	assert.Equal(t, 1, lc.get(2000))
}

// A port that cannot be bound is logged and degrades to "no server".
func TestDisplay_BindFailureDegrades(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	servers, lc := testServers(t, 4, zerolog.Nop())

	d := New(context.Background(), "broken", 666, servers, log)
	t.Cleanup(func() { _ = d.Close() })

	assert.Nil(t, d.Server())
	assert.False(t, d.Status().Listening)
	assert.Contains(t, buf.String(), "setup server")
	assert.Contains(t, buf.String(), errBind.Error())
	assert.False(t, servers.Contains(666))

	// Not negatively cached: the next attempt calls Listen again.
	d.SetPort(context.Background(), 666)
	assert.Equal(t, 2, lc.get(666))

	d.SetPort(context.Background(), 1559)
	require.NotNil(t, d.Server())
	assert.Equal(t, 1559, d.Port())
}

// Switching ports releases the old server so the cache can close it.
func TestDisplay_SetPortReleasesOldServer(t *testing.T) {
	servers, _ := testServers(t, 1, zerolog.Nop())
	d := New(context.Background(), "n", 3000, servers, zerolog.Nop())
	t.Cleanup(func() { _ = d.Close() })

	first := d.Server()
	require.NotNil(t, first)

	d.SetPort(context.Background(), 3001)
	require.NotNil(t, d.Server())
	assert.NotSame(t, first, d.Server())

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("old server must be closed once unreferenced and over the bound")
	}
	assert.Equal(t, []int{3001}, servers.Keys())
}

// A server still held by another display survives eviction.
func TestDisplay_HeldServerSurvivesEviction(t *testing.T) {
	servers, _ := testServers(t, 1, zerolog.Nop())
	keep := New(context.Background(), "keep", 4000, servers, zerolog.Nop())
	t.Cleanup(func() { _ = keep.Close() })

	other := New(context.Background(), "other", 4001, servers, zerolog.Nop())
	require.NoError(t, other.Close())

	srv := keep.Server()
	require.NotNil(t, srv)
	select {
	case <-srv.Done():
		t.Fatal("server in use must not be closed")
	default:
	}
	assert.Equal(t, []int{4000}, servers.Keys())

	send(t, srv.Addr(), []byte("still listening"))
}

func TestDisplay_CloseIsIdempotent(t *testing.T) {
	servers, _ := testServers(t, 2, zerolog.Nop())
	d := New(context.Background(), "n", 5000, servers, zerolog.Nop())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Nil(t, d.Server())

	// SetPort after Close does not take a new reference.
	d.SetPort(context.Background(), 5001)
	assert.Nil(t, d.Server())
	assert.Equal(t, 0, servers.Stats().Pinned)
}
