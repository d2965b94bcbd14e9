package display

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_DriverLifecycle(t *testing.T) {
	s, err := Listen(context.Background(), 0, ServerOptions{Host: "127.0.0.1", Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	created := make(chan *Driver, 1)
	s.DriverCreated().Connect(func(d *Driver) { created <- d })

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)

	var drv *Driver
	select {
	case drv = <-created:
	case <-time.After(2 * time.Second):
		t.Fatal("driver was not created")
	}
	assert.Equal(t, 0, drv.DisplayPort())
	assert.Equal(t, conn.LocalAddr().String(), drv.Parameters()[ParamRemoteAddr])
	assert.Eventually(t, func() bool { return s.Drivers() == 1 }, time.Second, 5*time.Millisecond)

	_, err = conn.Write([]byte("tile"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case <-drv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not finish")
	}
	assert.Equal(t, int64(4), drv.Received())
	assert.Eventually(t, func() bool { return s.Drivers() == 0 }, time.Second, 5*time.Millisecond)
}

// Close tears down live connections and stops accepting.
func TestServer_CloseDropsConnections(t *testing.T) {
	s, err := Listen(context.Background(), 0, ServerOptions{Host: "127.0.0.1", Logger: zerolog.Nop()})
	require.NoError(t, err)

	images := 0
	created := make(chan *Driver, 1)
	s.DriverCreated().Connect(func(d *Driver) {
		d.ImageReceived().Connect(func(*Driver) { images++ })
		created <- d
	})

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	drv := <-created

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	<-drv.Done()
	<-s.Done()
	assert.Equal(t, 0, images, "a torn-down connection is not a finished image")

	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	_, err = net.DialTimeout("tcp", s.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestListen_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	port := ln.Addr().(*net.TCPAddr).Port

	_, err = Listen(context.Background(), port, ServerOptions{Host: "127.0.0.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "display: listen on port")
}

// The real listener path through the cache shares one server per port.
func TestNewServerCache_DefaultListen(t *testing.T) {
	servers := NewServerCache(ServerCacheOptions{Host: "127.0.0.1", Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = servers.Close() })

	h1, err := servers.Get(context.Background(), 0)
	require.NoError(t, err)
	h2, err := servers.Get(context.Background(), 0)
	require.NoError(t, err)
	assert.Same(t, h1.Value(), h2.Value())

	srv := h1.Value()
	h1.Release()
	h2.Release()
	require.True(t, servers.Remove(0))

	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server must close when its last reference goes")
	}
}
