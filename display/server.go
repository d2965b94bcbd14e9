// Package display receives rendered images over the network and wires
// the listening servers into a shared cache keyed by port.
//
// A Server listens on one port and turns each incoming connection into a
// Driver. A Display is the consumer: it asks the server cache for the
// server on its configured port, follows the drivers that server creates,
// and republishes their progress. Servers are shared between every
// Display configured with the same port.
package display

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/rescache/signal"
)

const defaultReadBuffer = 32 << 10

// ServerOptions configures Listen.
type ServerOptions struct {
	// Host to bind; empty binds all interfaces.
	Host string
	// ReadBuffer is the per-connection read size; 0 => 32KiB.
	ReadBuffer int
	Logger     zerolog.Logger
}

// Server accepts render connections on one port.
type Server struct {
	port    int
	ln      net.Listener
	log     zerolog.Logger
	bufSize int

	driverCreated signal.Signal[*Driver]

	mu      sync.Mutex
	drivers map[*Driver]struct{}
	closed  bool
	wg      sync.WaitGroup
	done    chan struct{}
}

// Listen binds port and starts serving.
func Listen(ctx context.Context, port int, opts ServerOptions) (*Server, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(opts.Host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("display: listen on port %d: %w", port, err)
	}
	return Serve(port, ln, opts), nil
}

// Serve starts serving on an existing listener. port is the display port
// reported to drivers; it need not match the listener's address.
func Serve(port int, ln net.Listener, opts ServerOptions) *Server {
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = defaultReadBuffer
	}
	s := &Server{
		port:    port,
		ln:      ln,
		log:     opts.Logger.With().Int("port", port).Logger(),
		bufSize: opts.ReadBuffer,
		drivers: make(map[*Driver]struct{}),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	s.log.Debug().Stringer("addr", ln.Addr()).Msg("display server listening")
	return s
}

// Port returns the display port the server was created for.
func (s *Server) Port() int { return s.port }

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// DriverCreated is emitted for every accepted connection, before any of
// its data is read, so subscribers can attach to the driver's signals.
func (s *Server) DriverCreated() *signal.Signal[*Driver] { return &s.driverCreated }

// Drivers returns the number of live connections.
func (s *Server) Drivers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drivers)
}

// Done is closed once Close has finished.
func (s *Server) Done() <-chan struct{} { return s.done }

// Close stops accepting, tears down live connections and waits for every
// goroutine to exit. Subsequent calls return nil.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.ln.Close()
	for d := range s.drivers {
		_ = d.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	close(s.done)
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	s.log.Debug().Msg("display server closed")
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("accept failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		d := newDriver(s.port, conn)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.drivers[d] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serveDriver(d)
	}
}

func (s *Server) serveDriver(d *Driver) {
	defer s.wg.Done()

	s.driverCreated.Emit(d)
	if err := d.run(s.bufSize); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug().Err(err).Str("remote", d.params[ParamRemoteAddr]).Msg("driver connection ended")
	}

	s.mu.Lock()
	delete(s.drivers, d)
	s.mu.Unlock()
}
