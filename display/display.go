package display

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/rescache/cache"
	"github.com/IvanBrykalov/rescache/signal"
)

// DefaultPort is the port a Display listens on unless configured otherwise.
const DefaultPort = 1559

// Status is a JSON-friendly snapshot of a Display.
type Status struct {
	Name      string `json:"name"`
	Port      int    `json:"port"`
	Listening bool   `json:"listening"`
	Addr      string `json:"addr,omitempty"`
	Driver    bool   `json:"driver"`
	Received  int64  `json:"received"`
}

// Display is a node that shows the image most recently rendered to its
// port. It holds one reference to the shared server for that port and
// follows the newest driver the server creates.
//
// A port that cannot be served (bind failure, say) is logged and leaves
// the node without a server; it is not an error for the caller.
type Display struct {
	name    string
	servers ServerCache
	log     zerolog.Logger

	// setupMu serializes server swaps; mu guards the fields below.
	setupMu sync.Mutex
	mu      sync.Mutex
	port    int
	closed  bool

	server     *cache.Handle[int, *Server]
	serverConn signal.Connection

	driver      *Driver
	driverConns []signal.Connection

	dataReceived  signal.Signal[*Display]
	imageReceived signal.Signal[*Display]
}

// New creates a Display and requests the server for port.
func New(ctx context.Context, name string, port int, servers ServerCache, log zerolog.Logger) *Display {
	d := &Display{
		name:    name,
		servers: servers,
		log:     log.With().Str("display", name).Logger(),
		port:    port,
	}
	d.setupServer(ctx)
	return d
}

// Name returns the node name.
func (d *Display) Name() string { return d.name }

// Port returns the configured port.
func (d *Display) Port() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port
}

// SetPort changes the port and fetches the matching server. Setting the
// same port again refreshes the server's recency in the cache.
func (d *Display) SetPort(ctx context.Context, port int) {
	d.mu.Lock()
	d.port = port
	d.mu.Unlock()
	d.setupServer(ctx)
}

// Server returns the current server, or nil if the port could not be served.
func (d *Display) Server() *Server {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server == nil {
		return nil
	}
	return d.server.Value()
}

// Driver returns the driver whose image the node is showing, if any.
func (d *Display) Driver() *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driver
}

// DataReceived is emitted whenever the current driver receives data.
func (d *Display) DataReceived() *signal.Signal[*Display] { return &d.dataReceived }

// ImageReceived is emitted when the current driver's image is complete.
func (d *Display) ImageReceived() *signal.Signal[*Display] { return &d.imageReceived }

// Status returns a snapshot for reporting.
func (d *Display) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{Name: d.name, Port: d.port}
	if d.server != nil {
		st.Listening = true
		st.Addr = d.server.Value().Addr().String()
	}
	if d.driver != nil {
		st.Driver = true
		st.Received = d.driver.Received()
	}
	return st
}

// Close disconnects from the server and the driver and releases the
// node's reference to the server.
func (d *Display) Close() error {
	d.setupMu.Lock()
	defer d.setupMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	h, conn := d.server, d.serverConn
	driverConns := d.driverConns
	d.server, d.serverConn, d.driverConns = nil, signal.Connection{}, nil
	d.mu.Unlock()

	conn.Disconnect()
	for _, c := range driverConns {
		c.Disconnect()
	}
	if h != nil {
		h.Release()
	}
	return nil
}

// setupServer swaps in the server for the current port. The old handle is
// released only after the new one is held, so re-requesting the same port
// never drops the server in between.
func (d *Display) setupServer(ctx context.Context) {
	d.setupMu.Lock()
	defer d.setupMu.Unlock()

	d.mu.Lock()
	port, closed := d.port, d.closed
	d.mu.Unlock()
	if closed {
		return
	}

	h, err := d.servers.Get(ctx, port)
	if err != nil {
		d.log.Error().Err(err).Int("port", port).Msg("setup server")
		h = nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		if h != nil {
			h.Release()
		}
		return
	}
	old, oldConn := d.server, d.serverConn
	d.server, d.serverConn = h, signal.Connection{}
	if h != nil {
		d.serverConn = h.Value().DriverCreated().Connect(d.driverCreated)
	}
	d.mu.Unlock()

	oldConn.Disconnect()
	if old != nil {
		old.Release()
	}
}

// driverCreated adopts drivers addressed to this node's port.
func (d *Display) driverCreated(drv *Driver) {
	if drv.DisplayPort() != d.Port() {
		return
	}
	d.setupDriver(drv)
}

func (d *Display) setupDriver(drv *Driver) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	old := d.driverConns
	d.driver = drv
	d.driverConns = []signal.Connection{
		drv.DataReceived().Connect(func(DataEvent) { d.dataReceived.Emit(d) }),
		drv.ImageReceived().Connect(func(*Driver) { d.imageReceived.Emit(d) }),
	}
	d.mu.Unlock()

	for _, c := range old {
		c.Disconnect()
	}
	d.log.Debug().Str("remote", drv.params[ParamRemoteAddr]).Msg("driver attached")
}
