package display

import (
	"errors"
	"io"
	"maps"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/IvanBrykalov/rescache/signal"
)

// Parameter names every driver carries.
const (
	ParamDisplayPort = "displayPort"
	ParamRemoteAddr  = "remoteAddr"
)

// DataEvent reports one chunk of image data arriving on a driver.
type DataEvent struct {
	Driver *Driver
	Bytes  int
}

// Driver is one incoming render connection on a Server. It does not decode
// the stream; it counts what arrives and publishes progress.
type Driver struct {
	conn     net.Conn
	params   map[string]string
	received atomic.Int64
	done     chan struct{}

	dataReceived  signal.Signal[DataEvent]
	imageReceived signal.Signal[*Driver]
}

func newDriver(port int, conn net.Conn) *Driver {
	return &Driver{
		conn: conn,
		params: map[string]string{
			ParamDisplayPort: strconv.Itoa(port),
			ParamRemoteAddr:  conn.RemoteAddr().String(),
		},
		done: make(chan struct{}),
	}
}

// Parameters returns a copy of the driver's parameters.
func (d *Driver) Parameters() map[string]string { return maps.Clone(d.params) }

// DisplayPort returns the port the driver was received on, or -1 if the
// parameter is missing or malformed.
func (d *Driver) DisplayPort() int {
	p, err := strconv.Atoi(d.params[ParamDisplayPort])
	if err != nil {
		return -1
	}
	return p
}

// Received returns the number of bytes received so far.
func (d *Driver) Received() int64 { return d.received.Load() }

// Done is closed once the connection has ended.
func (d *Driver) Done() <-chan struct{} { return d.done }

// DataReceived is emitted for every chunk read from the connection.
func (d *Driver) DataReceived() *signal.Signal[DataEvent] { return &d.dataReceived }

// ImageReceived is emitted once when the sender finishes the image
// (a clean end of stream). It is not emitted if the connection breaks.
func (d *Driver) ImageReceived() *signal.Signal[*Driver] { return &d.imageReceived }

// run reads until the peer closes or the connection is torn down.
func (d *Driver) run(bufSize int) error {
	defer close(d.done)
	defer d.conn.Close()

	buf := make([]byte, bufSize)
	for {
		n, err := d.conn.Read(buf)
		if n > 0 {
			d.received.Add(int64(n))
			d.dataReceived.Emit(DataEvent{Driver: d, Bytes: n})
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			d.imageReceived.Emit(d)
			return nil
		default:
			return err
		}
	}
}
