// Package peerpool implements outbound connections to other chunkservers:
// the next hop of a client write chain, and the source connection a
// replication pull reads from. Both uses share the same dial/frame-pump
// machinery — only the frame types exchanged over the connection differ.
package peerpool

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/quantarax/chunkserver/internal/observability"
	"github.com/quantarax/chunkserver/internal/wire"
)

// Pool dials and tracks outbound peer connections.
type Pool struct {
	timeout time.Duration
	mx      *observability.Metrics
}

// New builds a pool that dials with the given timeout and, if mx is
// non-nil, publishes the active-connection-count gauge.
func New(timeout time.Duration, mx *observability.Metrics) *Pool {
	return &Pool{timeout: timeout, mx: mx}
}

// Conn is one outbound connection to a peer chunkserver. A dedicated reader
// goroutine pumps decoded frames onto Frames(); the caller drains it and,
// on a read error, Errs() yields exactly one error before Frames() closes.
type Conn struct {
	addr   string
	conn   net.Conn
	writer *wire.Writer
	frames chan *wire.Frame
	errs   chan error
}

// Dial opens a TCP connection to addr (host:port), starting its reader
// goroutine before returning.
func (p *Pool) Dial(ctx context.Context, addr string) (*Conn, error) {
	d := net.Dialer{Timeout: p.timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peerpool: dial %s: %w", addr, err)
	}
	c := &Conn{
		addr:   addr,
		conn:   nc,
		writer: wire.NewWriter(nc, 64),
		frames: make(chan *wire.Frame, 64),
		errs:   make(chan error, 1),
	}
	go c.readLoop()
	if p.mx != nil {
		p.mx.PeerConnsActive.Inc()
	}
	return c, nil
}

// DialIP is a convenience wrapper for the (ip, port) pairs the wire
// protocol carries in write chains and REPLICATE commands.
func (p *Pool) DialIP(ctx context.Context, ip [4]byte, port uint16) (*Conn, error) {
	addr := fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], port)
	return p.Dial(ctx, addr)
}

// Release closes c and drops the active-connection gauge.
func (p *Pool) Release(c *Conn) {
	c.Close()
	if p.mx != nil {
		p.mx.PeerConnsActive.Dec()
	}
}

func (c *Conn) readLoop() {
	for {
		f, err := wire.ReadFrame(c.conn, wire.MaxPeerFrameLength)
		if err != nil {
			c.errs <- err
			close(c.frames)
			return
		}
		c.frames <- f
	}
}

// Send enqueues a frame for write; it only blocks under backpressure (see
// QueueFilled), never on the network write itself.
func (c *Conn) Send(f *wire.Frame) { c.writer.Send(f) }

// Frames is the channel of frames received from the peer, closed once the
// connection errors or the peer hangs up.
func (c *Conn) Frames() <-chan *wire.Frame { return c.frames }

// Errs yields the read loop's terminal error exactly once, just before
// Frames() is closed.
func (c *Conn) Errs() <-chan error { return c.errs }

// QueueFilled reports whether more than one frame is queued for write —
// the write-chain backpressure signal: while true, the upstream reader
// (client or prior hop) should pause rather than queue further data this
// connection cannot keep up with.
func (c *Conn) QueueFilled() bool { return c.writer.QueueLen() > 1 }

// Addr returns the dialed address, for logging.
func (c *Conn) Addr() string { return c.addr }

// Close tears down the connection and its writer goroutine.
func (c *Conn) Close() {
	c.conn.Close()
	c.writer.Close()
}
