package clientserver

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/quantarax/chunkserver/internal/observability"
	"github.com/quantarax/chunkserver/internal/peerpool"
	"github.com/quantarax/chunkserver/internal/store"
	"github.com/quantarax/chunkserver/internal/wire"
)

// conn is one accepted connection. It serves requests one at a time in a
// loop on its own goroutine: a read request replies and returns to the
// loop immediately, while a write request owns the loop for the lifetime
// of its write-chain session (see write.go).
type conn struct {
	nc          net.Conn
	writer      *wire.Writer
	store       *store.Store
	peers       *peerpool.Pool
	idleTimeout time.Duration
	log         *observability.Logger
	mx          *observability.Metrics
}

func (c *conn) serve(ctx context.Context) {
	defer c.nc.Close()
	defer c.writer.Close()
	if c.mx != nil {
		defer c.mx.ClientConnsActive.Dec()
	}

	for {
		if c.idleTimeout > 0 {
			c.nc.SetReadDeadline(time.Now().Add(c.idleTimeout))
		}
		f, err := wire.ReadFrame(c.nc, wire.MaxPeerFrameLength)
		if err != nil {
			if err != io.EOF {
				c.log.Debug("connection closed: " + err.Error())
			}
			return
		}

		switch f.Type {
		case wire.ANTOAN_NOP:
			// keepalive

		case wire.CUTOCS_READ:
			c.serveRead(f, false)
		case wire.CSTOCS_READ:
			c.serveRead(f, true)

		case wire.CUTOCS_WRITE:
			if !c.serveWrite(ctx, f, false) {
				return
			}
		case wire.CSTOCS_WRITE:
			if !c.serveWrite(ctx, f, true) {
				return
			}

		case wire.CSTOCS_GET_CHUNK_BLOCKS:
			c.serveGetChunkBlocks(f)

		default:
			c.log.Warn("unexpected frame type on client port")
			return
		}
	}
}

func (c *conn) send(f *wire.Frame) { c.writer.Send(f) }

func statusFrame(typ wire.PacketType, chunkID uint64, status wire.Status) *wire.Frame {
	cur := wire.NewWriteCursor(9)
	cur.PutU64(chunkID)
	cur.PutU8(uint8(status))
	return &wire.Frame{Type: typ, Payload: cur.Bytes()}
}

// reportIfIO escalates an I/O-class failure (anything StatusForErr maps to
// StatusEIO) to the store's folder-error bookkeeping; sentinel errors like
// "wrong version" are ordinary protocol outcomes, not folder health signals.
func (c *conn) reportIfIO(chunkID uint64, err error) {
	if err != nil && store.StatusForErr(err) == wire.StatusEIO {
		c.store.ReportIOFailure(chunkID, time.Now())
	}
}
