// Package masterconn implements the chunkserver's single connection to the
// master: registration, the inbound MATOCS_* command vocabulary dispatched
// through the job pool, and the asynchronous CSTOMA_* outbound reports
// (space, chunk damaged/lost, folder errors).
package masterconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quantarax/chunkserver/internal/jobpool"
	"github.com/quantarax/chunkserver/internal/observability"
	"github.com/quantarax/chunkserver/internal/store"
	"github.com/quantarax/chunkserver/internal/wire"
)

// state is the connection's FREE→CONNECTING→HEADER⇄DATA→KILL→FREE machine,
// collapsed to what matters once net.Dial has replaced manual fd polling:
// we are either trying to connect, registered and exchanging frames, or
// sitting out the reconnection delay.
type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateRegistered
)

// ListenInfo is this chunkserver's own advertised address, sent in REGISTER.
type ListenInfo struct {
	IP   [4]byte
	Port uint16
}

// Conn owns the master connection's lifecycle and dispatches every inbound
// command into the shared store through the shared job pool.
type Conn struct {
	masterAddr  string
	listen      ListenInfo
	reconnDelay time.Duration

	store *store.Store
	pool  *jobpool.Pool
	log   *observability.Logger
	mx    *observability.Metrics

	changelog  *Changelog
	replicator Replicator

	mu        sync.Mutex
	st        state
	conn      net.Conn
	writer    *wire.Writer
	connected bool
}

// New builds a master connection manager; call Run to start it.
func New(masterAddr string, listen ListenInfo, reconnDelay time.Duration, st *store.Store, pool *jobpool.Pool, log *observability.Logger, mx *observability.Metrics, cl *Changelog) *Conn {
	return &Conn{
		masterAddr:  masterAddr,
		listen:      listen,
		reconnDelay: reconnDelay,
		store:       st,
		pool:        pool,
		log:         log,
		mx:          mx,
		changelog:   cl,
	}
}

// Connected reports whether the connection is currently registered, safe to
// call from any goroutine (used by the health checker).
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Run connects, registers, and serves frames until ctx is cancelled,
// reconnecting after reconnDelay on any failure.
func (c *Conn) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := c.runOnce(ctx); err != nil {
			c.log.MasterDisconnected(c.masterAddr, err)
		}
		c.setConnected(false)
		c.pool.DisableAll() // drop every in-flight master job; responses would have nowhere to go
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnDelay):
		}
	}
}

func (c *Conn) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
	if c.mx != nil {
		if v {
			c.mx.MasterConnected.Set(1)
		} else {
			c.mx.MasterConnected.Set(0)
		}
	}
}

func (c *Conn) runOnce(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", c.masterAddr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.writer = wire.NewWriter(conn, 256)
	c.mu.Unlock()
	defer c.writer.Close()

	if err := c.register(); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	c.setConnected(true)
	c.log.MasterConnected(c.masterAddr)

	frames := make(chan *wire.Frame, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			f, err := wire.ReadFrame(conn, wire.MaxMasterFrameLength)
			if err != nil {
				readErr <- err
				return
			}
			frames <- f
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case f := <-frames:
			c.dispatch(ctx, f)
		case res := <-c.pool.Done():
			c.handleJobResult(res)
		}
	}
}

// register sends the REGISTER frame: protocol version 3, listen address,
// aggregate space totals, and the full chunk id/version listing.
func (c *Conn) register() error {
	cur := wire.NewWriteCursor(64 + c.store.Index.Count()*12)
	cur.PutU8(3) // protocol version
	cur.PutBytes(c.listen.IP[:])
	cur.PutU16(c.listen.Port)
	cur.PutU32(10) // Timeout field (v3): seconds, advisory

	total, avail := c.store.TotalSpace()
	used := total - avail
	if used < 0 {
		used = 0
	}
	cur.PutU64(uint64(used))
	cur.PutU64(uint64(total))

	chunkCount, tdChunkCount, tdUsed, tdTotal := c.store.FolderTotals()
	cur.PutU32(chunkCount)
	cur.PutU64(tdUsed)
	cur.PutU64(tdTotal)
	cur.PutU32(tdChunkCount)

	c.store.Index.ForEach(func(ch *store.Chunk) {
		version := ch.Version
		if ch.Owner().ToDelete {
			version |= 1 << 31
		}
		cur.PutU64(ch.ChunkID)
		cur.PutU32(version)
	})

	return wire.WriteFrame(c.conn, &wire.Frame{Type: wire.CSTOMA_REGISTER, Payload: cur.Bytes()})
}

func (c *Conn) send(f *wire.Frame) {
	c.writer.Send(f)
}

// chunkStatusFrame builds the common (chunkid, status) response body shared
// by every CREATE/DELETE/SET_VERSION/DUPLICATE/TRUNCATE/DUPTRUNC response.
func chunkStatusFrame(typ wire.PacketType, chunkID uint64, status wire.Status) *wire.Frame {
	cur := wire.NewWriteCursor(9)
	cur.PutU64(chunkID)
	cur.PutU8(uint8(status))
	return &wire.Frame{Type: typ, Payload: cur.Bytes()}
}
