package masterconn

import (
	"context"

	"github.com/quantarax/chunkserver/internal/jobpool"
	"github.com/quantarax/chunkserver/internal/store"
	"github.com/quantarax/chunkserver/internal/wire"
)

// Replicator is the collaborator that pulls a chunk from a peer chunkserver
// into the local store. It is injected rather than imported directly: the
// replicator package in turn depends on the peer connection pool, and
// neither needs to know about the master connection that triggers it.
type Replicator interface {
	Replicate(ctx context.Context, chunkID uint64, version uint32, srcIP [4]byte, srcPort uint16) wire.Status
}

// SetReplicator wires the replication collaborator in after construction,
// since the replicator and the master connection are built in opposite
// dependency order by cmd/chunkserver's wiring.
func (c *Conn) SetReplicator(r Replicator) { c.replicator = r }

type chunkStatusResult struct {
	respType wire.PacketType
	chunkID  uint64
	status   wire.Status
}

type checksumResult struct {
	chunkID uint64
	version uint32
	status  wire.Status
	crc     uint32
}

type checksumTabResult struct {
	chunkID uint64
	version uint32
	status  wire.Status
	tab     []byte
}

type replicateResult struct {
	chunkID uint64
	version uint32
	status  wire.Status
}

// dispatch decodes one inbound master frame and acts on it. Most commands
// translate into a single store operation submitted to the job pool so the
// blocking disk I/O never stalls this connection's read loop; STRUCTURE_LOG
// and STRUCTURE_LOG_ROTATE are handled inline since they only touch the
// local changelog, never a chunk file.
func (c *Conn) dispatch(ctx context.Context, f *wire.Frame) {
	cur := wire.NewCursor(f.Payload)
	switch f.Type {
	case wire.ANTOAN_NOP:
		// keepalive, nothing to do

	case wire.MATOCS_CREATE:
		chunkID, _ := cur.GetU64()
		version, _ := cur.GetU32()
		c.pool.Submit(chunkID, func(context.Context) (interface{}, error) {
			folder := c.store.ChooseFolderForNewChunk()
			if folder == nil {
				return chunkStatusResult{wire.CSTOMA_CREATE, chunkID, wire.StatusNoSpace}, nil
			}
			_, status := c.store.Create(folder, chunkID, version)
			return chunkStatusResult{wire.CSTOMA_CREATE, chunkID, status}, nil
		})

	case wire.MATOCS_DELETE:
		chunkID, _ := cur.GetU64()
		version, _ := cur.GetU32()
		c.pool.Submit(chunkID, func(context.Context) (interface{}, error) {
			status := c.store.Delete(chunkID, version)
			return chunkStatusResult{wire.CSTOMA_DELETE, chunkID, status}, nil
		})

	case wire.MATOCS_SET_VERSION:
		chunkID, _ := cur.GetU64()
		newVersion, _ := cur.GetU32()
		oldVersion, _ := cur.GetU32()
		c.pool.Submit(chunkID, func(context.Context) (interface{}, error) {
			status := c.store.SetVersion(chunkID, oldVersion, newVersion)
			return chunkStatusResult{wire.CSTOMA_SET_VERSION, chunkID, status}, nil
		})

	case wire.MATOCS_DUPLICATE:
		chunkID, _ := cur.GetU64()
		version, _ := cur.GetU32()
		oldChunkID, _ := cur.GetU64()
		oldVersion, _ := cur.GetU32()
		c.pool.Submit(chunkID, func(context.Context) (interface{}, error) {
			status := c.store.Duplicate(oldChunkID, oldVersion, chunkID, version)
			return chunkStatusResult{wire.CSTOMA_DUPLICATE, chunkID, status}, nil
		})

	case wire.MATOCS_TRUNCATE:
		chunkID, _ := cur.GetU64()
		length, _ := cur.GetU32()
		newVersion, _ := cur.GetU32()
		oldVersion, _ := cur.GetU32()
		c.pool.Submit(chunkID, func(context.Context) (interface{}, error) {
			status := c.store.Truncate(chunkID, oldVersion, newVersion, length)
			return chunkStatusResult{wire.CSTOMA_TRUNCATE, chunkID, status}, nil
		})

	case wire.MATOCS_DUPTRUNC:
		chunkID, _ := cur.GetU64()
		version, _ := cur.GetU32()
		oldChunkID, _ := cur.GetU64()
		oldVersion, _ := cur.GetU32()
		length, _ := cur.GetU32()
		c.pool.Submit(chunkID, func(context.Context) (interface{}, error) {
			status := c.store.Duptrunc(oldChunkID, oldVersion, chunkID, version, length)
			return chunkStatusResult{wire.CSTOMA_DUPTRUNC, chunkID, status}, nil
		})

	case wire.MATOCS_REPLICATE:
		chunkID, _ := cur.GetU64()
		version, _ := cur.GetU32()
		ipBytes, _ := cur.GetBytes(4)
		port, _ := cur.GetU16()
		var ip [4]byte
		copy(ip[:], ipBytes)
		c.pool.Submit(chunkID, func(ctx context.Context) (interface{}, error) {
			if c.replicator == nil {
				return replicateResult{chunkID, version, wire.StatusEInval}, nil
			}
			status := c.replicator.Replicate(ctx, chunkID, version, ip, port)
			return replicateResult{chunkID, version, status}, nil
		})

	case wire.MATOCS_CHUNK_CHECKSUM:
		chunkID, _ := cur.GetU64()
		version, _ := cur.GetU32()
		c.pool.Submit(chunkID, func(context.Context) (interface{}, error) {
			crc, status := store.ChunkChecksum(c.store, chunkID, version)
			return checksumResult{chunkID, version, status, crc}, nil
		})

	case wire.MATOCS_CHUNK_CSUM_TAB:
		chunkID, _ := cur.GetU64()
		version, _ := cur.GetU32()
		c.pool.Submit(chunkID, func(context.Context) (interface{}, error) {
			tab, status := store.ChunkChecksumTab(c.store, chunkID, version)
			return checksumTabResult{chunkID, version, status, tab}, nil
		})

	case wire.MATOCS_STRUCTURE_LOG:
		version, _ := cur.GetU32()
		text, _ := cur.GetBytes(cur.Remaining())
		if c.changelog != nil {
			c.changelog.Append(version, text)
		}

	case wire.MATOCS_STRUCTURE_LOG_ROTATE:
		if c.changelog != nil {
			c.changelog.Rotate()
		}

	default:
		c.log.Warn("unknown master frame type")
	}
}

// handleJobResult runs on this connection's loop goroutine (the same one
// that receives frames from the reader goroutine and calls dispatch): it
// is the only place a finished
// job's CSTOMA_* response gets written, so responses are naturally
// serialized per connection even though many jobs run concurrently.
func (c *Conn) handleJobResult(res jobpool.Result) {
	switch r := res.Value.(type) {
	case chunkStatusResult:
		if res.Err != nil && r.status == wire.StatusOK {
			r.status = wire.StatusEIO
		}
		c.recordStatus(r.status)
		c.send(chunkStatusFrame(r.respType, r.chunkID, r.status))

	case checksumResult:
		cur := wire.NewWriteCursor(17)
		cur.PutU64(r.chunkID)
		cur.PutU32(r.version)
		if r.status == wire.StatusOK {
			cur.PutU32(r.crc)
		} else {
			cur.PutU8(uint8(r.status))
		}
		c.send(&wire.Frame{Type: wire.CSTOMA_CHUNK_CHECKSUM, Payload: cur.Bytes()})

	case checksumTabResult:
		cur := wire.NewWriteCursor(13 + len(r.tab))
		cur.PutU64(r.chunkID)
		cur.PutU32(r.version)
		if r.status == wire.StatusOK {
			cur.PutBytes(r.tab)
		} else {
			cur.PutU8(uint8(r.status))
		}
		c.send(&wire.Frame{Type: wire.CSTOMA_CHUNK_CSUM_TAB, Payload: cur.Bytes()})

	case replicateResult:
		if c.mx != nil {
			c.mx.ReplicationsTotal.WithLabelValues(r.status.String()).Inc()
		}
		cur := wire.NewWriteCursor(13)
		cur.PutU64(r.chunkID)
		cur.PutU32(r.version)
		cur.PutU8(uint8(r.status))
		c.send(&wire.Frame{Type: wire.CSTOMA_REPLICATE, Payload: cur.Bytes()})
	}
}

func (c *Conn) recordStatus(status wire.Status) {
	if c.mx != nil {
		c.mx.StatusTotal.WithLabelValues(status.String()).Inc()
	}
}

// ChunkDamaged implements store.DamageReporter: reports a CRC/IO failure on
// chunkID upward so the master can schedule re-replication.
func (c *Conn) ChunkDamaged(chunkID uint64) {
	cur := wire.NewWriteCursor(8)
	cur.PutU64(chunkID)
	c.send(&wire.Frame{Type: wire.CSTOMA_CHUNK_DAMAGED, Payload: cur.Bytes()})
}

// ChunkLost implements store.DamageReporter: reports that chunkID no longer
// exists locally (its folder was evicted) so the master stops counting this
// chunkserver as one of its replicas.
func (c *Conn) ChunkLost(chunkID uint64) {
	cur := wire.NewWriteCursor(8)
	cur.PutU64(chunkID)
	c.send(&wire.Frame{Type: wire.CSTOMA_CHUNK_LOST, Payload: cur.Bytes()})
}

// FolderDamaged implements store.DamageReporter: reports a folder crossing
// the error-burst threshold via ERROR_OCCURRED, distinct from the
// per-chunk CHUNK_LOST reports sent for every chunk it held.
func (c *Conn) FolderDamaged(path string) {
	cur := wire.NewWriteCursor(2 + len(path))
	cur.PutU16(uint16(len(path)))
	cur.PutBytes([]byte(path))
	c.send(&wire.Frame{Type: wire.CSTOMA_ERROR_OCCURRED, Payload: cur.Bytes()})
}

// BroadcastSpace sends the current aggregate space report to the master.
// Called by the event loop's send-space timer.
func (c *Conn) BroadcastSpace() {
	if !c.Connected() {
		return
	}
	total, avail := c.store.TotalSpace()
	used := total - avail
	if used < 0 {
		used = 0
	}
	chunkCount, tdChunkCount, tdUsed, tdTotal := c.store.FolderTotals()

	cur := wire.NewWriteCursor(40)
	cur.PutU64(uint64(used))
	cur.PutU64(uint64(total))
	cur.PutU32(chunkCount)
	cur.PutU64(tdUsed)
	cur.PutU64(tdTotal)
	cur.PutU32(tdChunkCount)
	c.send(&wire.Frame{Type: wire.CSTOMA_SPACE, Payload: cur.Bytes()})

	if c.mx != nil {
		c.mx.SpaceAvailBytes.Set(float64(avail))
		c.mx.SpaceTotalBytes.Set(float64(total))
	}
}

var _ store.DamageReporter = (*Conn)(nil)
