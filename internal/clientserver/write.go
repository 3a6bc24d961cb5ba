package clientserver

import (
	"context"
	"time"

	"github.com/quantarax/chunkserver/internal/peerpool"
	"github.com/quantarax/chunkserver/internal/store"
	"github.com/quantarax/chunkserver/internal/wire"
)

// writeAckTimeout bounds how long a hop waits for its downstream neighbor's
// WRITE_STATUS before giving up and reporting the chain broken upstream.
const writeAckTimeout = 30 * time.Second

// serveWrite handles one write-chain session opened by a CUTOCS_WRITE (from
// a client) or CSTOCS_WRITE (forwarded from an upstream chunkserver) frame.
// If the chain carries further hops, this chunkserver dials the next one
// and forwards every WRITE_DATA it writes locally, only acknowledging
// upstream once the downstream hop has acknowledged too — the chain
// replication discipline described in the write path. Returns false if the
// connection itself is now unusable and should be closed.
func (c *conn) serveWrite(ctx context.Context, f *wire.Frame, peer bool) bool {
	statusType := wire.CSTOCU_WRITE_STATUS
	dataType := wire.CUTOCS_WRITE_DATA
	endType := wire.CUTOCS_WRITE_END
	if peer {
		statusType = wire.CSTOCS_WRITE_STATUS
		dataType = wire.CSTOCS_WRITE_DATA
		endType = wire.CSTOCS_WRITE_END
	}

	rc := wire.NewCursor(f.Payload)
	chunkID, e1 := rc.GetU64()
	version, e2 := rc.GetU32()
	chainLen, e3 := rc.GetU16()
	chainBytes, e4 := rc.GetBytes(int(chainLen))
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
		c.send(writeStatusFrame(statusType, chunkID, 0, wire.StatusEInval))
		return false
	}

	var down *peerpool.Conn
	if len(chainBytes) > 0 {
		next, rest, ok := parseChain(chainBytes)
		if !ok {
			c.send(writeStatusFrame(statusType, chunkID, 0, wire.StatusEInval))
			return false
		}
		d, err := c.peers.DialIP(ctx, next.ip, next.port)
		if err != nil {
			c.send(writeStatusFrame(statusType, chunkID, 0, wire.StatusCantConnect))
			return true
		}
		down = d
		defer c.peers.Release(down)

		cur := wire.NewWriteCursor(14 + len(rest))
		cur.PutU64(chunkID)
		cur.PutU32(version)
		cur.PutU16(uint16(len(rest)))
		cur.PutBytes(rest)
		down.Send(&wire.Frame{Type: wire.CSTOCS_WRITE, Payload: cur.Bytes()})
	}

	for {
		if c.idleTimeout > 0 {
			c.nc.SetReadDeadline(time.Now().Add(c.idleTimeout))
		}
		in, err := wire.ReadFrame(c.nc, wire.MaxPeerFrameLength)
		if err != nil {
			return false
		}
		switch {
		case in.Type == dataType:
			if !c.handleWriteData(ctx, in, chunkID, version, statusType, down) {
				return true
			}
		case in.Type == endType:
			if down != nil {
				down.Send(&wire.Frame{Type: wire.CSTOCS_WRITE_END, Payload: in.Payload})
			}
			return true
		default:
			c.log.Warn("unexpected frame type mid write-chain")
			return false
		}
	}
}

// handleWriteData writes one block locally, forwards it downstream if this
// hop is not the chain's tail, and replies upstream once the write (plus,
// if applicable, the downstream ack) is known good or bad. A failure is
// reported upstream as a WRITE_STATUS and the session continues, so it
// always returns true.
func (c *conn) handleWriteData(ctx context.Context, f *wire.Frame, chunkID uint64, version uint32, statusType wire.PacketType, down *peerpool.Conn) bool {
	rc := wire.NewCursor(f.Payload)
	_, _ = rc.GetU64() // chunkid, already known for this session
	writeID, e1 := rc.GetU32()
	block, e2 := rc.GetU16()
	offset, e3 := rc.GetU32()
	size, e4 := rc.GetU32()
	wantCRC, e5 := rc.GetU32()
	data, e6 := rc.GetBytes(int(size))
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil || e6 != nil {
		c.send(writeStatusFrame(statusType, chunkID, writeID, wire.StatusEInval))
		return true
	}
	if store.CRC32(data) != wantCRC {
		c.send(writeStatusFrame(statusType, chunkID, writeID, wire.StatusCRCError))
		return true
	}

	if err := store.WriteBlock(c.store.Index, c.store.OpenList, chunkID, version, block, offset, data); err != nil {
		c.reportIfIO(chunkID, err)
		c.send(writeStatusFrame(statusType, chunkID, writeID, store.StatusForErr(err)))
		return true
	}

	if down == nil {
		c.send(writeStatusFrame(statusType, chunkID, writeID, wire.StatusOK))
		return true
	}

	down.Send(&wire.Frame{Type: wire.CSTOCS_WRITE_DATA, Payload: f.Payload})
	status := c.awaitDownstreamStatus(ctx, down, chunkID, writeID)
	c.send(writeStatusFrame(statusType, chunkID, writeID, status))
	return true
}

func (c *conn) awaitDownstreamStatus(ctx context.Context, down *peerpool.Conn, chunkID uint64, writeID uint32) wire.Status {
	timer := time.NewTimer(writeAckTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return wire.StatusDisconnected
		case <-timer.C:
			return wire.StatusDisconnected
		case err, ok := <-down.Errs():
			if ok && err != nil {
				return wire.StatusDisconnected
			}
		case rf, ok := <-down.Frames():
			if !ok {
				return wire.StatusDisconnected
			}
			if rf.Type != wire.CSTOCS_WRITE_STATUS {
				continue
			}
			rc := wire.NewCursor(rf.Payload)
			_, _ = rc.GetU64()
			wid, _ := rc.GetU32()
			st, _ := rc.GetU8()
			if wid != writeID {
				continue
			}
			return wire.Status(st)
		}
	}
}

func writeStatusFrame(typ wire.PacketType, chunkID uint64, writeID uint32, status wire.Status) *wire.Frame {
	cur := wire.NewWriteCursor(13)
	cur.PutU64(chunkID)
	cur.PutU32(writeID)
	cur.PutU8(uint8(status))
	return &wire.Frame{Type: typ, Payload: cur.Bytes()}
}
