// Package replicator implements the pull side of chunk replication: given a
// chunk id/version and the address of a chunkserver known to hold it, it
// dials that peer, asks how many blocks the chunk has, streams the blocks
// into a freshly created local chunk, and only then bumps that chunk to the
// target version — so a replica is never visible in the index at a
// version whose data isn't fully present yet.
package replicator

import (
	"context"
	"fmt"
	"time"

	"github.com/quantarax/chunkserver/internal/observability"
	"github.com/quantarax/chunkserver/internal/peerpool"
	"github.com/quantarax/chunkserver/internal/store"
	"github.com/quantarax/chunkserver/internal/wire"
)

// Replicator implements masterconn.Replicator.
type Replicator struct {
	store   *store.Store
	peers   *peerpool.Pool
	timeout time.Duration
	log     *observability.Logger
}

// New builds a Replicator. timeout bounds how long one whole Replicate
// call (dial plus every request and reply of the pull) may take.
func New(st *store.Store, peers *peerpool.Pool, timeout time.Duration, log *observability.Logger) *Replicator {
	return &Replicator{store: st, peers: peers, timeout: timeout, log: log}
}

// Replicate pulls chunkID at version from the chunkserver at srcIP:srcPort
// into the local store, creating it if absent. A failure midway deletes
// the partial local chunk rather than leaving it indexed at version 0.
func (r *Replicator) Replicate(ctx context.Context, chunkID uint64, version uint32, srcIP [4]byte, srcPort uint16) wire.Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	peer, err := r.peers.DialIP(ctx, srcIP, srcPort)
	if err != nil {
		if r.log != nil {
			r.log.Error(err, "replicate: dial source failed")
		}
		return wire.StatusCantConnect
	}
	defer r.peers.Release(peer)

	blocks, status := r.getChunkBlocks(ctx, peer, chunkID, version)
	if status != wire.StatusOK {
		return status
	}

	folder := r.store.ChooseFolderForNewChunk()
	if folder == nil {
		return wire.StatusNoSpace
	}
	if _, st := r.store.Create(folder, chunkID, 0); st != wire.StatusOK && st != wire.StatusChunkExist {
		return st
	}

	if blocks == 0 {
		return r.store.SetVersion(chunkID, 0, version)
	}

	if err := r.sendRead(peer, chunkID, version, uint32(blocks)*store.BlockSize); err != nil {
		r.store.Delete(chunkID, 0)
		return wire.StatusDisconnected
	}

	if status := r.pullBlocks(ctx, peer, chunkID); status != wire.StatusOK {
		r.store.Delete(chunkID, 0)
		return status
	}

	return r.store.SetVersion(chunkID, 0, version)
}

func (r *Replicator) getChunkBlocks(ctx context.Context, peer *peerpool.Conn, chunkID uint64, version uint32) (uint16, wire.Status) {
	cur := wire.NewWriteCursor(12)
	cur.PutU64(chunkID)
	cur.PutU32(version)
	peer.Send(&wire.Frame{Type: wire.CSTOCS_GET_CHUNK_BLOCKS, Payload: cur.Bytes()})

	f, err := r.recv(ctx, peer)
	if err != nil {
		return 0, wire.StatusDisconnected
	}
	if f.Type != wire.CSTOCS_GET_CHUNK_BLOCKS_STATUS {
		return 0, wire.StatusDisconnected
	}
	rc := wire.NewCursor(f.Payload)
	_, _ = rc.GetU64()
	_, _ = rc.GetU32()
	blocks, _ := rc.GetU16()
	status, _ := rc.GetU8()
	return blocks, wire.Status(status)
}

func (r *Replicator) sendRead(peer *peerpool.Conn, chunkID uint64, version, size uint32) error {
	cur := wire.NewWriteCursor(20)
	cur.PutU64(chunkID)
	cur.PutU32(version)
	cur.PutU32(0)
	cur.PutU32(size)
	peer.Send(&wire.Frame{Type: wire.CSTOCS_READ, Payload: cur.Bytes()})
	return nil
}

// pullBlocks drains CSTOCS_READ_DATA frames, writing each into the local
// version-0 chunk, until a CSTOCS_READ_STATUS terminates the stream.
func (r *Replicator) pullBlocks(ctx context.Context, peer *peerpool.Conn, chunkID uint64) wire.Status {
	for {
		f, err := r.recv(ctx, peer)
		if err != nil {
			return wire.StatusDisconnected
		}
		switch f.Type {
		case wire.CSTOCS_READ_DATA:
			rc := wire.NewCursor(f.Payload)
			_, _ = rc.GetU64()
			block, e1 := rc.GetU16()
			off, e2 := rc.GetU32()
			size, e3 := rc.GetU32()
			wantCRC, e4 := rc.GetU32()
			data, e5 := rc.GetBytes(int(size))
			if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil {
				return wire.StatusEInval
			}
			if store.CRC32(data) != wantCRC {
				return wire.StatusCRCError
			}
			if err := store.WriteBlock(r.store.Index, r.store.OpenList, chunkID, 0, block, off, data); err != nil {
				return store.StatusForErr(err)
			}
		case wire.CSTOCS_READ_STATUS:
			rc := wire.NewCursor(f.Payload)
			_, _ = rc.GetU64()
			st, _ := rc.GetU8()
			return wire.Status(st)
		default:
			return wire.StatusDisconnected
		}
	}
}

func (r *Replicator) recv(ctx context.Context, peer *peerpool.Conn) (*wire.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err, ok := <-peer.Errs():
		if ok {
			return nil, err
		}
		return nil, fmt.Errorf("replicator: connection closed")
	case f, ok := <-peer.Frames():
		if !ok {
			return nil, fmt.Errorf("replicator: connection closed")
		}
		return f, nil
	}
}
