package clientserver

import (
	"github.com/quantarax/chunkserver/internal/store"
	"github.com/quantarax/chunkserver/internal/wire"
)

// serveRead handles one CUTOCS_READ/CSTOCS_READ request: chunkid(8)
// version(4) offset(4) size(4). It replies with one *_READ_DATA frame per
// 64 KiB block the requested range spans, then a single *_READ_STATUS
// frame — the same request/response shape the client and peer protocols
// share, just under different frame type tags.
func (c *conn) serveRead(f *wire.Frame, peer bool) {
	dataType, statusType := wire.CSTOCU_READ_DATA, wire.CSTOCU_READ_STATUS
	if peer {
		dataType, statusType = wire.CSTOCS_READ_DATA, wire.CSTOCS_READ_STATUS
	}

	rc := wire.NewCursor(f.Payload)
	chunkID, e1 := rc.GetU64()
	version, e2 := rc.GetU32()
	offset, e3 := rc.GetU32()
	size, e4 := rc.GetU32()
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
		c.send(statusFrame(statusType, chunkID, wire.StatusEInval))
		return
	}

	pos, remaining := offset, size
	for remaining > 0 {
		block := uint16(pos / store.BlockSize)
		blockOff := pos % store.BlockSize
		n := store.BlockSize - blockOff
		if n > remaining {
			n = remaining
		}

		buf, crc, err := store.ReadBlock(c.store.Index, c.store.OpenList, chunkID, version, block, blockOff, n)
		if err != nil {
			c.reportIfIO(chunkID, err)
			c.send(statusFrame(statusType, chunkID, store.StatusForErr(err)))
			return
		}

		cur := wire.NewWriteCursor(22 + len(buf))
		cur.PutU64(chunkID)
		cur.PutU16(block)
		cur.PutU32(blockOff)
		cur.PutU32(uint32(len(buf)))
		cur.PutU32(crc)
		cur.PutBytes(buf)
		c.send(&wire.Frame{Type: dataType, Payload: cur.Bytes()})

		pos += n
		remaining -= n
	}
	c.send(statusFrame(statusType, chunkID, wire.StatusOK))
}

// serveGetChunkBlocks answers a replication source's request for how many
// data blocks a chunk currently holds, the first step of the pull protocol
// before the requester issues the matching *_READ.
func (c *conn) serveGetChunkBlocks(f *wire.Frame) {
	rc := wire.NewCursor(f.Payload)
	chunkID, e1 := rc.GetU64()
	version, e2 := rc.GetU32()
	if e1 != nil || e2 != nil {
		return
	}

	var blocks uint16
	status := wire.StatusOK
	ch := c.store.Index.Lookup(chunkID)
	switch {
	case ch == nil:
		status = wire.StatusNoChunk
	case ch.Version != version:
		status = wire.StatusWrongVersion
	default:
		blocks = ch.Blocks
	}

	cur := wire.NewWriteCursor(15)
	cur.PutU64(chunkID)
	cur.PutU32(version)
	cur.PutU16(blocks)
	cur.PutU8(uint8(status))
	c.send(&wire.Frame{Type: wire.CSTOCS_GET_CHUNK_BLOCKS_STATUS, Payload: cur.Bytes()})
}
