package store

import (
	"time"

	"github.com/quantarax/chunkserver/internal/wire"
)

// ChunkChecksum computes the CRC-32 of chunkID's 4 KiB CRC table, the cheap
// whole-chunk digest MATOCS_CHUNK_CHECKSUM asks for when the master wants to
// compare replicas without transferring their data blocks.
func ChunkChecksum(s *Store, chunkID uint64, version uint32) (uint32, wire.Status) {
	tab, status := ChunkChecksumTab(s, chunkID, version)
	if status != wire.StatusOK {
		return 0, status
	}
	return CRC32(tab), wire.StatusOK
}

// ChunkChecksumTab returns a copy of chunkID's full CRC table, as sent back
// for MATOCS_CHUNK_CHECKSUM_TAB.
func ChunkChecksumTab(s *Store, chunkID uint64, version uint32) ([]byte, wire.Status) {
	c := s.Index.Lookup(chunkID)
	if c == nil {
		return nil, wire.StatusNoChunk
	}
	if c.Version != version {
		return nil, wire.StatusWrongVersion
	}
	if err := BeginIO(c); err != nil {
		return nil, wire.StatusEIO
	}
	defer EndIO(s.OpenList, c, time.Now())

	c.mu.Lock()
	tab := append([]byte(nil), c.crc...)
	c.mu.Unlock()
	return tab, wire.StatusOK
}
