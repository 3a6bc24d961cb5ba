package store

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"time"
)

// BeginIO ensures c's CRC table is loaded and its file descriptor open,
// incrementing the in-flight I/O reference count: the first caller pays to
// open+read the CRC table, every additional concurrent caller just
// increments the count. It performs blocking syscalls and is meant to be
// called from a job-pool worker goroutine.
func BeginIO(c *Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fd == nil {
		fd, err := os.OpenFile(c.Path(), os.O_RDWR, 0644)
		if err != nil {
			return err
		}
		c.fd = fd
	}
	if c.crc == nil {
		buf := make([]byte, CRCTableSize)
		if _, err := io.ReadFull(io.NewSectionReader(c.fd, CRCTableOffset, CRCTableSize), buf); err != nil {
			c.fd.Close()
			c.fd = nil
			return err
		}
		c.crc = buf
	}
	c.crcRefCount++
	return nil
}

// EndIO releases one I/O reference and refreshes the chunk's activity
// timestamp, then places it at the back of the open-chunk list. It runs on
// whichever goroutine did the I/O (ReadBlock and WriteBlock defer it); the
// open-chunk list guards itself, see OpenChunkList's doc comment.
func EndIO(openList *OpenChunkList, c *Chunk, now time.Time) {
	c.mu.Lock()
	if c.crcRefCount > 0 {
		c.crcRefCount--
	}
	c.lastActivity = now
	c.mu.Unlock()
	openList.touch(c)
}

// crcAt reads block k's stored CRC-32 from the in-memory table.
func crcAt(crc []byte, k uint16) uint32 {
	return binary.LittleEndian.Uint32(crc[int(k)*4:])
}

// setCRCAt writes block k's CRC-32 into the in-memory table and marks it
// dirty for the sweeper to flush.
func setCRCAt(c *Chunk, k uint16, v uint32) {
	binary.LittleEndian.PutUint32(c.crc[int(k)*4:], v)
	c.crcDirty = true
}

// readRawBlock reads the full 64 KiB block k from fd at the chunk data
// layout's fixed offset for that block (must be called after BeginIO).
func readRawBlock(fd *os.File, k uint16) ([]byte, error) {
	buf := make([]byte, BlockSize)
	off := DataOffset + int64(k)*BlockSize
	n, err := fd.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n < BlockSize {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}

// writeRawBlock writes the full 64 KiB block k to fd (must be called after
// BeginIO).
func writeRawBlock(fd *os.File, k uint16, buf []byte) error {
	off := DataOffset + int64(k)*BlockSize
	_, err := fd.WriteAt(buf, off)
	return err
}

// CRC32 computes the IEEE CRC-32 of buf, the checksum used throughout the
// store for per-block integrity.
func CRC32(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf)
}

// ReadBlock reads size bytes at offset within block within chunkID/version,
// verifying the stored CRC over the full block before slicing out the
// requested sub-range. Returns StatusWrongVersion, StatusWrongOffset,
// StatusCRCError or StatusEIO as appropriate.
func ReadBlock(idx *ChunkIndex, openList *OpenChunkList, chunkID uint64, version uint32, block uint16, offset, size uint32) ([]byte, uint32, error) {
	c := idx.Lookup(chunkID)
	if c == nil {
		return nil, 0, ErrNoChunk
	}
	if c.Version != version {
		return nil, 0, ErrWrongVersion
	}
	if block >= c.Blocks {
		return nil, 0, ErrWrongOffset
	}
	if uint64(offset)+uint64(size) > BlockSize {
		return nil, 0, ErrWrongOffset
	}

	if err := BeginIO(c); err != nil {
		return nil, 0, err
	}
	defer EndIO(openList, c, time.Now())

	c.mu.Lock()
	fd := c.fd
	want := crcAt(c.crc, block)
	c.mu.Unlock()

	buf, err := readRawBlock(fd, block)
	if err != nil {
		return nil, 0, err
	}
	got := CRC32(buf)
	if got != want {
		return nil, 0, ErrCRCMismatch
	}
	return buf[offset : offset+size], got, nil
}

// WriteBlock writes data (length size) at offset within block, growing the
// chunk's block count if this is the first write past its current extent,
// and recomputes the block's CRC. A write that doesn't cover the whole
// block first reads the existing content so the CRC always covers the full
// 64 KiB, matching ReadBlock's whole-block verification.
func WriteBlock(idx *ChunkIndex, openList *OpenChunkList, chunkID uint64, version uint32, block uint16, offset uint32, data []byte) error {
	c := idx.Lookup(chunkID)
	if c == nil {
		return ErrNoChunk
	}
	if c.Version != version {
		return ErrWrongVersion
	}
	if uint64(offset)+uint64(len(data)) > BlockSize {
		return ErrWrongOffset
	}
	if block >= MaxBlocks {
		return ErrBNumTooBig
	}

	if err := BeginIO(c); err != nil {
		return err
	}
	defer EndIO(openList, c, time.Now())

	c.mu.Lock()
	fd := c.fd
	grown := block >= c.Blocks
	c.mu.Unlock()

	var buf []byte
	if offset == 0 && len(data) == BlockSize {
		buf = data
	} else if grown {
		buf = make([]byte, BlockSize)
		copy(buf[offset:], data)
	} else {
		existing, err := readRawBlock(fd, block)
		if err != nil {
			return err
		}
		copy(existing[offset:], data)
		buf = existing
	}

	if err := writeRawBlock(fd, block, buf); err != nil {
		return err
	}

	c.mu.Lock()
	setCRCAt(c, block, CRC32(buf))
	if grown {
		for b := c.Blocks; b < block; b++ {
			setCRCAt(c, b, ZeroCRC())
		}
		c.Blocks = block + 1
	}
	c.mu.Unlock()
	return nil
}
