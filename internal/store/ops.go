package store

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/quantarax/chunkserver/internal/wire"
)

// Create makes a brand-new, zero-block chunk at version, placing it in
// folder (the caller picks folder via ChooseFolderForNewChunk).
func (s *Store) Create(folder *Folder, chunkID uint64, version uint32) (*Chunk, wire.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Index.Lookup(chunkID) != nil {
		return nil, wire.StatusChunkExist
	}
	path := chunkPath(folder.Path, chunkID, version)
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, wire.StatusChunkExist
		}
		return nil, wire.StatusEIO
	}
	hdr := buildHeader(chunkID, version)
	if _, err := fd.WriteAt(hdr, 0); err != nil {
		fd.Close()
		os.Remove(path)
		return nil, wire.StatusEIO
	}
	crc := make([]byte, CRCTableSize)
	if _, err := fd.WriteAt(crc, CRCTableOffset); err != nil {
		fd.Close()
		os.Remove(path)
		return nil, wire.StatusEIO
	}
	if err := fd.Sync(); err != nil {
		fd.Close()
		os.Remove(path)
		return nil, wire.StatusEIO
	}
	fd.Close()

	c := &Chunk{
		ChunkID:  chunkID,
		Version:  version,
		Blocks:   0,
		filename: chunkFileName(chunkID, version),
		owner:    folder,
	}
	s.Index.Insert(c)
	folder.ChunkCount++
	return c, wire.StatusOK
}

// Delete removes chunkID at version, or fails with NOCHUNK/WRONGVERSION.
func (s *Store) Delete(chunkID uint64, version uint32) wire.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.Index.Lookup(chunkID)
	if c == nil {
		return wire.StatusNoChunk
	}
	if c.Version != version {
		return wire.StatusWrongVersion
	}
	path := c.Path()

	c.mu.Lock()
	if c.fd != nil {
		c.fd.Close()
		c.fd = nil
	}
	c.mu.Unlock()
	s.OpenList.remove(c)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return wire.StatusEIO
	}
	s.Index.Remove(chunkID)
	c.owner.ChunkCount--
	return wire.StatusOK
}

// SetVersion bumps chunkID from oldVersion to newVersion. The header under
// the old filename is rewritten and fsynced first; only once that succeeds
// is the file renamed to the new-version name. A crash between the two
// leaves a file whose header and filename disagree — that file alone is
// treated as corrupt on the next scan, which is safer than ever having two
// files both claiming to be valid at the same version.
func (s *Store) SetVersion(chunkID uint64, oldVersion, newVersion uint32) wire.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.Index.Lookup(chunkID)
	if c == nil {
		return wire.StatusNoChunk
	}
	if c.Version != oldVersion {
		return wire.StatusWrongVersion
	}

	oldPath := c.Path()
	newPath := chunkPath(c.owner.Path, chunkID, newVersion)

	c.mu.Lock()
	defer c.mu.Unlock()

	fd := c.fd
	ownFd := false
	if fd == nil {
		f, err := os.OpenFile(oldPath, os.O_RDWR, 0644)
		if err != nil {
			return wire.StatusEIO
		}
		fd = f
		ownFd = true
	}

	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], newVersion)
	if _, err := fd.WriteAt(verBuf[:], 16); err != nil {
		if ownFd {
			fd.Close()
		}
		return wire.StatusEIO
	}
	if err := fd.Sync(); err != nil {
		if ownFd {
			fd.Close()
		}
		return wire.StatusEIO
	}

	// The chunk must not have an fd open across the rename: it would keep
	// referencing the old (now stale) name via the open file description.
	if c.fd != nil {
		c.fd.Close()
		c.fd = nil
		c.crc = nil
		s.OpenList.remove(c)
	} else if ownFd {
		fd.Close()
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		return wire.StatusEIO
	}

	c.Version = newVersion
	c.filename = chunkFileName(chunkID, newVersion)
	return wire.StatusOK
}

// Truncate resizes chunkID to length bytes while bumping it to newVersion,
// following SetVersion's old-name-first rewrite discipline. Shrinking to an
// exact block boundary just truncates the backing file; shrinking into the
// middle of a block zeroes the remainder of that block and recomputes its
// CRC; growing extends the file with zero blocks.
func (s *Store) Truncate(chunkID uint64, oldVersion, newVersion uint32, length uint32) wire.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truncateLocked(chunkID, oldVersion, newVersion, length)
}

func (s *Store) truncateLocked(chunkID uint64, oldVersion, newVersion uint32, length uint32) wire.Status {
	c := s.Index.Lookup(chunkID)
	if c == nil {
		return wire.StatusNoChunk
	}
	if c.Version != oldVersion {
		return wire.StatusWrongVersion
	}
	newBlocks, partial, partialLen := blockLayout(length)
	if newBlocks > MaxBlocks {
		return wire.StatusBNumTooBig
	}
	wholeBlocks := newBlocks

	if err := BeginIO(c); err != nil {
		return wire.StatusEIO
	}
	defer func() {
		c.mu.Lock()
		if c.crcRefCount > 0 {
			c.crcRefCount--
		}
		c.mu.Unlock()
	}()

	c.mu.Lock()
	fd := c.fd
	crc := c.crc

	if partial {
		buf, err := readRawBlock(fd, uint16(newBlocks))
		if err != nil {
			buf = make([]byte, BlockSize)
		}
		for i := partialLen; i < BlockSize; i++ {
			buf[i] = 0
		}
		if _, err := fd.WriteAt(buf, DataOffset+int64(newBlocks)*BlockSize); err != nil {
			c.mu.Unlock()
			return wire.StatusEIO
		}
		setCRCAt(c, uint16(newBlocks), CRC32(buf))
		newBlocks++
	}

	newSize := fileSizeForBlocks(uint16(newBlocks))
	if err := fd.Truncate(newSize); err != nil {
		c.mu.Unlock()
		return wire.StatusEIO
	}
	if newBlocks < int(c.Blocks) {
		for b := newBlocks; b < int(c.Blocks); b++ {
			setCRCAt(c, uint16(b), ZeroCRC())
		}
	}
	for b := int(c.Blocks); b < wholeBlocks; b++ {
		setCRCAt(c, uint16(b), ZeroCRC())
	}
	c.Blocks = uint16(newBlocks)

	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], newVersion)
	if _, err := fd.WriteAt(verBuf[:], 16); err != nil {
		c.mu.Unlock()
		return wire.StatusEIO
	}
	if c.crcDirty {
		if _, err := fd.WriteAt(crc, CRCTableOffset); err != nil {
			c.mu.Unlock()
			return wire.StatusEIO
		}
		c.crcDirty = false
	}
	if err := fd.Sync(); err != nil {
		c.mu.Unlock()
		return wire.StatusEIO
	}

	oldPath := chunkPath(c.owner.Path, chunkID, oldVersion)
	newPath := chunkPath(c.owner.Path, chunkID, newVersion)
	c.fd.Close()
	c.fd = nil
	c.crc = nil
	c.mu.Unlock()
	s.OpenList.remove(c)

	if err := os.Rename(oldPath, newPath); err != nil {
		return wire.StatusEIO
	}
	c.Version = newVersion
	c.filename = chunkFileName(chunkID, newVersion)
	return wire.StatusOK
}

// blockLayout splits a byte length into a whole-block count plus an
// optional trailing partial block.
func blockLayout(length uint32) (blocks int, partial bool, partialLen int) {
	blocks = int(length / BlockSize)
	rem := int(length % BlockSize)
	if rem != 0 {
		return blocks, true, rem
	}
	return blocks, false, 0
}

// Duplicate copies srcChunk (at srcVersion) to a brand-new chunk id/version,
// placed in the fullest eligible folder.
func (s *Store) Duplicate(srcChunkID uint64, srcVersion uint32, dstChunkID uint64, dstVersion uint32) wire.Status {
	return s.duplicateImpl(srcChunkID, srcVersion, dstChunkID, dstVersion, nil)
}

// Duptrunc is Duplicate followed by an in-place truncate to length, both
// under one hold of Store.mu. The destination is first written and indexed
// at the source's full length, then truncated.
func (s *Store) Duptrunc(srcChunkID uint64, srcVersion uint32, dstChunkID uint64, dstVersion uint32, length uint32) wire.Status {
	return s.duplicateImpl(srcChunkID, srcVersion, dstChunkID, dstVersion, &length)
}

func (s *Store) duplicateImpl(srcChunkID uint64, srcVersion uint32, dstChunkID uint64, dstVersion uint32, truncTo *uint32) wire.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.Index.Lookup(srcChunkID)
	if src == nil {
		return wire.StatusNoChunk
	}
	if src.Version != srcVersion {
		return wire.StatusWrongVersion
	}
	if s.Index.Lookup(dstChunkID) != nil {
		return wire.StatusChunkExist
	}
	folder := s.chooseFolderForFullestLocked()
	if folder == nil {
		return wire.StatusNoSpace
	}

	if err := BeginIO(src); err != nil {
		return wire.StatusEIO
	}
	defer EndIO(s.OpenList, src, time.Now())

	src.mu.Lock()
	blocks := src.Blocks
	srcCRC := append([]byte(nil), src.crc...)
	srcFd := src.fd
	src.mu.Unlock()

	dstPath := chunkPath(folder.Path, dstChunkID, dstVersion)
	dstFd, err := os.OpenFile(dstPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return wire.StatusEIO
	}
	defer dstFd.Close()

	hdr := buildHeader(dstChunkID, dstVersion)
	if _, err := dstFd.WriteAt(hdr, 0); err != nil {
		os.Remove(dstPath)
		return wire.StatusEIO
	}
	if _, err := dstFd.WriteAt(srcCRC, CRCTableOffset); err != nil {
		os.Remove(dstPath)
		return wire.StatusEIO
	}
	for b := uint16(0); b < blocks; b++ {
		buf, rerr := readRawBlock(srcFd, b)
		if rerr != nil {
			os.Remove(dstPath)
			return wire.StatusEIO
		}
		if _, werr := dstFd.WriteAt(buf, DataOffset+int64(b)*BlockSize); werr != nil {
			os.Remove(dstPath)
			return wire.StatusEIO
		}
	}
	if err := dstFd.Sync(); err != nil {
		os.Remove(dstPath)
		return wire.StatusEIO
	}

	dst := &Chunk{
		ChunkID:  dstChunkID,
		Version:  dstVersion,
		Blocks:   blocks,
		filename: chunkFileName(dstChunkID, dstVersion),
		owner:    folder,
	}
	s.Index.Insert(dst)
	folder.ChunkCount++

	if truncTo != nil {
		dstFd.Close() // truncateLocked reopens by path
		return s.truncateLocked(dstChunkID, dstVersion, dstVersion, *truncTo)
	}
	return wire.StatusOK
}
