package store

import (
	"os"
	"testing"
	"time"

	"github.com/quantarax/chunkserver/internal/wire"
)

func newTestStore(t *testing.T) (*Store, *Folder, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "csstore")
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(nil)
	if err := s.AddFolder(dir, false, 0); err != nil {
		t.Fatal(err)
	}
	f := s.Folders[0]
	f.Total = 1 << 30
	f.Avail = 1 << 30
	return s, f, func() { os.RemoveAll(dir) }
}

func TestCreateDeleteRoundTrip(t *testing.T) {
	s, f, cleanup := newTestStore(t)
	defer cleanup()

	c, status := s.Create(f, 1, 1)
	if status != wire.StatusOK {
		t.Fatalf("create: %v", status)
	}
	if s.Index.Lookup(1) != c {
		t.Fatal("chunk not indexed")
	}
	if _, err := os.Stat(c.Path()); err != nil {
		t.Fatalf("chunk file missing: %v", err)
	}

	if status := s.Delete(1, 1); status != wire.StatusOK {
		t.Fatalf("delete: %v", status)
	}
	if s.Index.Lookup(1) != nil {
		t.Fatal("chunk still indexed after delete")
	}
	if _, err := os.Stat(c.Path()); !os.IsNotExist(err) {
		t.Fatal("chunk file still present after delete")
	}
}

func TestCreateDuplicateChunkExist(t *testing.T) {
	s, f, cleanup := newTestStore(t)
	defer cleanup()

	if _, status := s.Create(f, 5, 1); status != wire.StatusOK {
		t.Fatalf("first create: %v", status)
	}
	if _, status := s.Create(f, 5, 1); status != wire.StatusChunkExist {
		t.Fatalf("want CHUNKEXIST, got %v", status)
	}
}

func TestWriteReadRoundTripWithCRC(t *testing.T) {
	s, f, cleanup := newTestStore(t)
	defer cleanup()

	s.Create(f, 10, 1)
	payload := make([]byte, BlockSize)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := WriteBlock(s.Index, s.OpenList, 10, 1, 0, 0, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, _, err := ReadBlock(s.Index, s.OpenList, 10, 1, 0, 0, BlockSize)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatal("round-trip mismatch")
	}
}

func TestReadDetectsCRCCorruption(t *testing.T) {
	s, f, cleanup := newTestStore(t)
	defer cleanup()

	s.Create(f, 11, 1)
	payload := make([]byte, BlockSize)
	if err := WriteBlock(s.Index, s.OpenList, 11, 1, 0, 0, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Flush the in-memory CRC table to disk and close the chunk, so the read
	// below checks the corrupted block against the block's real stored CRC.
	if _, _, err := s.OpenList.SweepIdle(time.Now().Add(2 * CloseDelay)); err != nil {
		t.Fatal(err)
	}
	c := s.Index.Lookup(11)
	fd, err := os.OpenFile(c.Path(), os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fd.WriteAt([]byte{0xFF}, DataOffset); err != nil {
		t.Fatal(err)
	}
	fd.Close()
	c.mu.Lock()
	c.fd = nil
	c.crc = nil
	c.mu.Unlock()

	if _, _, err := ReadBlock(s.Index, s.OpenList, 11, 1, 0, 0, BlockSize); err != ErrCRCMismatch {
		t.Fatalf("want ErrCRCMismatch, got %v", err)
	}
}

func TestSetVersionMonotonicAndFileRenamed(t *testing.T) {
	s, f, cleanup := newTestStore(t)
	defer cleanup()

	c, _ := s.Create(f, 20, 1)
	oldPath := c.Path()

	if status := s.SetVersion(20, 1, 2); status != wire.StatusOK {
		t.Fatalf("set version: %v", status)
	}
	if c.Version != 2 {
		t.Fatalf("version not updated: %d", c.Version)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatal("old chunk file still present")
	}
	if _, err := os.Stat(c.Path()); err != nil {
		t.Fatalf("new chunk file missing: %v", err)
	}

	if status := s.SetVersion(20, 1, 3); status != wire.StatusWrongVersion {
		t.Fatalf("want WRONGVERSION against stale oldVersion, got %v", status)
	}
}

func TestTruncateGrowAndShrink(t *testing.T) {
	s, f, cleanup := newTestStore(t)
	defer cleanup()

	s.Create(f, 30, 1)
	if status := s.Truncate(30, 1, 2, BlockSize+100); status != wire.StatusOK {
		t.Fatalf("grow: %v", status)
	}
	c := s.Index.Lookup(30)
	if c.Blocks != 2 {
		t.Fatalf("want 2 blocks after grow, got %d", c.Blocks)
	}

	if status := s.Truncate(30, 2, 3, BlockSize); status != wire.StatusOK {
		t.Fatalf("shrink: %v", status)
	}
	if c.Blocks != 1 {
		t.Fatalf("want 1 block after shrink, got %d", c.Blocks)
	}
	info, err := os.Stat(c.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != fileSizeForBlocks(1) {
		t.Fatalf("file size %d != expected %d", info.Size(), fileSizeForBlocks(1))
	}
}

func TestDuplicateCopiesContent(t *testing.T) {
	s, f, cleanup := newTestStore(t)
	defer cleanup()

	s.Create(f, 40, 1)
	payload := make([]byte, BlockSize)
	payload[0] = 0xAB
	if err := WriteBlock(s.Index, s.OpenList, 40, 1, 0, 0, payload); err != nil {
		t.Fatal(err)
	}

	if status := s.Duplicate(40, 1, 41, 1); status != wire.StatusOK {
		t.Fatalf("duplicate: %v", status)
	}
	got, _, err := ReadBlock(s.Index, s.OpenList, 41, 1, 0, 0, BlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0xAB {
		t.Fatal("duplicate did not copy block content")
	}
}

func TestFolderDamagedAfterThreeErrorsWithinWindow(t *testing.T) {
	_, f, cleanup := newTestStore(t)
	defer cleanup()

	now := time.Now()
	if f.RecordError(1, now) {
		t.Fatal("should not be damaged after 1 error")
	}
	if f.RecordError(2, now.Add(time.Minute)) {
		t.Fatal("should not be damaged after 2 errors")
	}
	if !f.RecordError(3, now.Add(2*time.Minute)) {
		t.Fatal("should be damaged after 3 errors within the window")
	}
}

func TestFolderNotDamagedWhenErrorsSpanTooLong(t *testing.T) {
	_, f, cleanup := newTestStore(t)
	defer cleanup()

	now := time.Now()
	f.RecordError(1, now)
	f.RecordError(2, now.Add(30*time.Minute))
	if f.RecordError(3, now.Add(2*time.Hour)) {
		t.Fatal("should not be damaged: errors span more than the window")
	}
}

func TestSweepIdleClosesAfterDelay(t *testing.T) {
	s, f, cleanup := newTestStore(t)
	defer cleanup()

	s.Create(f, 50, 1)
	payload := make([]byte, BlockSize)
	if err := WriteBlock(s.Index, s.OpenList, 50, 1, 0, 0, payload); err != nil {
		t.Fatal(err)
	}
	c := s.Index.Lookup(50)
	c.mu.Lock()
	hasFD := c.fd != nil
	c.mu.Unlock()
	if !hasFD {
		t.Fatal("expected fd open after write")
	}

	closed, _, err := s.OpenList.SweepIdle(time.Now().Add(2 * CloseDelay))
	if err != nil {
		t.Fatal(err)
	}
	if closed != 1 {
		t.Fatalf("want 1 closed, got %d", closed)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd != nil || c.crc != nil {
		t.Fatal("chunk should have its fd/crc reclaimed")
	}
}

func TestChooseFolderForNewChunkSkipsDamagedAndDraining(t *testing.T) {
	s, _, cleanup := newTestStore(t)
	defer cleanup()

	dir2, err := os.MkdirTemp("", "csstore2")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir2)
	if err := s.AddFolder(dir2, true, 0); err != nil {
		t.Fatal(err)
	}
	s.Folders[1].Total = 1 << 30
	s.Folders[1].Avail = 1 << 30

	chosen := s.ChooseFolderForNewChunk()
	if chosen != s.Folders[0] {
		t.Fatal("should have skipped the draining folder")
	}

	s.Folders[0].Damaged = true
	if s.ChooseFolderForNewChunk() != nil {
		t.Fatal("should have skipped the damaged folder")
	}
}
