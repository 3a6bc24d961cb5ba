package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// errorRingSize is the 3-entry ring of recent I/O errors used to decide
// whether a folder should be marked damaged.
const errorRingSize = 3

// damagedWindow is the time window within which errorRingSize errors mark a
// folder damaged.
const damagedWindow = time.Hour

type errorEntry struct {
	chunkID   uint64
	timestamp time.Time
}

// Folder is one configured storage directory.
type Folder struct {
	Path      string
	ToDelete  bool // drain-only: never receives new chunks
	LeaveFree int64

	Avail       int64
	Total       int64
	ChunkCount  int

	NeedsRefresh bool
	Damaged      bool

	errRing [errorRingSize]errorEntry
	errNext int

	lockFile *os.File
}

// OpenFolder prepares folder at path for use: creates the 16 one-hex-char
// chunk subdirectories ("0".."F") and takes the advisory per-folder lock.
func OpenFolder(path string, toDelete bool, leaveFree int64) (*Folder, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("folder %s: %w", path, err)
	}
	for i := 0; i < 16; i++ {
		sub := filepath.Join(path, fmt.Sprintf("%X", i))
		if err := os.MkdirAll(sub, 0755); err != nil {
			return nil, fmt.Errorf("folder %s: subdir %s: %w", path, sub, err)
		}
	}

	lockPath := filepath.Join(path, ".lock")
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("folder %s: lock: %w", path, err)
	}
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lf.Close()
		return nil, fmt.Errorf("folder %s: already in use by another process: %w", path, err)
	}

	return &Folder{
		Path:         path,
		ToDelete:     toDelete,
		LeaveFree:    leaveFree,
		NeedsRefresh: true,
		lockFile:     lf,
	}, nil
}

// Close releases the folder's lock file.
func (f *Folder) Close() error {
	if f.lockFile == nil {
		return nil
	}
	unix.Flock(int(f.lockFile.Fd()), unix.LOCK_UN)
	return f.lockFile.Close()
}

// FreeFraction is avail/total, used to pick the emptiest folder for new
// chunks (greatest free fraction wins) and, inverted, the fullest folder for
// duplicate/duptrunc placement.
func (f *Folder) FreeFraction() float64 {
	if f.Total <= 0 {
		return 0
	}
	return float64(f.Avail) / float64(f.Total)
}

// RecordError appends an error for chunkID to the folder's 3-entry ring and
// reports whether this folder has now accumulated errorRingSize errors
// within damagedWindow — the signal that marks it damaged.
func (f *Folder) RecordError(chunkID uint64, now time.Time) bool {
	f.errRing[f.errNext] = errorEntry{chunkID: chunkID, timestamp: now}
	f.errNext = (f.errNext + 1) % errorRingSize
	return f.errorBurstWithinWindow(now)
}

func (f *Folder) errorBurstWithinWindow(now time.Time) bool {
	oldest := f.errRing[f.errNext] // the slot about to be overwritten next is the oldest
	if oldest.timestamp.IsZero() {
		return false // haven't yet recorded errorRingSize errors at all
	}
	return now.Sub(oldest.timestamp) <= damagedWindow
}

// RecentErrors returns the folder's error ring entries, oldest first,
// skipping unused slots.
func (f *Folder) RecentErrors() []struct {
	ChunkID   uint64
	Timestamp time.Time
} {
	var out []struct {
		ChunkID   uint64
		Timestamp time.Time
	}
	for i := 0; i < errorRingSize; i++ {
		idx := (f.errNext + i) % errorRingSize
		e := f.errRing[idx]
		if e.timestamp.IsZero() {
			continue
		}
		out = append(out, struct {
			ChunkID   uint64
			Timestamp time.Time
		}{e.chunkID, e.timestamp})
	}
	return out
}
