// Package store implements the local chunk store: folder management, the
// chunk hash table, on-disk chunk file layout, and the idle-close sweeper.
//
// In the original chunkserver the hash table and folder list are touched
// only from the single event-loop thread; job-pool workers confine
// themselves to a chunk's own I/O state. This port runs job bodies on a
// pool of goroutines rather than handing metadata mutation back to one
// thread, so the same single-writer guarantee is instead enforced by
// Store.mu: every method that inserts/removes an index entry or adjusts a
// folder's counters takes it for the duration of the call. Per-chunk I/O
// (ReadBlock/WriteBlock/BeginIO/EndIO) stays outside it, guarded instead by
// the chunk's own mutex, since the master never overlaps two operations on
// the same chunk id.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DamageReporter receives notifications the store cannot act on itself —
// they need a master connection to send upstream. A nil reporter is valid;
// notifications are simply dropped (useful in tests).
type DamageReporter interface {
	ChunkDamaged(chunkID uint64)
	ChunkLost(chunkID uint64)
	FolderDamaged(path string)
}

// Store owns every folder, the chunk hash table, and the open-chunk list.
type Store struct {
	Index    *ChunkIndex
	OpenList *OpenChunkList
	Folders  []*Folder

	Reporter DamageReporter
	Index2   *BoltIndex // optional shadow index, nil if not configured

	mu sync.Mutex // serializes index/folder-metadata mutation across job-pool workers
}

// NewStore builds an empty store; call AddFolder then Init to populate it.
func NewStore(reporter DamageReporter) *Store {
	return &Store{
		Index:    NewChunkIndex(),
		OpenList: NewOpenChunkList(),
		Reporter: reporter,
	}
}

// AddFolder opens and registers a configured storage directory.
func (s *Store) AddFolder(path string, toDelete bool, leaveFree int64) error {
	f, err := OpenFolder(path, toDelete, leaveFree)
	if err != nil {
		return err
	}
	s.Folders = append(s.Folders, f)
	return nil
}

// Init walks every registered folder, indexing every chunk file found.
// Per folder: walks each of the 16 hex subdirectories, parses every regular
// file matching the chunk name pattern, validates the file size against the
// block count the size implies, and resolves duplicate ids by keeping the
// highest version (the loser is unlinked — the master never intentionally
// leaves two versions of the same chunk behind, so a duplicate on disk
// means a prior crash mid SET_VERSION rename).
func (s *Store) Init() error {
	for _, f := range s.Folders {
		if err := s.scanFolder(f); err != nil {
			return fmt.Errorf("store: scan %s: %w", f.Path, err)
		}
	}
	return nil
}

func (s *Store) scanFolder(f *Folder) error {
	count := 0
	for i := 0; i < 16; i++ {
		sub := filepath.Join(f.Path, fmt.Sprintf("%X", i))
		entries, err := os.ReadDir(sub)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			chunkID, version, ok := parseChunkFileName(ent.Name())
			if !ok {
				continue
			}
			info, err := ent.Info()
			if err != nil {
				continue
			}
			blocks, ok := blocksForFileSize(info.Size())
			if !ok {
				continue // not a chunk-shaped file, ignore
			}
			// A file whose header disagrees with its name (a crash between
			// SetVersion's header rewrite and its rename) is treated as
			// corrupt and left out of the index.
			hf, err := os.Open(filepath.Join(sub, ent.Name()))
			if err != nil {
				continue
			}
			hdr := make([]byte, 20)
			_, rerr := hf.ReadAt(hdr, 0)
			hf.Close()
			if rerr != nil || string(hdr) != string(buildHeader(chunkID, version)[:20]) {
				continue
			}

			if existing := s.Index.Lookup(chunkID); existing != nil {
				if version > existing.Version {
					stale := existing.Path()
					s.replaceIndexed(existing, f, chunkID, version, blocks)
					os.Remove(stale)
				} else {
					os.Remove(chunkPath(f.Path, chunkID, version))
				}
				continue
			}

			c := &Chunk{
				ChunkID:      chunkID,
				Version:      version,
				Blocks:       blocks,
				filename:     chunkFileName(chunkID, version),
				owner:        f,
				lastActivity: time.Time{},
			}
			s.Index.Insert(c)
			count++
		}
	}
	f.ChunkCount = count
	return nil
}

func (s *Store) replaceIndexed(existing *Chunk, f *Folder, chunkID uint64, version uint32, blocks uint16) {
	s.Index.Remove(chunkID)
	c := &Chunk{
		ChunkID:  chunkID,
		Version:  version,
		Blocks:   blocks,
		filename: chunkFileName(chunkID, version),
		owner:    f,
	}
	s.Index.Insert(c)
}

// blocksForFileSize inverts fileSizeForBlocks, rejecting any size that
// doesn't land exactly on a block boundary.
func blocksForFileSize(size int64) (uint16, bool) {
	if size < DataOffset {
		return 0, false
	}
	rem := size - DataOffset
	if rem%BlockSize != 0 {
		return 0, false
	}
	blocks := rem / BlockSize
	if blocks > MaxBlocks {
		return 0, false
	}
	return uint16(blocks), true
}

// ChooseFolderForNewChunk selects the non-draining, non-damaged folder with
// the greatest avail/total ratio — new chunks always land in the emptiest
// folder to keep space balanced across mount points.
func (s *Store) ChooseFolderForNewChunk() *Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chooseFolderForNewChunkLocked()
}

func (s *Store) chooseFolderForNewChunkLocked() *Folder {
	var best *Folder
	var bestFrac float64
	for _, f := range s.Folders {
		if f.ToDelete || f.Damaged {
			continue
		}
		if f.LeaveFree > 0 && f.Avail <= f.LeaveFree {
			continue
		}
		frac := f.FreeFraction()
		if best == nil || frac > bestFrac {
			best = f
			bestFrac = frac
		}
	}
	return best
}

// ChooseFolderForFullest selects the folder with the smallest free fraction
// among non-draining, non-damaged folders — used by Duplicate/Duptrunc,
// which deliberately pack the fullest folder rather than balance, since the
// source chunk already counts against wherever it currently sits.
func (s *Store) ChooseFolderForFullest() *Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chooseFolderForFullestLocked()
}

func (s *Store) chooseFolderForFullestLocked() *Folder {
	var best *Folder
	var bestFrac float64 = 2 // above the [0,1] range FreeFraction returns
	for _, f := range s.Folders {
		if f.ToDelete || f.Damaged {
			continue
		}
		frac := f.FreeFraction()
		if best == nil || frac < bestFrac {
			best = f
			bestFrac = frac
		}
	}
	return best
}

// MarkFolderError records an I/O error against a chunk's owning folder and,
// if the folder has now crossed the damaged threshold, marks it damaged and
// reports every chunk that lived there as CHUNK_LOST before evicting them
// from the index.
func (s *Store) MarkFolderError(c *Chunk, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := c.owner
	if !f.RecordError(c.ChunkID, now) {
		return
	}
	if f.Damaged {
		return
	}
	f.Damaged = true
	if s.Reporter != nil {
		s.Reporter.FolderDamaged(f.Path)
	}
	s.evictFolder(f)
}

// evictFolder removes every chunk owned by f from the index and the
// open-chunk list, reporting each as lost.
func (s *Store) evictFolder(f *Folder) {
	var lost []uint64
	s.Index.ForEach(func(c *Chunk) {
		if c.owner == f {
			lost = append(lost, c.ChunkID)
		}
	})
	for _, id := range lost {
		if c := s.Index.Lookup(id); c != nil {
			s.OpenList.remove(c)
			c.mu.Lock()
			if c.fd != nil {
				c.fd.Close()
				c.fd = nil
			}
			c.mu.Unlock()
		}
		s.Index.Remove(id)
		if s.Reporter != nil {
			s.Reporter.ChunkLost(id)
		}
	}
}
