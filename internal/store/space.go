package store

import (
	"golang.org/x/sys/unix"
)

// RefreshSpace re-statfs's every registered folder, updating Avail/Total.
// Called periodically (once a minute) from the event loop so SPACE
// reports to the master stay current without a statfs call per request.
// Takes Store.mu because Avail/Total are also read by folder selection from
// job-pool workers.
func (s *Store) RefreshSpace() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.Folders {
		refreshFolderSpace(f)
	}
}

func refreshFolderSpace(f *Folder) {
	var st unix.Statfs_t
	if err := unix.Statfs(f.Path, &st); err != nil {
		return
	}
	blockSize := uint64(st.Bsize)
	f.Total = int64(st.Blocks * blockSize)
	avail := int64(st.Bavail * blockSize)
	if f.LeaveFree > 0 {
		avail -= f.LeaveFree
		if avail < 0 {
			avail = 0
		}
	}
	f.Avail = avail
	f.NeedsRefresh = false
}

// TotalSpace sums Total across every non-damaged folder, for the aggregate
// SPACE report sent to the master.
func (s *Store) TotalSpace() (total, avail int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.Folders {
		if f.Damaged {
			continue
		}
		total += f.Total
		avail += f.Avail
	}
	return total, avail
}

// FolderTotals reports the aggregate chunk/space counters split between
// ordinary and draining ("to-delete") folders, as sent in REGISTER and
// SPACE frames.
func (s *Store) FolderTotals() (chunkCount, tdChunkCount uint32, tdUsed, tdTotal uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.Folders {
		if f.ToDelete {
			tdChunkCount += uint32(f.ChunkCount)
			tdTotal += uint64(f.Total)
			used := f.Total - f.Avail
			if used > 0 {
				tdUsed += uint64(used)
			}
		} else {
			chunkCount += uint32(f.ChunkCount)
		}
	}
	return chunkCount, tdChunkCount, tdUsed, tdTotal
}
