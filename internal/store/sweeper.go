package store

import (
	"container/list"
	"sync"
	"time"
)

// CloseDelay is how long a chunk may sit idle (CRC table loaded, fd open)
// before the sweeper reclaims it.
const CloseDelay = 60 * time.Second

// openListHandle is a chunk's position in the open-chunk list, or nil if the
// chunk currently has no CRC table/fd resident.
type openListHandle = *list.Element

// OpenChunkList is the singly-linked list (realized with container/list for
// O(1) removal) of chunks that currently have their CRC table loaded and
// file open. touch is called from EndIO on whichever goroutine just finished
// an I/O against the chunk, while SweepIdle runs on the periodic timer
// goroutine; mu makes the two safe to interleave.
type OpenChunkList struct {
	mu sync.Mutex
	l  *list.List
}

// NewOpenChunkList constructs an empty list.
func NewOpenChunkList() *OpenChunkList {
	return &OpenChunkList{l: list.New()}
}

// touch moves c to the back of the list (most recently active), inserting it
// if not already present.
func (o *OpenChunkList) touch(c *Chunk) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c.openElem != nil {
		o.l.MoveToBack(c.openElem)
		return
	}
	c.openElem = o.l.PushBack(c)
}

// remove drops c from the list if present.
func (o *OpenChunkList) remove(c *Chunk) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c.openElem == nil {
		return
	}
	o.l.Remove(c.openElem)
	c.openElem = nil
}

// SweepIdle walks the list from the front (oldest activity first) and closes
// any chunk idle for at least CloseDelay: flushes a dirty CRC table, frees
// the in-memory table, and closes the fd. Chunks with a non-zero
// crcRefCount (an I/O in flight) are skipped even if old enough — the
// sweeper may only evict when the ref count is zero.
func (o *OpenChunkList) SweepIdle(now time.Time) (closed int, flushed int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var next *list.Element
	for e := o.l.Front(); e != nil; e = next {
		next = e.Next()
		c := e.Value.(*Chunk)

		c.mu.Lock()
		idle := now.Sub(c.lastActivity) >= CloseDelay
		busy := c.crcRefCount > 0
		if !idle || busy {
			c.mu.Unlock()
			continue
		}
		didFlush := false
		if c.crcDirty && c.fd != nil {
			if werr := flushCRCTable(c); werr != nil {
				c.mu.Unlock()
				if err == nil {
					err = werr
				}
				continue
			}
			didFlush = true
		}
		if c.fd != nil {
			c.fd.Close()
			c.fd = nil
		}
		c.crc = nil
		c.mu.Unlock()

		o.l.Remove(e)
		c.openElem = nil
		closed++
		if didFlush {
			flushed++
		}
	}
	return closed, flushed, err
}

// flushCRCTable writes the in-memory CRC table back to its on-disk slot.
func flushCRCTable(c *Chunk) error {
	if _, err := c.fd.WriteAt(c.crc, CRCTableOffset); err != nil {
		return err
	}
	c.crcDirty = false
	return nil
}
