package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned by the Get* combinators when the cursor does not
// have enough remaining bytes to satisfy the read.
var ErrShortBuffer = errors.New("wire: short buffer")

// Cursor is a typed read/write combinator over a byte slice, replacing the
// macro-driven PUT32BIT/GET32BIT style of the original encoder with ordinary
// Go functions operating on an explicit offset.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor wraps buf for reading starting at offset 0.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// NewWriteCursor allocates a fresh buffer of the given capacity for writing.
func NewWriteCursor(capacity int) *Cursor {
	return &Cursor{buf: make([]byte, 0, capacity)}
}

// Bytes returns the cursor's backing buffer.
func (c *Cursor) Bytes() []byte { return c.buf }

// Remaining reports how many unread bytes remain.
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

func (c *Cursor) need(n int) error {
	if c.Remaining() < n {
		return ErrShortBuffer
	}
	return nil
}

// GetU8 reads a single byte.
func (c *Cursor) GetU8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

// GetU16 reads a big-endian uint16.
func (c *Cursor) GetU16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

// GetU32 reads a big-endian uint32.
func (c *Cursor) GetU32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

// GetU64 reads a big-endian uint64.
func (c *Cursor) GetU64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v, nil
}

// GetBytes reads n raw bytes without copying (the slice aliases the cursor's
// backing array; callers that retain it past the frame's lifetime must copy).
func (c *Cursor) GetBytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	v := c.buf[c.off : c.off+n]
	c.off += n
	return v, nil
}

// PutU8 appends a single byte.
func (c *Cursor) PutU8(v uint8) { c.buf = append(c.buf, v) }

// PutU16 appends a big-endian uint16.
func (c *Cursor) PutU16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	c.buf = append(c.buf, tmp[:]...)
}

// PutU32 appends a big-endian uint32.
func (c *Cursor) PutU32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	c.buf = append(c.buf, tmp[:]...)
}

// PutU64 appends a big-endian uint64.
func (c *Cursor) PutU64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	c.buf = append(c.buf, tmp[:]...)
}

// PutBytes appends raw bytes verbatim.
func (c *Cursor) PutBytes(v []byte) { c.buf = append(c.buf, v...) }
