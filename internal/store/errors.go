package store

import (
	"errors"
	"time"

	"github.com/quantarax/chunkserver/internal/wire"
)

// Sentinel errors returned by ReadBlock/WriteBlock; callers in the
// connection-handling packages map these onto wire.Status codes.
var (
	ErrNoChunk      = errors.New("store: no such chunk")
	ErrWrongVersion = errors.New("store: wrong chunk version")
	ErrWrongOffset  = errors.New("store: block offset/size out of range")
	ErrCRCMismatch  = errors.New("store: block crc mismatch")
	ErrBNumTooBig   = errors.New("store: block number too big")
)

// StatusForErr maps a ReadBlock/WriteBlock error onto the wire status code
// reported back to whoever asked for the block; any error not in the known
// sentinel set is treated as a lower-level I/O failure.
func StatusForErr(err error) wire.Status {
	switch err {
	case nil:
		return wire.StatusOK
	case ErrNoChunk:
		return wire.StatusNoChunk
	case ErrWrongVersion:
		return wire.StatusWrongVersion
	case ErrWrongOffset:
		return wire.StatusWrongOffset
	case ErrCRCMismatch:
		return wire.StatusCRCError
	case ErrBNumTooBig:
		return wire.StatusBNumTooBig
	default:
		return wire.StatusEIO
	}
}

// ReportIOFailure records an I/O-level failure (StatusEIO, not one of the
// well-understood sentinel errors) against chunkID's folder, marking the
// folder damaged once it crosses the error-burst threshold. Callers pass
// only errors that made it past the sentinel cases above.
func (s *Store) ReportIOFailure(chunkID uint64, now time.Time) {
	c := s.Index.Lookup(chunkID)
	if c == nil {
		return
	}
	s.MarkFolderError(c, now)
}
