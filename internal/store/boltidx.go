package store

import (
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

// BoltIndex is an optional, non-authoritative shadow of the chunk hash
// table plus a durable log of folder errors. It exists purely so an
// operator can inspect chunk placement and folder health history without
// racing the event loop — the on-disk chunk files remain the single source
// of truth. The store holds the database open when one is configured, but
// nothing calls RecordChunk, ForgetChunk or RecordFolderError, so it stays
// empty; it is not read at startup either.
type BoltIndex struct {
	db *bolt.DB
}

var (
	bucketChunks     = []byte("chunks")
	bucketFolderErrs = []byte("folder_errors")
)

// OpenBoltIndex opens (creating if absent) the shadow index at path.
func OpenBoltIndex(path string) (*BoltIndex, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketChunks); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketFolderErrs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltIndex{db: db}, nil
}

// Close closes the underlying database.
func (b *BoltIndex) Close() error { return b.db.Close() }

// RecordChunk upserts chunkID's current folder/version/blocks triple.
func (b *BoltIndex) RecordChunk(chunkID uint64, folder string, version uint32, blocks uint16) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketChunks)
		val := make([]byte, 4+2+len(folder))
		binary.BigEndian.PutUint32(val[0:4], version)
		binary.BigEndian.PutUint16(val[4:6], blocks)
		copy(val[6:], folder)
		return bk.Put(chunkKey(chunkID), val)
	})
}

// ForgetChunk removes chunkID from the shadow index (on delete or eviction).
func (b *BoltIndex) ForgetChunk(chunkID uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunks).Delete(chunkKey(chunkID))
	})
}

// RecordFolderError appends a folder-error entry keyed by folder path and
// timestamp.
func (b *BoltIndex) RecordFolderError(folder string, chunkID uint64, when time.Time) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketFolderErrs)
		key := append([]byte(folder+"\x00"), timeKey(when)...)
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, chunkID)
		return bk.Put(key, val)
	})
}

func chunkKey(chunkID uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, chunkID)
	return k
}

func timeKey(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return k
}
