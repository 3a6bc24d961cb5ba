// Package pidlock takes an advisory, whole-process lock file so that two
// chunkserver daemons never run against the same configuration directory
// at once, the same guarantee store.OpenFolder gives each individual
// folder.
package pidlock

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Lock is a held advisory lock on a single file.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if needed) the file at path, takes an exclusive
// non-blocking flock on it, and writes the current pid. The lock is held
// until Release is called or the process exits.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("pidlock: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("pidlock: %s already locked by another chunkserver process: %w", path, err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Release drops the lock and removes the pid file.
func (l *Lock) Release() {
	path := l.f.Name()
	l.f.Close()
	os.Remove(path)
}
