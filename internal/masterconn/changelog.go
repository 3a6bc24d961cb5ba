package masterconn

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Changelog mirrors the master's metadata changelog locally, the optional
// collaborator backing MATOCS_STRUCTURE_LOG/MATOCS_STRUCTURE_LOG_ROTATE.
// It exists purely so an operator can inspect recent structure-log entries
// without a master connection; the chunkserver never replays or
// interprets the log itself.
type Changelog struct {
	mu       sync.Mutex
	dir      string
	backLogs int
	f        *os.File
}

// NewChangelog opens (creating if absent) changelog_csback.0.mfs under dir,
// keeping up to backLogs rotated generations.
func NewChangelog(dir string, backLogs int) (*Changelog, error) {
	if backLogs < 1 {
		backLogs = 1
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("changelog: %w", err)
	}
	cl := &Changelog{dir: dir, backLogs: backLogs}
	f, err := os.OpenFile(cl.path(0), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("changelog: open: %w", err)
	}
	cl.f = f
	return cl, nil
}

func (cl *Changelog) path(gen int) string {
	return filepath.Join(cl.dir, fmt.Sprintf("changelog_csback.%d.mfs", gen))
}

// Append writes one "<version>: <text>\n" entry to the active log file.
func (cl *Changelog) Append(version uint32, text []byte) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.f == nil {
		return
	}
	line := fmt.Sprintf("%d: %s\n", version, text)
	cl.f.WriteString(line)
}

// Rotate shifts changelog_csback.N.mfs to N+1 for every existing
// generation up to backLogs, dropping the oldest, then opens a fresh
// generation 0.
func (cl *Changelog) Rotate() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.f != nil {
		cl.f.Close()
		cl.f = nil
	}
	os.Remove(cl.path(cl.backLogs))
	for gen := cl.backLogs - 1; gen >= 0; gen-- {
		os.Rename(cl.path(gen), cl.path(gen+1))
	}
	f, err := os.OpenFile(cl.path(0), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err == nil {
		cl.f = f
	}
}

// Close releases the active log file.
func (cl *Changelog) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.f == nil {
		return nil
	}
	err := cl.f.Close()
	cl.f = nil
	return err
}
