// Package adminapi exposes the chunkserver's read-only introspection
// surface plus the one operator-mutating action (folder drain): a gRPC
// server construction mirrors the teacher fleet's daemon API, with the
// same gRPC-gateway-else-native-HTTP fallback, since this rewrite likewise
// ships no generated protobuf stubs for the admin surface.
package adminapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quantarax/chunkserver/internal/jobpool"
	"github.com/quantarax/chunkserver/internal/store"
)

// FolderView is the JSON shape returned by GET /v1/folders.
type FolderView struct {
	Path       string `json:"path"`
	ToDelete   bool   `json:"to_delete"`
	Damaged    bool   `json:"damaged"`
	Avail      int64  `json:"avail"`
	Total      int64  `json:"total"`
	ChunkCount int    `json:"chunk_count"`
}

// JobPoolView is the JSON shape returned by GET /v1/jobpool.
type JobPoolView struct {
	PendingJobs int `json:"pending_jobs"`
}

// ChunkView is the JSON shape returned by GET /v1/chunks/{id}.
type ChunkView struct {
	ChunkID uint64 `json:"chunk_id"`
	Version uint32 `json:"version"`
	Blocks  uint16 `json:"blocks"`
	Folder  string `json:"folder"`
}

// Server wires the local store and job pool to the admin HTTP/gRPC surface.
// Every mutating call is rate-limited: a drain is disruptive, so Server
// only allows a small, steady trickle of them rather than letting an
// automated tool hammer the endpoint.
type Server struct {
	store       *store.Store
	pool        *jobpool.Pool
	drainLimit  *rate.Limiter
}

// New builds a Server over st/pool. Folder drains are capped at one every
// two seconds with a burst of one, generous for an operator driving this by
// hand and tight enough to keep a scripting mistake from toggling every
// folder at once.
func New(st *store.Store, pool *jobpool.Pool) *Server {
	return &Server{
		store:      st,
		pool:       pool,
		drainLimit: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// RegisterHTTP mounts the admin REST routes on mux, the native fallback
// used whenever no grpc-gateway registration succeeded (see gateway.go).
func (s *Server) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/v1/folders", s.handleFolders)
	mux.HandleFunc("/v1/jobpool", s.handleJobPool)
	mux.HandleFunc("/v1/chunks/", s.handleChunk)
	mux.HandleFunc("/v1/folders/", s.handleFolderDrain)
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := make([]FolderView, 0, len(s.store.Folders))
	for _, f := range s.store.Folders {
		out = append(out, FolderView{
			Path:       f.Path,
			ToDelete:   f.ToDelete,
			Damaged:    f.Damaged,
			Avail:      f.Avail,
			Total:      f.Total,
			ChunkCount: f.ChunkCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleJobPool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, JobPoolView{PendingJobs: s.pool.Pending()})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/v1/chunks/")
	chunkID, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid chunk id")
		return
	}
	c := s.store.Index.Lookup(chunkID)
	if c == nil {
		writeJSONError(w, http.StatusNotFound, "chunk not found")
		return
	}
	writeJSON(w, http.StatusOK, ChunkView{
		ChunkID: c.ChunkID,
		Version: c.Version,
		Blocks:  c.Blocks,
		Folder:  c.Owner().Path,
	})
}

// handleFolderDrain serves POST /v1/folders/{path-escaped}/drain, toggling
// a folder's to_delete flag so it stops accepting new chunks — the
// operator-initiated counterpart to the master-driven "three errors"
// damaged path.
func (s *Server) handleFolderDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/drain") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if !s.drainLimit.Allow() {
		writeJSONError(w, http.StatusTooManyRequests, "too many drain requests, slow down")
		return
	}
	reqID := uuid.NewString()
	w.Header().Set("X-Request-Id", reqID)

	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/folders/"), "/drain")

	for _, f := range s.store.Folders {
		if f.Path == path {
			f.ToDelete = true
			writeJSON(w, http.StatusOK, FolderView{
				Path: f.Path, ToDelete: f.ToDelete, Damaged: f.Damaged,
				Avail: f.Avail, Total: f.Total, ChunkCount: f.ChunkCount,
			})
			return
		}
	}
	writeJSONError(w, http.StatusNotFound, "folder not found")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
