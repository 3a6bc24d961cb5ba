package adminapi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/quantarax/chunkserver/internal/jobpool"
	"github.com/quantarax/chunkserver/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "adminapi")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st := store.NewStore(nil)
	if err := st.AddFolder(dir, false, 0); err != nil {
		t.Fatal(err)
	}
	pool := jobpool.New(1, 4)
	t.Cleanup(pool.Close)
	return New(st, pool)
}

func TestHandleFoldersListsRegisteredFolders(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.RegisterHTTP(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/folders", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestHandleChunkNotFound(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.RegisterHTTP(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/chunks/999", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}

func TestHandleFolderDrainMarksToDelete(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.RegisterHTTP(mux)

	path := s.store.Folders[0].Path
	req := httptest.NewRequest(http.MethodPost, "/v1/folders/"+url.PathEscape(path)+"/drain", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !s.store.Folders[0].ToDelete {
		t.Fatal("folder should be marked to_delete after drain")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected X-Request-Id header")
	}
}
