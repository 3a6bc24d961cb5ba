package charts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSampleAndRangeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "stats.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Sample(ctx, 1000, map[string]float64{SeriesChunkCount: 5}); err != nil {
		t.Fatal(err)
	}
	if err := s.Sample(ctx, 1060, map[string]float64{SeriesChunkCount: 7}); err != nil {
		t.Fatal(err)
	}

	points, err := s.Range(ctx, SeriesChunkCount, 0, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 {
		t.Fatalf("want 2 points, got %d", len(points))
	}
	if points[0].Value != 5 || points[1].Value != 7 {
		t.Fatalf("unexpected values: %+v", points)
	}
}

func TestOpenCreatesDatabaseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file to exist: %v", err)
	}
}
