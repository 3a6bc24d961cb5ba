// Package charts implements the chunkserver's stats/charts sample feed: a
// fixed set of named time series, sampled on the same periodic cadence as
// the original stats/charts subsystem, persisted durably so an operator can
// query recent history. Per spec.md §9, this package produces only the
// sample feed — no GIF/PNG chart rendering is implemented.
package charts

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Series names the fixed set of sampled time series.
const (
	SeriesSpaceUsed       = "space_used"
	SeriesSpaceTotal      = "space_total"
	SeriesChunkCount      = "chunk_count"
	SeriesJobPoolQueue    = "jobpool_queue_depth"
	SeriesBytesRead       = "bytes_read"
	SeriesBytesWritten    = "bytes_written"
	SeriesCRCErrors       = "crc_errors"
)

// AllSeries lists every series name Store.Sample expects a value for.
var AllSeries = []string{
	SeriesSpaceUsed,
	SeriesSpaceTotal,
	SeriesChunkCount,
	SeriesJobPoolQueue,
	SeriesBytesRead,
	SeriesBytesWritten,
	SeriesCRCErrors,
}

// Store persists one row per (series, timestamp) sample to a local sqlite
// database, matching the fixed-cadence sample feed spec.md §9 calls for in
// place of the original's dual C/C++ stats implementations.
type Store struct {
	db *sql.DB
}

// Open creates (if absent) the sqlite database at path and ensures the
// samples table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("charts: open %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS samples (
	series    TEXT NOT NULL,
	ts_unix   INTEGER NOT NULL,
	value     REAL NOT NULL,
	PRIMARY KEY (series, ts_unix)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("charts: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Sample persists one reading per series at tsUnix. Any subset of
// AllSeries is accepted and records one row per series passed; the
// chunkserver's sampler passes four of them.
func (s *Store) Sample(ctx context.Context, tsUnix int64, values map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO samples (series, ts_unix, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for series, v := range values {
		if _, err := stmt.ExecContext(ctx, series, tsUnix, v); err != nil {
			return fmt.Errorf("charts: sample %s: %w", series, err)
		}
	}
	return tx.Commit()
}

// Point is one sampled reading returned by Range.
type Point struct {
	TSUnix int64
	Value  float64
}

// Range returns every sample of series with ts_unix in [fromUnix, toUnix],
// oldest first.
func (s *Store) Range(ctx context.Context, series string, fromUnix, toUnix int64) ([]Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_unix, value FROM samples WHERE series = ? AND ts_unix BETWEEN ? AND ? ORDER BY ts_unix`,
		series, fromUnix, toUnix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.TSUnix, &p.Value); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
