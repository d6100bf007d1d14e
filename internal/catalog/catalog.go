package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// DefaultWriterWait bounds how long a caller waits for the writer session
// before receiving DbBusy (CRIT_DB interactive wait budget).
const DefaultWriterWait = 1000 * time.Millisecond

// Store is the catalog backed by index_v2.db.
type Store struct {
	db   *sql.DB
	path string

	// writeMu serializes the single logical writer. Readers use the pool
	// in parallel with the writer under WAL.
	writeMu    chan struct{}
	writerWait time.Duration

	closeOnce sync.Once
}

// Open opens (or creates) the catalog at path and runs pending migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params are
	// not honored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{
		db:         db,
		path:       path,
		writeMu:    make(chan struct{}, 1),
		writerWait: DefaultWriterWait,
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// SetWriterWait overrides the writer acquisition budget (tests).
func (s *Store) SetWriterWait(d time.Duration) { s.writerWait = d }

// withWriter runs fn inside the single writer session: acquire the writer
// slot within budget, take the write lock up front, commit on success.
// Contention past budget maps to DbBusy. Cancellation rolls back.
func (s *Store) withWriter(ctx context.Context, fn func(tx *sql.Tx) error) error {
	start := time.Now()
	select {
	case s.writeMu <- struct{}{}:
		defer func() { <-s.writeMu }()
	case <-time.After(s.writerWait):
		return llmcerrors.DbBusy(time.Since(start).Milliseconds(), nil)
	case <-ctx.Done():
		return llmcerrors.Cancelled("db writer acquisition")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return llmcerrors.DbBusy(time.Since(start).Milliseconds(), err)
	}
	// A no-op UPDATE promotes the transaction to a write transaction
	// immediately, so a competing process surfaces as DbBusy here rather
	// than as a failed commit. The writeMu slot only serializes writers
	// within this process.
	if _, err := tx.Exec("UPDATE files SET path = path WHERE 1 = 0"); err != nil {
		_ = tx.Rollback()
		return llmcerrors.DbBusy(time.Since(start).Milliseconds(), err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return llmcerrors.Integrity("catalog commit failed", err)
	}
	return nil
}

// WithWriter exposes the writer session for coordinated multi-statement
// writes (used by the anti-stomp layer).
func (s *Store) WithWriter(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withWriter(ctx, fn)
}

// Stats returns catalog row counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM spans),
			(SELECT COUNT(*) FROM enrichments),
			(SELECT COUNT(*) FROM enrichments WHERE quality = 'real'),
			(SELECT COUNT(*) FROM embeddings)`)
	if err := row.Scan(&st.Files, &st.Spans, &st.Enrichments, &st.EnrichedReal, &st.Embeddings); err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

func logSlowTx(op string, start time.Time) {
	if d := time.Since(start); d > time.Second {
		slog.Warn("catalog_slow_transaction", "op", op, "duration_ms", d.Milliseconds())
	}
}
