// Package analytics records query events in an append-only sqlite store.
//
// The intent classifier's pattern set is tuned offline from this data, so
// every planned query logs its intent, strategy, and timing. Writes are
// fire-and-forget: analytics failures never fail a query.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one recorded query.
type Event struct {
	At         time.Time
	Query      string
	Intent     string
	Strategy   string
	Freshness  string
	Source     string
	Results    int
	DurationMS int64
	Details    map[string]any
}

// Recorder appends events to analytics.db.
type Recorder struct {
	mu  sync.Mutex
	db  *sql.DB
	log *slog.Logger
}

// Open creates or opens the analytics store inside the index directory.
func Open(indexDir string, log *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(indexDir, "analytics.db"))
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS query_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		at          INTEGER NOT NULL,
		query       TEXT NOT NULL,
		intent      TEXT NOT NULL,
		strategy    TEXT NOT NULL,
		freshness   TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL DEFAULT '',
		results     INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		details     TEXT NOT NULL DEFAULT '{}'
	)`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Recorder{db: db, log: log}, nil
}

// Record appends one event. Errors are logged, never returned.
func (r *Recorder) Record(ctx context.Context, ev *Event) {
	if r == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	details, err := json.Marshal(ev.Details)
	if err != nil {
		details = []byte("{}")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO query_events (at, query, intent, strategy, freshness, source, results, duration_ms, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.At.Unix(), ev.Query, ev.Intent, ev.Strategy, ev.Freshness, ev.Source,
		ev.Results, ev.DurationMS, string(details))
	if err != nil && r.log != nil {
		r.log.Warn("analytics write failed", slog.String("error", err.Error()))
	}
}

// IntentDistribution aggregates intent counts since a cutoff, for offline
// pattern tuning.
func (r *Recorder) IntentDistribution(ctx context.Context, since time.Time) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT intent, COUNT(*) FROM query_events
		WHERE at >= ? GROUP BY intent`, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var intent string
		var n int
		if err := rows.Scan(&intent, &n); err != nil {
			return nil, err
		}
		out[intent] = n
	}
	return out, rows.Err()
}

// Close releases the store.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}
