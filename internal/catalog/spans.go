package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/llmc-dev/llmc/internal/splitter"
)

// ReplaceSpans atomically replaces the span set of a file. Unchanged
// span_hashes survive in place so their enrichments and embeddings carry
// forward; removed hashes are dropped; new hashes are inserted. A hash
// previously owned by another file is re-claimed (rename carry-forward).
func (s *Store) ReplaceSpans(ctx context.Context, filePath string, spans []*splitter.Span) error {
	start := time.Now()
	defer logSlowTx("replace_spans", start)

	return s.withWriter(ctx, func(tx *sql.Tx) error {
		keep := make(map[string]bool, len(spans))
		for _, sp := range spans {
			keep[sp.SpanHash] = true
		}

		// Drop spans of this file that are no longer present.
		if err := deleteSpansFTS(tx, filePath, keep); err != nil {
			return err
		}
		rows, err := tx.Query("SELECT span_hash FROM spans WHERE file_path = ?", filePath)
		if err != nil {
			return err
		}
		var stale []string
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return err
			}
			if !keep[h] {
				stale = append(stale, h)
			}
		}
		rows.Close()
		for _, h := range stale {
			if _, err := tx.Exec("DELETE FROM spans WHERE span_hash = ?", h); err != nil {
				return err
			}
		}

		now := time.Now().Unix()
		for _, sp := range spans {
			imports, err := json.Marshal(sp.Imports)
			if err != nil {
				return err
			}
			_, err = tx.Exec(`
				INSERT INTO spans (span_hash, file_path, symbol, kind, start_line, end_line, text, imports, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(span_hash) DO UPDATE SET
					file_path = excluded.file_path,
					start_line = excluded.start_line,
					end_line = excluded.end_line,
					imports = excluded.imports`,
				sp.SpanHash, filePath, sp.Symbol, string(sp.Kind),
				sp.StartLine, sp.EndLine, sp.Text, string(imports), now)
			if err != nil {
				return err
			}
			// Refresh the FTS row. Body and symbol are part of the hash,
			// so delete+insert is idempotent for unchanged spans.
			if _, err := tx.Exec(
				"DELETE FROM span_fts WHERE span_hash = ?", sp.SpanHash); err != nil {
				return err
			}
			if _, err := tx.Exec(
				"INSERT INTO span_fts (span_hash, symbol, body) VALUES (?, ?, ?)",
				sp.SpanHash, sp.Symbol, sp.Text); err != nil {
				return err
			}
		}
		return nil
	})
}

// deleteSpansFTS removes FTS rows for spans of filePath not in keep.
func deleteSpansFTS(tx *sql.Tx, filePath string, keep map[string]bool) error {
	rows, err := tx.Query("SELECT span_hash FROM spans WHERE file_path = ?", filePath)
	if err != nil {
		return err
	}
	var doomed []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return err
		}
		if keep == nil || !keep[h] {
			doomed = append(doomed, h)
		}
	}
	rows.Close()
	for _, h := range doomed {
		if _, err := tx.Exec("DELETE FROM span_fts WHERE span_hash = ?", h); err != nil {
			return err
		}
	}
	return nil
}

// GetSpan loads a single span by hash.
func (s *Store) GetSpan(ctx context.Context, spanHash string) (*splitter.Span, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT span_hash, file_path, symbol, kind, start_line, end_line, text, imports
		FROM spans WHERE span_hash = ?`, spanHash)
	return scanSpan(row)
}

// SpansByFile returns a file's spans ordered by start line.
func (s *Store) SpansByFile(ctx context.Context, filePath string) ([]*splitter.Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_hash, file_path, symbol, kind, start_line, end_line, text, imports
		FROM spans WHERE file_path = ? ORDER BY start_line`, filePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []*splitter.Span
	for rows.Next() {
		sp, err := scanSpanRows(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// AllSpans streams every span (graph builds). Ordered by file, line.
func (s *Store) AllSpans(ctx context.Context) ([]*splitter.Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_hash, file_path, symbol, kind, start_line, end_line, text, imports
		FROM spans ORDER BY file_path, start_line`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []*splitter.Span
	for rows.Next() {
		sp, err := scanSpanRows(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// SpanLinkHash is the content hash of the current span set: SHA-256 over
// the sorted span_hash list. The graph artifact stores this value so drift
// between catalog and graph is detectable.
func (s *Store) SpanLinkHash(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT span_hash FROM spans")
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return "", err
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return LinkHash(hashes), nil
}

// LinkHash computes the span-set content hash for a hash list.
func LinkHash(spanHashes []string) string {
	sorted := make([]string, len(spanHashes))
	copy(sorted, spanHashes)
	sort.Strings(sorted)

	h := sha256.New()
	for _, sh := range sorted {
		h.Write([]byte(sh))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpan(row *sql.Row) (*splitter.Span, error) {
	sp, err := scanSpanRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sp, err
}

func scanSpanRows(r rowScanner) (*splitter.Span, error) {
	sp := &splitter.Span{}
	var kind, imports string
	if err := r.Scan(&sp.SpanHash, &sp.FilePath, &sp.Symbol, &kind,
		&sp.StartLine, &sp.EndLine, &sp.Text, &imports); err != nil {
		return nil, err
	}
	sp.Kind = splitter.SpanKind(kind)
	if err := json.Unmarshal([]byte(imports), &sp.Imports); err != nil {
		return nil, err
	}
	return sp, nil
}
