package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/llmc-dev/llmc/internal/splitter"
)

// PendingEnrichments returns spans with no real enrichment whose last
// attempt is older than cooldown, ordered by file and line. Spans carry
// their failure count so the router can pick sturdier chains.
func (s *Store) PendingEnrichments(ctx context.Context, limit int, cooldown time.Duration) ([]*PendingSpan, error) {
	cutoff := time.Now().Add(-cooldown).Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT sp.span_hash, sp.file_path, sp.symbol, sp.kind, sp.start_line,
		       sp.end_line, sp.text, sp.imports, sp.enrich_failures
		FROM spans sp
		LEFT JOIN enrichments e ON e.span_hash = sp.span_hash
		WHERE (e.span_hash IS NULL OR e.quality != 'real')
		  AND sp.last_enrich_attempt < ?
		ORDER BY sp.file_path, sp.start_line
		LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*PendingSpan
	for rows.Next() {
		p := &PendingSpan{}
		sp, failures, err := scanPendingSpan(rows)
		if err != nil {
			return nil, err
		}
		p.Span = sp
		p.PriorFailures = failures
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// CountPendingEnrichments counts spans still awaiting a real enrichment,
// ignoring cooldown.
func (s *Store) CountPendingEnrichments(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM spans sp
		LEFT JOIN enrichments e ON e.span_hash = sp.span_hash
		WHERE e.span_hash IS NULL OR e.quality != 'real'`).Scan(&n)
	return n, err
}

// WriteEnrichment persists the current enrichment for a span, replacing
// any previous one, and resets the failure counter on real quality.
func (s *Store) WriteEnrichment(ctx context.Context, e *Enrichment) error {
	topics, err := json.Marshal(e.KeyTopics)
	if err != nil {
		return err
	}
	attempts, err := json.Marshal(e.AttemptsLog)
	if err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	return s.withWriter(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO enrichments (span_hash, summary, key_topics, complexity, model,
				backend_host, tokens_per_second, attempts_log, quality, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(span_hash) DO UPDATE SET
				summary = excluded.summary,
				key_topics = excluded.key_topics,
				complexity = excluded.complexity,
				model = excluded.model,
				backend_host = excluded.backend_host,
				tokens_per_second = excluded.tokens_per_second,
				attempts_log = excluded.attempts_log,
				quality = excluded.quality,
				created_at = excluded.created_at`,
			e.SpanHash, e.Summary, string(topics), string(e.Complexity), e.Model,
			e.BackendHost, e.TokensPerSecond, string(attempts), string(e.Quality),
			e.CreatedAt.Unix())
		if err != nil {
			return err
		}
		if e.Quality == QualityReal {
			_, err = tx.Exec(
				"UPDATE spans SET enrich_failures = 0 WHERE span_hash = ?", e.SpanHash)
		}
		return err
	})
}

// GetEnrichment loads the current enrichment for a span, or nil.
func (s *Store) GetEnrichment(ctx context.Context, spanHash string) (*Enrichment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT span_hash, summary, key_topics, complexity, model, backend_host,
		       tokens_per_second, attempts_log, quality, created_at
		FROM enrichments WHERE span_hash = ?`, spanHash)

	e := &Enrichment{}
	var topics, attempts, complexity, quality string
	var created int64
	err := row.Scan(&e.SpanHash, &e.Summary, &topics, &complexity, &e.Model,
		&e.BackendHost, &e.TokensPerSecond, &attempts, &quality, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(topics), &e.KeyTopics); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attempts), &e.AttemptsLog); err != nil {
		return nil, err
	}
	e.Complexity = Complexity(complexity)
	e.Quality = Quality(quality)
	e.CreatedAt = time.Unix(created, 0)
	return e, nil
}

// MarkEnrichAttempt records an attempt timestamp and bumps the failure
// counter when the attempt failed. Every failed span increments exactly
// one counter so no failure is silent.
func (s *Store) MarkEnrichAttempt(ctx context.Context, spanHash string, failed bool) error {
	return s.withWriter(ctx, func(tx *sql.Tx) error {
		bump := 0
		if failed {
			bump = 1
		}
		_, err := tx.Exec(`
			UPDATE spans
			SET last_enrich_attempt = ?, enrich_failures = enrich_failures + ?
			WHERE span_hash = ?`,
			time.Now().Unix(), bump, spanHash)
		return err
	})
}

func scanPendingSpan(r rowScanner) (sp *splitter.Span, failures int, err error) {
	sp = &splitter.Span{}
	var kind, imports string
	if err = r.Scan(&sp.SpanHash, &sp.FilePath, &sp.Symbol, &kind,
		&sp.StartLine, &sp.EndLine, &sp.Text, &imports, &failures); err != nil {
		return nil, 0, err
	}
	sp.Kind = splitter.SpanKind(kind)
	if err = json.Unmarshal([]byte(imports), &sp.Imports); err != nil {
		return nil, 0, err
	}
	return sp, failures, nil
}
