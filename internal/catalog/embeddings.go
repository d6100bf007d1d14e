package catalog

import (
	"context"
	"database/sql"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/splitter"
)

// PendingEmbeddings returns spans lacking a vector for the given profile.
func (s *Store) PendingEmbeddings(ctx context.Context, profileID string, limit int) ([]*splitter.Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sp.span_hash, sp.file_path, sp.symbol, sp.kind, sp.start_line,
		       sp.end_line, sp.text, sp.imports
		FROM spans sp
		LEFT JOIN embeddings em
			ON em.span_hash = sp.span_hash AND em.profile_id = ?
		WHERE em.span_hash IS NULL
		ORDER BY sp.file_path, sp.start_line
		LIMIT ?`, profileID, limit)
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

// WriteEmbedding stores a packed little-endian f32 vector for
// (span_hash, profile). The vector byte length must equal dim*4.
func (s *Store) WriteEmbedding(ctx context.Context, e *Embedding) error {
	if len(e.Vector) != e.Dim*4 {
		return llmcerrors.Newf(llmcerrors.CodeIntegrity,
			"embedding vector length %d does not match dim %d", len(e.Vector), e.Dim)
	}
	return s.withWriter(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO embeddings (span_hash, profile_id, dim, vector, model)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(span_hash, profile_id) DO UPDATE SET
				dim = excluded.dim,
				vector = excluded.vector,
				model = excluded.model`,
			e.SpanHash, e.ProfileID, e.Dim, e.Vector, e.Model)
		return err
	})
}

// GetEmbedding loads the stored vector for (span_hash, profile), or nil.
func (s *Store) GetEmbedding(ctx context.Context, spanHash, profileID string) (*Embedding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT span_hash, profile_id, dim, vector, model
		FROM embeddings WHERE span_hash = ? AND profile_id = ?`, spanHash, profileID)

	e := &Embedding{}
	err := row.Scan(&e.SpanHash, &e.ProfileID, &e.Dim, &e.Vector, &e.Model)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// AllEmbeddings streams vectors for one profile (HNSW rebuilds).
func (s *Store) AllEmbeddings(ctx context.Context, profileID string) ([]*Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_hash, profile_id, dim, vector, model
		FROM embeddings WHERE profile_id = ?`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Embedding
	for rows.Next() {
		e := &Embedding{}
		if err := rows.Scan(&e.SpanHash, &e.ProfileID, &e.Dim, &e.Vector, &e.Model); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
