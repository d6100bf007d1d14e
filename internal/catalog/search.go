package catalog

import (
	"context"
	"fmt"
	"strings"
)

// SearchLexical runs an FTS5 query over symbols and bodies with separate
// column weights. Scores are returned negated so higher is better
// (SQLite's bm25() is lower-is-better).
func (s *Store) SearchLexical(ctx context.Context, query string, limit int, symbolWeight, bodyWeight float64) ([]*LexicalResult, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return []*LexicalResult{}, nil
	}
	if symbolWeight <= 0 {
		symbolWeight = 4.0
	}
	if bodyWeight <= 0 {
		bodyWeight = 1.0
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT f.span_hash, sp.file_path, sp.symbol,
		       -bm25(span_fts, 0, %f, %f) AS score,
		       -bm25(span_fts, 0, 1.0, 0.0) AS symbol_score,
		       -bm25(span_fts, 0, 0.0, 1.0) AS body_score
		FROM span_fts f
		JOIN spans sp ON sp.span_hash = f.span_hash
		WHERE span_fts MATCH ?
		ORDER BY score DESC
		LIMIT ?`, symbolWeight, bodyWeight), ftsQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		r := &LexicalResult{}
		if err := rows.Scan(&r.SpanHash, &r.FilePath, &r.Symbol,
			&r.Score, &r.SymbolScore, &r.BodyScore); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// buildFTSQuery converts a free-form query into an OR of quoted terms so
// FTS5 operators in user input cannot break the statement.
func buildFTSQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		cleaned := strings.Map(func(r rune) rune {
			if r == '"' || r == '\'' {
				return -1
			}
			return r
		}, f)
		if cleaned == "" {
			continue
		}
		terms = append(terms, `"`+cleaned+`"`)
	}
	return strings.Join(terms, " OR ")
}
