package catalog

import (
	"fmt"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// SchemaVersion is the catalog schema version this build targets.
// Migrations are gated on PRAGMA user_version: if the stored version is at
// or past the target, no ALTER runs; otherwise pending migrations run in
// order, each inside its own transaction.
const SchemaVersion = 2

type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE files (
				path         TEXT PRIMARY KEY,
				language     TEXT NOT NULL DEFAULT '',
				content_hash TEXT NOT NULL,
				size         INTEGER NOT NULL DEFAULT 0,
				mtime        INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE spans (
				span_hash  TEXT PRIMARY KEY,
				file_path  TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
				symbol     TEXT NOT NULL DEFAULT '',
				kind       TEXT NOT NULL,
				start_line INTEGER NOT NULL,
				end_line   INTEGER NOT NULL,
				text       TEXT NOT NULL,
				imports    TEXT NOT NULL DEFAULT '[]',
				created_at INTEGER NOT NULL,
				last_enrich_attempt INTEGER NOT NULL DEFAULT 0,
				enrich_failures     INTEGER NOT NULL DEFAULT 0,
				CHECK (start_line <= end_line)
			)`,
			`CREATE INDEX idx_spans_file ON spans(file_path)`,
			`CREATE TABLE enrichments (
				span_hash         TEXT PRIMARY KEY REFERENCES spans(span_hash) ON DELETE CASCADE,
				summary           TEXT NOT NULL,
				key_topics        TEXT NOT NULL DEFAULT '[]',
				complexity        TEXT NOT NULL DEFAULT 'unknown',
				model             TEXT NOT NULL DEFAULT '',
				backend_host      TEXT NOT NULL DEFAULT '',
				tokens_per_second REAL NOT NULL DEFAULT 0,
				attempts_log      TEXT NOT NULL DEFAULT '[]',
				quality           TEXT NOT NULL DEFAULT 'real',
				created_at        INTEGER NOT NULL
			)`,
			`CREATE TABLE embeddings (
				span_hash  TEXT NOT NULL REFERENCES spans(span_hash) ON DELETE CASCADE,
				profile_id TEXT NOT NULL,
				dim        INTEGER NOT NULL,
				vector     BLOB NOT NULL,
				model      TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (span_hash, profile_id)
			)`,
			`CREATE VIRTUAL TABLE span_fts USING fts5(
				span_hash UNINDEXED,
				symbol,
				body,
				tokenize='unicode61'
			)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE INDEX idx_spans_pending ON spans(last_enrich_attempt)`,
		},
	},
}

// migrate applies pending migrations and bumps user_version monotonically.
func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return llmcerrors.Integrity("cannot read schema version", err)
	}
	if current > SchemaVersion {
		return llmcerrors.Newf(llmcerrors.CodeSchemaVersion,
			"catalog schema version %d is newer than supported %d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return llmcerrors.Integrity(
				fmt.Sprintf("migration to version %d failed", m.version), err)
		}
	}
	return nil
}

func (s *Store) applyMigration(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", stmt[:min(len(stmt), 40)], err)
		}
	}
	// user_version cannot be parameterized.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
