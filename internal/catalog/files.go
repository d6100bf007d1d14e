package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertFile inserts or updates a file record. The content hash is always
// recomputed by the caller on ingest.
func (s *Store) UpsertFile(ctx context.Context, f *FileRecord) error {
	return s.withWriter(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO files (path, language, content_hash, size, mtime)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				language = excluded.language,
				content_hash = excluded.content_hash,
				size = excluded.size,
				mtime = excluded.mtime`,
			f.Path, f.Language, f.ContentHash, f.Size, f.ModTime.Unix())
		return err
	})
}

// GetFileHash returns the stored content hash for a path, or "" when the
// file is not tracked.
func (s *Store) GetFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT content_hash FROM files WHERE path = ?", path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// DeleteFile removes a file and its spans. Spans whose hash has been
// claimed by another file (rename carry-forward) are left untouched.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	return s.withWriter(ctx, func(tx *sql.Tx) error {
		if err := deleteSpansFTS(tx, path, nil); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM spans WHERE file_path = ?", path); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM files WHERE path = ?", path)
		return err
	})
}

// ListFiles returns all tracked files ordered by path.
func (s *Store) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, language, content_hash, size, mtime FROM files ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		f := &FileRecord{}
		var mtime int64
		if err := rows.Scan(&f.Path, &f.Language, &f.ContentHash, &f.Size, &mtime); err != nil {
			return nil, err
		}
		f.ModTime = time.Unix(mtime, 0)
		files = append(files, f)
	}
	return files, rows.Err()
}
