package indexer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"

	"github.com/llmc-dev/llmc/internal/catalog"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// Index states persisted in rag_index_status.json.
const (
	StateFresh   = "fresh"
	StateStale   = "stale"
	StateFailed  = "failed"
	StateUnknown = "unknown"
)

// IndexStatus is the per-repo freshness record. The planner gates
// graph-sourced answers on it.
type IndexStatus struct {
	IndexState        string    `json:"index_state"`
	LastIndexedAt     time.Time `json:"last_indexed_at"`
	LastIndexedCommit string    `json:"last_indexed_commit,omitempty"`
	SchemaVersion     int       `json:"schema_version"`
}

// StatusPath returns the status file location for a repo root.
func StatusPath(root string) string {
	return filepath.Join(root, ".llmc", "rag_index_status.json")
}

// LoadStatus reads the status file. A missing file yields state "unknown"
// rather than an error; a corrupt file is a PathError.
func LoadStatus(root string) (*IndexStatus, error) {
	data, err := os.ReadFile(StatusPath(root))
	if os.IsNotExist(err) {
		return &IndexStatus{IndexState: StateUnknown}, nil
	}
	if err != nil {
		return nil, llmcerrors.New(llmcerrors.CodePathInvalid, "cannot read index status", err)
	}

	st := &IndexStatus{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, llmcerrors.New(llmcerrors.CodePathInvalid, "corrupt index status file", err)
	}
	return st, nil
}

// SaveStatus writes the status file atomically (temp file + rename), so a
// concurrent reader sees either the old or the new content, never a torn
// write.
func SaveStatus(root string, st *IndexStatus) error {
	st.SchemaVersion = catalog.SchemaVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	path := StatusPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return llmcerrors.New(llmcerrors.CodePathInvalid, "cannot create state directory", err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return llmcerrors.New(llmcerrors.CodePathInvalid, "cannot write index status", err)
	}
	return nil
}
