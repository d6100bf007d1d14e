package maasl

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// WriteFile writes a working-tree file under a CRIT_CODE lease. The data
// lands in a temp file first and only replaces the target after the fence
// check passes, so a loser never leaves a partial or stomped file behind.
func (m *Manager) WriteFile(ctx context.Context, repoRoot, relPath string, data []byte, holder string) error {
	clean := filepath.Clean(relPath)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return llmcerrors.Newf(llmcerrors.CodePathTraversal,
			"write target %s escapes repo root", relPath)
	}

	lease, err := m.Acquire(ctx, ClassCritCode, "code:"+clean, holder)
	if err != nil {
		return err
	}
	defer m.Release(lease)

	target := filepath.Join(repoRoot, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return llmcerrors.New(llmcerrors.CodePathInvalid, "cannot create parent directory", err)
	}

	t, err := renameio.TempFile("", target)
	if err != nil {
		return llmcerrors.New(llmcerrors.CodePathInvalid, "cannot stage write", err)
	}
	defer t.Cleanup()

	if _, err := t.Write(data); err != nil {
		return llmcerrors.New(llmcerrors.CodePathInvalid, "cannot write staged file", err)
	}
	if err := m.Check(lease); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
