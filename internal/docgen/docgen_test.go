package docgen

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/maasl"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingGenerator emits a well-formed doc and counts invocations.
type countingGenerator struct {
	calls int
	// badHeader makes the generator return a stale hash line.
	badHeader bool
}

func (g *countingGenerator) Name() string { return "counting" }

func (g *countingGenerator) GenerateDoc(_ context.Context, req *Request) (string, error) {
	g.calls++
	header := HeaderLine(req.SourceHash)
	if g.badHeader {
		header = HeaderLine("sha256:0000")
	}
	return header + "\n\n# " + req.SourcePath + "\n\nGenerated summary.\n", nil
}

func newCoordinator(t *testing.T, gen Generator) (*Coordinator, string) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.DocgenConfig{
		Enabled:   true,
		OutputDir: filepath.Join("DOCS", "REPODOCS"),
		SizeCap:   10 << 20,
	}
	return NewCoordinator(root, cfg, gen, discard()), root
}

func writeSource(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestGenerateThenNoop(t *testing.T) {
	gen := &countingGenerator{}
	c, root := newCoordinator(t, gen)
	writeSource(t, root, "pkg/util.py", "def util(): pass\n")
	ctx := context.Background()

	res := c.Generate(ctx, "pkg/util.py")
	require.Equal(t, StatusGenerated, res.Status, res.Error)
	assert.Equal(t, 1, gen.calls)

	doc, err := os.ReadFile(filepath.Join(root, res.DocPath))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(doc), "SOURCE_HASH: sha256:"),
		"line 1 carries the source hash")

	// Unchanged source: the doc stands and the generator is never called.
	res = c.Generate(ctx, "pkg/util.py")
	assert.Equal(t, StatusNoop, res.Status)
	assert.Equal(t, 1, gen.calls)
}

func TestChangedSourceRegenerates(t *testing.T) {
	gen := &countingGenerator{}
	c, root := newCoordinator(t, gen)
	writeSource(t, root, "a.py", "v1\n")
	ctx := context.Background()

	require.Equal(t, StatusGenerated, c.Generate(ctx, "a.py").Status)
	writeSource(t, root, "a.py", "v2\n")
	res := c.Generate(ctx, "a.py")
	assert.Equal(t, StatusGenerated, res.Status)
	assert.Equal(t, 2, gen.calls)

	doc, err := os.ReadFile(filepath.Join(root, res.DocPath))
	require.NoError(t, err)
	assert.Equal(t, HeaderLine(SourceHash([]byte("v2\n"))), strings.SplitN(string(doc), "\n", 2)[0])
}

func TestHeaderMismatchRejected(t *testing.T) {
	gen := &countingGenerator{badHeader: true}
	c, root := newCoordinator(t, gen)
	writeSource(t, root, "a.py", "content\n")

	res := c.Generate(context.Background(), "a.py")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, llmcerrors.CodeDocHashMismatch)

	_, err := os.Stat(filepath.Join(root, res.DocPath))
	assert.True(t, os.IsNotExist(err), "a rejected doc never lands on disk")
}

func TestTraversalAndSizeCapRejected(t *testing.T) {
	c, root := newCoordinator(t, &countingGenerator{})
	ctx := context.Background()

	res := c.Generate(ctx, "../outside.py")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, llmcerrors.CodePathTraversal)

	c.cfg.SizeCap = 4
	writeSource(t, root, "big.py", "more than four bytes\n")
	res = c.Generate(ctx, "big.py")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, llmcerrors.CodeFileTooLarge)
}

func TestBusyLeaseSkips(t *testing.T) {
	gen := &countingGenerator{}
	c, root := newCoordinator(t, gen)
	writeSource(t, root, "a.py", "content\n")

	lease, err := maasl.AcquireProcessLease(context.Background(),
		maasl.DocgenLeasePath(root), "other-daemon", maasl.ClassIdempDocs)
	require.NoError(t, err)
	defer func() { require.NoError(t, lease.Release()) }()

	res := c.Generate(context.Background(), "a.py")
	assert.Equal(t, StatusSkippedBusy, res.Status)
	assert.Zero(t, gen.calls)
}

func TestScriptBackendRequiresAllowlist(t *testing.T) {
	_, err := NewGenerator(&config.DocgenConfig{Backend: "scripts/gen_doc.py"})
	require.Error(t, err)
	assert.Equal(t, llmcerrors.CodeConfigInvalid, llmcerrors.CodeOf(err))

	g, err := NewGenerator(&config.DocgenConfig{
		Backend:         "scripts/gen_doc.py",
		ScriptAllowlist: []string{"scripts/gen_doc.py"},
	})
	require.NoError(t, err)
	assert.Equal(t, "scripts/gen_doc.py", g.Name())
}
