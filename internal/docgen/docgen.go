package docgen

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/maasl"
)

// Statuses for one docgen run.
const (
	StatusNoop        = "noop"
	StatusGenerated   = "generated"
	StatusSkippedBusy = "skipped_busy"
	StatusFailed      = "failed"
)

const headerPrefix = "SOURCE_HASH: "

// Result reports one (source, doc) pair.
type Result struct {
	Status     string `json:"status"`
	SourcePath string `json:"source_path"`
	DocPath    string `json:"doc_path"`
	SourceHash string `json:"source_hash,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Coordinator generates docs idempotently under the repo docgen lease.
type Coordinator struct {
	root string
	cfg  *config.DocgenConfig
	gen  Generator
	log  *slog.Logger
}

// NewCoordinator wires the coordinator with a pre-built generator so
// tests can substitute one.
func NewCoordinator(root string, cfg *config.DocgenConfig, gen Generator, log *slog.Logger) *Coordinator {
	return &Coordinator{root: root, cfg: cfg, gen: gen, log: log}
}

// HeaderLine formats the doc header for a source hash.
func HeaderLine(sourceHash string) string {
	return headerPrefix + sourceHash
}

// SourceHash hashes source bytes in header format.
func SourceHash(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// DocPath maps a source path to its doc location.
func (c *Coordinator) DocPath(sourceRel string) string {
	return filepath.Join(c.cfg.OutputDir, sourceRel+".md")
}

// Generate brings the doc for one source file up to date. An unchanged
// source is a no-op that never touches the generator. A held repo lease
// yields skipped_busy rather than blocking the caller.
func (c *Coordinator) Generate(ctx context.Context, sourceRel string) *Result {
	res := &Result{Status: StatusFailed, SourcePath: sourceRel, DocPath: c.DocPath(sourceRel)}

	clean := filepath.Clean(sourceRel)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		res.Error = llmcerrors.Newf(llmcerrors.CodePathTraversal,
			"doc source %s escapes repo root", sourceRel).Error()
		return res
	}

	sourceAbs := filepath.Join(c.root, clean)
	info, err := os.Stat(sourceAbs)
	if err != nil {
		res.Error = llmcerrors.Path("doc source missing", clean).Error()
		return res
	}
	if info.Size() > c.cfg.SizeCap {
		res.Error = llmcerrors.Newf(llmcerrors.CodeFileTooLarge,
			"doc source %s is %d bytes, cap %d", clean, info.Size(), c.cfg.SizeCap).Error()
		return res
	}

	content, err := os.ReadFile(sourceAbs)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.SourceHash = SourceHash(content)

	if existing := c.docHeaderHash(res.DocPath); existing == res.SourceHash {
		res.Status = StatusNoop
		return res
	}

	lease, err := maasl.AcquireProcessLease(ctx,
		maasl.DocgenLeasePath(c.root), "docgen:"+clean, maasl.ClassIdempDocs)
	if err != nil {
		if llmcerrors.CodeOf(err) == llmcerrors.CodeResourceBusy {
			res.Status = StatusSkippedBusy
			res.Error = err.Error()
			return res
		}
		res.Error = err.Error()
		return res
	}
	defer func() {
		if err := lease.Release(); err != nil {
			c.log.Warn("cannot release docgen lease", slog.String("error", err.Error()))
		}
	}()

	// Re-check under the lease: another agent may have generated while we
	// waited for it.
	if existing := c.docHeaderHash(res.DocPath); existing == res.SourceHash {
		res.Status = StatusNoop
		return res
	}

	doc, err := c.gen.GenerateDoc(ctx, &Request{
		SourcePath: clean, SourceHash: res.SourceHash, Content: content,
	})
	if err != nil {
		res.Error = err.Error()
		c.log.Warn("doc generation failed",
			slog.String("source", clean),
			slog.String("backend", c.gen.Name()),
			slog.String("error", err.Error()))
		return res
	}

	if got := firstLine(doc); got != HeaderLine(res.SourceHash) {
		res.Error = llmcerrors.Newf(llmcerrors.CodeDocHashMismatch,
			"generated doc header %q does not match source hash %s", got, res.SourceHash).Error()
		return res
	}

	docAbs := filepath.Join(c.root, res.DocPath)
	if err := os.MkdirAll(filepath.Dir(docAbs), 0o755); err != nil {
		res.Error = err.Error()
		return res
	}
	if err := renameio.WriteFile(docAbs, []byte(doc), 0o644); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Status = StatusGenerated
	res.Error = ""
	c.log.Info("doc generated",
		slog.String("source", clean),
		slog.String("doc", res.DocPath))
	return res
}

// GenerateAll runs Generate over a set of sources, continuing past
// per-file failures.
func (c *Coordinator) GenerateAll(ctx context.Context, sources []string) ([]*Result, error) {
	results := make([]*Result, 0, len(sources))
	for _, src := range sources {
		if ctx.Err() != nil {
			return results, llmcerrors.Cancelled("doc generation")
		}
		results = append(results, c.Generate(ctx, src))
	}
	return results, nil
}

// docHeaderHash reads the doc's first-line hash, or "" when absent.
func (c *Coordinator) docHeaderHash(docRel string) string {
	f, err := os.Open(filepath.Join(c.root, docRel))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return ""
	}
	line := scanner.Text()
	if !strings.HasPrefix(line, headerPrefix) {
		return ""
	}
	return strings.TrimPrefix(line, headerPrefix)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
