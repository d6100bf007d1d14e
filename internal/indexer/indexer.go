// Package indexer walks the working tree and keeps the catalog in sync
// with it. Files are diffed by content hash so unchanged files cost one
// stat and one hash; changed files are re-split and their spans replaced
// transactionally.
package indexer

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/ignore"
	"github.com/llmc-dev/llmc/internal/splitter"
)

// IndexStats summarizes one indexing run.
type IndexStats struct {
	Files          int           `json:"files"`
	FilesSkipped   int           `json:"files_skipped"`
	SpansAdded     int           `json:"spans_added"`
	SpansUnchanged int           `json:"spans_unchanged"`
	SpansRemoved   int           `json:"spans_removed"`
	Duration       time.Duration `json:"duration_ms"`
	// Errors holds per-file failures. One bad file never halts the run.
	Errors []FileError `json:"errors,omitempty"`
}

// FileError records an isolated per-file failure.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Indexer synchronizes a repo's working tree into the catalog.
type Indexer struct {
	root    string
	cfg     *config.Config
	store   *catalog.Store
	split   *splitter.FileSplitter
	matcher *ignore.Matcher
	retry   llmcerrors.RetryConfig
	log     *slog.Logger
}

// New builds an Indexer for a repo root. Ignore rules are loaded once;
// callers re-create the Indexer to pick up ignore-file edits.
func New(root string, cfg *config.Config, store *catalog.Store, log *slog.Logger) (*Indexer, error) {
	matcher, err := ignore.ForRepo(root, cfg.Indexer.IgnoreGlobs)
	if err != nil {
		return nil, err
	}
	return &Indexer{
		root:    root,
		cfg:     cfg,
		store:   store,
		split:   splitter.New(),
		matcher: matcher,
		retry:   llmcerrors.DefaultRetryConfig(),
		log:     log,
	}, nil
}

// Close releases the splitter's parser resources.
func (ix *Indexer) Close() {
	ix.split.Close()
}

// IndexAll walks the whole tree, ingests changed files, and prunes files
// that disappeared from disk. The status file is set to fresh only when no
// fatal error occurred.
func (ix *Indexer) IndexAll(ctx context.Context) (*IndexStats, error) {
	paths, err := ix.walk(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := ix.ingest(ctx, paths, true)
	if err != nil {
		ix.markStatus(StateFailed, "")
		return stats, err
	}
	ix.markStatus(StateFresh, ix.headCommit(ctx))
	return stats, nil
}

// IndexPaths reindexes an explicit path list (incremental sync). Paths
// that vanished from disk are pruned from the catalog.
func (ix *Indexer) IndexPaths(ctx context.Context, paths []string) (*IndexStats, error) {
	rel := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := ix.relPath(p)
		if err != nil {
			return nil, err
		}
		if ix.matcher.Match(r, false) {
			continue
		}
		rel = append(rel, r)
	}
	stats, err := ix.ingest(ctx, rel, false)
	if err != nil {
		ix.markStatus(StateStale, "")
		return stats, err
	}
	ix.markStatus(StateFresh, ix.headCommit(ctx))
	return stats, nil
}

// IndexSince reindexes files changed since a commit, per git. The git
// invocation is argument-vector only.
func (ix *Indexer) IndexSince(ctx context.Context, commit string) (*IndexStats, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", ix.root,
		"diff", "--name-only", "-z", commit, "HEAD").Output()
	if err != nil {
		return nil, llmcerrors.New(llmcerrors.CodePathInvalid,
			"git diff failed for commit "+commit, err)
	}

	var paths []string
	for _, p := range strings.Split(string(out), "\x00") {
		if p != "" {
			paths = append(paths, filepath.Join(ix.root, p))
		}
	}
	return ix.IndexPaths(ctx, paths)
}

type fileResult struct {
	relPath string
	record  *catalog.FileRecord
	spans   []*splitter.Span
	skipped bool
	err     error
}

// ingest processes candidate paths with parallel split workers and a
// single catalog writer. When prune is true, catalog files absent from
// the candidate set and from disk are deleted after all upserts, so
// renamed spans claim their hash before the old path is pruned.
func (ix *Indexer) ingest(ctx context.Context, relPaths []string, prune bool) (*IndexStats, error) {
	start := time.Now()
	stats := &IndexStats{}

	workers := ix.cfg.Daemon.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	jobs := make(chan string)
	results := make(chan *fileResult, workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pipeline errgroup.Group
	pipeline.Go(func() error {
		defer close(jobs)
		for _, p := range relPaths {
			select {
			case jobs <- p:
			case <-runCtx.Done():
				return nil
			}
		}
		return nil
	})
	pipeline.Go(func() error {
		var wg errgroup.Group
		wg.SetLimit(workers)
		for p := range jobs {
			p := p
			wg.Go(func() error {
				select {
				case results <- ix.processFile(runCtx, p):
				case <-runCtx.Done():
				}
				return nil
			})
		}
		_ = wg.Wait()
		close(results)
		return nil
	})

	// The consumer is the single catalog writer. On a store error it
	// cancels the feeder and workers but keeps draining results, so no
	// worker stays blocked on the buffer and Wait always returns.
	var applyErr error
	for res := range results {
		if applyErr != nil {
			continue
		}
		if err := ix.applyResult(ctx, res, stats); err != nil {
			applyErr = err
			cancel()
		}
	}
	_ = pipeline.Wait()

	if ctx.Err() != nil {
		return stats, llmcerrors.Cancelled("index")
	}
	if applyErr != nil {
		return stats, applyErr
	}

	if prune {
		if err := ix.pruneMissing(ctx, stats); err != nil {
			return stats, err
		}
	}

	stats.Duration = time.Since(start)
	ix.log.Info("index run complete",
		slog.Int("files", stats.Files),
		slog.Int("spans_added", stats.SpansAdded),
		slog.Int("spans_removed", stats.SpansRemoved),
		slog.Int("errors", len(stats.Errors)),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// applyResult commits one file's spans, accounting hash-set deltas.
func (ix *Indexer) applyResult(ctx context.Context, res *fileResult, stats *IndexStats) error {
	if res.err != nil {
		ix.log.Warn("file skipped after error",
			slog.String("path", res.relPath), slog.String("error", res.err.Error()))
		stats.Errors = append(stats.Errors, FileError{Path: res.relPath, Error: res.err.Error()})
		return nil
	}
	if res.skipped {
		stats.FilesSkipped++
		return nil
	}

	before, err := ix.store.SpansByFile(ctx, res.relPath)
	if err != nil {
		return err
	}
	old := make(map[string]bool, len(before))
	for _, sp := range before {
		old[sp.SpanHash] = true
	}

	// Writer contention (DbBusy) is transient; back off within the
	// bounded budget before giving up on the run.
	if err := llmcerrors.Retry(ctx, ix.retry, func() error {
		return ix.store.UpsertFile(ctx, res.record)
	}); err != nil {
		return err
	}
	if err := llmcerrors.Retry(ctx, ix.retry, func() error {
		return ix.store.ReplaceSpans(ctx, res.relPath, res.spans)
	}); err != nil {
		return err
	}

	kept := 0
	for _, sp := range res.spans {
		if old[sp.SpanHash] {
			kept++
		} else {
			stats.SpansAdded++
		}
	}
	stats.SpansUnchanged += kept
	stats.SpansRemoved += len(before) - kept
	stats.Files++

	if ix.cfg.Indexer.Sidecar {
		ix.writeSidecar(res.relPath, res.spans)
	}
	return nil
}

// processFile reads, hashes, and splits one file. It never touches the DB
// writer so workers can run in parallel; the unchanged check uses a read
// connection.
func (ix *Indexer) processFile(ctx context.Context, relPath string) *fileResult {
	res := &fileResult{relPath: relPath}
	abs := filepath.Join(ix.root, relPath)

	info, err := os.Stat(abs)
	if err != nil {
		res.err = err
		return res
	}
	if info.Size() > ix.cfg.Indexer.MaxFileSize {
		res.err = llmcerrors.Newf(llmcerrors.CodeFileTooLarge,
			"file exceeds size cap (%d > %d bytes)", info.Size(), ix.cfg.Indexer.MaxFileSize)
		return res
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		res.err = err
		return res
	}
	if isBinary(data) {
		res.skipped = true
		return res
	}

	hash := splitter.HashBytes(data)
	prev, err := ix.store.GetFileHash(ctx, relPath)
	if err != nil {
		res.err = err
		return res
	}
	if prev == hash {
		res.skipped = true
		return res
	}

	lang := ix.split.DetectLanguage(relPath)
	spans, err := ix.split.Split(ctx, &splitter.FileInput{
		Path:     relPath,
		Language: lang,
		Content:  data,
	})
	if err != nil {
		res.err = err
		return res
	}

	res.record = &catalog.FileRecord{
		Path:        relPath,
		Language:    lang,
		ContentHash: hash,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}
	res.spans = spans
	return res
}

// pruneMissing deletes catalog files that no longer exist on disk or are
// now ignored. Runs after all upserts so renamed spans survive.
func (ix *Indexer) pruneMissing(ctx context.Context, stats *IndexStats) error {
	known, err := ix.store.ListFiles(ctx)
	if err != nil {
		return err
	}
	for _, f := range known {
		if _, err := os.Stat(filepath.Join(ix.root, f.Path)); err == nil {
			if !ix.matcher.Match(f.Path, false) {
				continue
			}
		}
		spans, err := ix.store.SpansByFile(ctx, f.Path)
		if err != nil {
			return err
		}
		if err := ix.store.DeleteFile(ctx, f.Path); err != nil {
			return err
		}
		stats.SpansRemoved += len(spans)
	}
	return nil
}

// walk collects candidate repo-relative paths honoring ignore rules.
func (ix *Indexer) walk(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(ix.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if ix.matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ix.matcher.Match(rel, false) {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, llmcerrors.Cancelled("index walk")
		}
		return nil, err
	}
	return paths, nil
}

func (ix *Indexer) relPath(p string) (string, error) {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(ix.root, p)
	}
	rel, err := filepath.Rel(ix.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", llmcerrors.Newf(llmcerrors.CodePathTraversal,
			"path %s is outside the repo root", p)
	}
	return filepath.ToSlash(rel), nil
}

// markStatus updates the persisted freshness record; failures to write it
// are logged, not fatal, since the stale default is safe.
func (ix *Indexer) markStatus(state, commit string) {
	st := &IndexStatus{
		IndexState:        state,
		LastIndexedAt:     time.Now().UTC(),
		LastIndexedCommit: commit,
	}
	if err := SaveStatus(ix.root, st); err != nil {
		ix.log.Warn("cannot persist index status", slog.String("error", err.Error()))
	}
}

// headCommit returns the current HEAD SHA, or "" outside a git repo.
func (ix *Indexer) headCommit(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "git", "-C", ix.root,
		"rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// writeSidecar emits a span outline next to the state directory. Best
// effort only.
func (ix *Indexer) writeSidecar(relPath string, spans []*splitter.Span) {
	var b strings.Builder
	b.WriteString("# " + relPath + "\n\n")
	for _, sp := range spans {
		if sp.Symbol == "" {
			continue
		}
		b.WriteString("- `" + sp.Symbol + "` (" + string(sp.Kind) + ")\n")
	}
	out := filepath.Join(ix.root, config.StateDirName, "sidecar", relPath+".md")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(out, []byte(b.String()), 0o644)
}

// isBinary uses the null-byte heuristic on the first 8 KiB.
func isBinary(data []byte) bool {
	n := len(data)
	if n > 8192 {
		n = 8192
	}
	return bytes.IndexByte(data[:n], 0) >= 0
}
