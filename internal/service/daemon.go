package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/llmc-dev/llmc/internal/catalog"
	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/docgen"
	"github.com/llmc-dev/llmc/internal/embed"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
	"github.com/llmc-dev/llmc/internal/graph"
	"github.com/llmc-dev/llmc/internal/ignore"
	"github.com/llmc-dev/llmc/internal/indexer"
	"github.com/llmc-dev/llmc/internal/maasl"
	"github.com/llmc-dev/llmc/internal/watcher"
)

// Enrich pipelines live in internal/enrich; the daemon only needs the
// batch entrypoint, injected so tests can run without an LLM backend.
type EnrichFunc func(ctx context.Context, repo *RepoHandle, limit int) error

const enrichBatchLimit = 32
const embedBatchLimit = 128

// RepoHandle bundles one registered repo's open resources.
type RepoHandle struct {
	Root    string
	Cfg     *config.Config
	Cat     *catalog.Store
	Graph   *graph.Store
	Locks   *maasl.Manager
	watcher watcher.Watcher
}

// Close releases the repo's stores.
func (h *RepoHandle) Close() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
	if h.Cat != nil {
		_ = h.Cat.Close()
	}
}

// Daemon supervises registered repos.
type Daemon struct {
	registry  *Registry
	scheduler *Scheduler
	enrich    EnrichFunc
	log       *slog.Logger

	handles map[string]*RepoHandle
}

// DefaultStateDir is the daemon's own state directory (not per-repo).
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".llmc")
}

// NewDaemon wires the daemon. enrich may be nil to disable enrichment.
func NewDaemon(registry *Registry, workers int, enrich EnrichFunc, log *slog.Logger) *Daemon {
	d := &Daemon{
		registry: registry,
		enrich:   enrich,
		log:      log,
		handles:  make(map[string]*RepoHandle),
	}
	d.scheduler = NewScheduler(map[JobKind]Runner{
		JobIndex:      d.runIndex,
		JobEnrich:     d.runEnrich,
		JobEmbed:      d.runEmbed,
		JobGraphBuild: d.runGraphBuild,
		JobDocgen:     d.runDocgen,
	}, workers, log)
	return d
}

// Run opens every registered repo, starts its watcher, and dispatches
// jobs until ctx is cancelled. On shutdown all repos transition through
// STOPPING and their resources close.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var housekeeping time.Duration
	for _, st := range d.registry.List() {
		if st.Phase == PhaseFailed {
			d.log.Warn("repo requires clear_failures, skipping",
				slog.String("repo", st.Root))
			continue
		}
		h, err := d.openRepo(st.Root)
		if err != nil {
			_ = d.registry.MarkFailed(st.Root, err)
			d.log.Warn("cannot open repo",
				slog.String("repo", st.Root), slog.String("error", err.Error()))
			continue
		}
		d.handles[st.Root] = h
		if hk := h.Cfg.Daemon.HousekeepingInterval; hk > housekeeping {
			housekeeping = hk
		}

		root := st.Root
		g.Go(func() error { return h.watcher.Start(ctx) })
		g.Go(func() error { d.pump(ctx, root, h); return nil })

		// Cold start: bring the index current before the watcher's first
		// batch arrives.
		d.scheduler.Enqueue(Job{Repo: root, Kind: JobIndex})
	}

	g.Go(func() error {
		return d.scheduler.Run(ctx, housekeeping, d.sweep)
	})

	err := g.Wait()
	for root, h := range d.handles {
		_ = d.registry.Transition(root, PhaseStopping)
		h.Close()
	}
	return err
}

// pump forwards watcher batches into incremental index jobs.
func (d *Daemon) pump(ctx context.Context, root string, h *RepoHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-h.watcher.Batches():
			if !ok {
				return
			}
			paths := make([]string, 0, len(batch))
			for _, ev := range batch {
				paths = append(paths, ev.Path)
			}
			d.scheduler.Enqueue(Job{Repo: root, Kind: JobIndex, Paths: paths})
		case err, ok := <-h.watcher.Errors():
			if !ok {
				return
			}
			d.log.Warn("watcher error",
				slog.String("repo", root), slog.String("error", err.Error()))
		}
	}
}

// sweep is the housekeeping pass: nudge enrichment on every idle repo so
// cooled-down spans get re-attempted even without tree changes.
func (d *Daemon) sweep() {
	for root := range d.handles {
		if st, ok := d.registry.Get(root); ok && st.Phase == PhaseIdle {
			d.scheduler.Enqueue(Job{Repo: root, Kind: JobEnrich})
		}
	}
}

// Unregister cancels a repo's jobs, closes it, and drops it.
func (d *Daemon) Unregister(root string) error {
	abs, _ := filepath.Abs(root)
	d.scheduler.CancelRepo(abs)
	if h, ok := d.handles[abs]; ok {
		h.Close()
		delete(d.handles, abs)
	}
	return d.registry.Unregister(abs)
}

func (d *Daemon) openRepo(root string) (*RepoHandle, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(filepath.Join(config.IndexDir(root), "index_v2.db"))
	if err != nil {
		return nil, err
	}
	matcher, err := ignore.ForRepo(root, cfg.Indexer.IgnoreGlobs)
	if err != nil {
		_ = cat.Close()
		return nil, err
	}
	w, err := watcher.New(root, &cfg.Daemon, matcher, d.log)
	if err != nil {
		_ = cat.Close()
		return nil, err
	}
	return &RepoHandle{
		Root:    root,
		Cfg:     cfg,
		Cat:     cat,
		Graph:   graph.NewStore(root),
		Locks:   maasl.NewManager(),
		watcher: w,
	}, nil
}

func (d *Daemon) handle(repo string) (*RepoHandle, error) {
	h, ok := d.handles[repo]
	if !ok {
		return nil, llmcerrors.Newf(llmcerrors.CodePathNotFound, "repo %s not open", repo)
	}
	return h, nil
}

func (d *Daemon) runIndex(ctx context.Context, job Job) error {
	h, err := d.handle(job.Repo)
	if err != nil {
		return err
	}
	if err := d.transitionForJob(job.Repo, PhaseIndexing); err != nil {
		return err
	}

	ix, err := indexer.New(h.Root, h.Cfg, h.Cat, d.log)
	if err != nil {
		return d.fail(job.Repo, err)
	}
	defer ix.Close()

	if len(job.Paths) > 0 {
		_, err = ix.IndexPaths(ctx, job.Paths)
	} else {
		_, err = ix.IndexAll(ctx)
	}
	if err != nil {
		return d.fail(job.Repo, err)
	}
	return d.registry.Transition(job.Repo, PhaseIdle)
}

func (d *Daemon) runEnrich(ctx context.Context, job Job) error {
	if d.enrich == nil {
		return nil
	}
	h, err := d.handle(job.Repo)
	if err != nil {
		return err
	}
	if err := d.transitionForJob(job.Repo, PhaseEnriching); err != nil {
		return err
	}
	if err := d.enrich(ctx, h, enrichBatchLimit); err != nil {
		if llmcerrors.KindOf(err) == llmcerrors.KindCancelled {
			return err
		}
		return d.fail(job.Repo, err)
	}
	return d.registry.Transition(job.Repo, PhaseIdle)
}

func (d *Daemon) runEmbed(ctx context.Context, job Job) error {
	h, err := d.handle(job.Repo)
	if err != nil {
		return err
	}
	providers, err := embed.Profiles(h.Cfg, d.log)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range providers {
			_ = p.Close()
		}
	}()

	for profileID, provider := range providers {
		pending, err := h.Cat.PendingEmbeddings(ctx, profileID, embedBatchLimit)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			continue
		}
		texts := make([]string, len(pending))
		for i, sp := range pending {
			texts[i] = sp.Text
		}
		vectors, err := provider.EmbedPassages(ctx, texts)
		if err != nil {
			return err
		}
		for i, sp := range pending {
			if err := h.Cat.WriteEmbedding(ctx, &catalog.Embedding{
				SpanHash:  sp.SpanHash,
				ProfileID: profileID,
				Dim:       provider.Dim(),
				Vector:    embed.EncodeVector(vectors[i]),
				Model:     provider.ModelName(),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Daemon) runGraphBuild(ctx context.Context, job Job) error {
	h, err := d.handle(job.Repo)
	if err != nil {
		return err
	}
	artifact, err := graph.Build(ctx, filepath.Base(h.Root), h.Cat,
		h.Cfg.Search.GraphPruneConfidence)
	if err != nil {
		return err
	}
	// Full rebuilds replace the artifact; the MERGE_META lease linearizes
	// them against agent patch merges.
	lease, err := h.Locks.Acquire(ctx, maasl.ClassMergeMeta,
		"graph:"+h.Graph.ArtifactPath(), "daemon")
	if err != nil {
		return err
	}
	defer h.Locks.Release(lease)
	return h.Graph.Write(artifact)
}

func (d *Daemon) runDocgen(ctx context.Context, job Job) error {
	h, err := d.handle(job.Repo)
	if err != nil {
		return err
	}
	if !h.Cfg.Docgen.Enabled {
		return nil
	}
	if h.Cfg.Docgen.RequireFresh {
		st, err := indexer.LoadStatus(h.Root)
		if err != nil || st.IndexState != indexer.StateFresh {
			d.log.Info("docgen deferred, index not fresh", slog.String("repo", job.Repo))
			return nil
		}
	}

	gen, err := docgen.NewGenerator(&h.Cfg.Docgen)
	if err != nil {
		return err
	}
	coord := docgen.NewCoordinator(h.Root, &h.Cfg.Docgen, gen, d.log)

	files, err := h.Cat.ListFiles(ctx)
	if err != nil {
		return err
	}
	sources := make([]string, 0, len(files))
	for _, f := range files {
		sources = append(sources, f.Path)
	}
	_, err = coord.GenerateAll(ctx, sources)
	return err
}

// transitionForJob tolerates already-correct phases so chained jobs do
// not fight the state machine.
func (d *Daemon) transitionForJob(repo, phase string) error {
	st, ok := d.registry.Get(repo)
	if !ok {
		return llmcerrors.Newf(llmcerrors.CodePathNotFound, "repo %s not registered", repo)
	}
	if st.Phase == phase {
		return nil
	}
	if st.Phase == PhaseFailed {
		return llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
			"repo %s is FAILED, run clear_failures first", repo)
	}
	return d.registry.Transition(repo, phase)
}

func (d *Daemon) fail(repo string, cause error) error {
	_ = d.registry.MarkFailed(repo, cause)
	return cause
}
