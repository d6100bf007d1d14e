package service

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// JobKind names one background job type.
type JobKind string

const (
	JobIndex      JobKind = "INDEX"
	JobEnrich     JobKind = "ENRICH"
	JobEmbed      JobKind = "EMBED"
	JobGraphBuild JobKind = "GRAPH_BUILD"
	JobDocgen     JobKind = "DOCGEN"
)

// Job is one unit of scheduled work.
type Job struct {
	Repo string
	Kind JobKind
	// Paths limits incremental jobs to changed files; empty means full.
	Paths []string
}

// Runner executes one job kind. Runners receive the job context, which is
// cancelled on daemon stop and on repo unregister.
type Runner func(ctx context.Context, job Job) error

// followups maps each job to the jobs it unlocks. An INDEX commit must
// land before dependent enrichment or graph work is scheduled.
var followups = map[JobKind][]JobKind{
	JobIndex:      {JobEnrich, JobEmbed, JobGraphBuild},
	JobEnrich:     {},
	JobEmbed:      {},
	JobGraphBuild: {JobDocgen},
}

// Scheduler owns the job queue and the bounded worker pool. Wakeups are
// event driven: the run loop blocks on the queue signal or the
// housekeeping tick, so an idle daemon burns no CPU.
type Scheduler struct {
	runners map[JobKind]Runner
	workers *semaphore.Weighted
	log     *slog.Logger

	mu     sync.Mutex
	queue  []Job
	queued map[string]map[JobKind]bool
	// repoBusy serializes writer jobs per repo.
	repoBusy map[string]bool
	cancels  map[string]context.CancelFunc

	wake chan struct{}
	wg   sync.WaitGroup

	onDone func(job Job, err error)
}

// NewScheduler builds a scheduler with the given per-kind runners.
func NewScheduler(runners map[JobKind]Runner, workers int, log *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Scheduler{
		runners:  runners,
		workers:  semaphore.NewWeighted(int64(workers)),
		log:      log,
		queued:   make(map[string]map[JobKind]bool),
		repoBusy: make(map[string]bool),
		cancels:  make(map[string]context.CancelFunc),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue adds a job unless the same (repo, kind) is already waiting.
func (s *Scheduler) Enqueue(job Job) {
	s.mu.Lock()
	kinds, ok := s.queued[job.Repo]
	if !ok {
		kinds = make(map[JobKind]bool)
		s.queued[job.Repo] = kinds
	}
	if kinds[job.Kind] {
		// Merge paths into the waiting job instead of queueing twice.
		for i := range s.queue {
			if s.queue[i].Repo == job.Repo && s.queue[i].Kind == job.Kind {
				if len(job.Paths) == 0 {
					s.queue[i].Paths = nil
				} else if s.queue[i].Paths != nil {
					s.queue[i].Paths = append(s.queue[i].Paths, job.Paths...)
				}
				break
			}
		}
		s.mu.Unlock()
		return
	}
	kinds[job.Kind] = true
	s.queue = append(s.queue, job)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// CancelRepo aborts the repo's running job and drops its queued jobs.
func (s *Scheduler) CancelRepo(repo string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[repo]; ok {
		cancel()
	}
	filtered := s.queue[:0]
	for _, j := range s.queue {
		if j.Repo != repo {
			filtered = append(filtered, j)
		}
	}
	s.queue = filtered
	delete(s.queued, repo)
}

// Run dispatches until ctx is cancelled, then waits for in-flight jobs.
func (s *Scheduler) Run(ctx context.Context, housekeeping time.Duration, sweep func()) error {
	if housekeeping <= 0 {
		housekeeping = 5 * time.Minute
	}
	ticker := time.NewTicker(housekeeping)
	defer ticker.Stop()

	for {
		s.dispatch(ctx)
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-s.wake:
		case <-ticker.C:
			if sweep != nil {
				sweep()
			}
		}
	}
}

// dispatch starts every queued job whose repo is free, bounded by the
// worker pool.
func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		job, ok := s.takeRunnable()
		if !ok {
			return
		}
		if err := s.workers.Acquire(ctx, 1); err != nil {
			s.requeue(job)
			return
		}

		jobCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancels[job.Repo] = cancel
		s.mu.Unlock()

		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			defer s.workers.Release(1)
			defer cancel()
			s.runJob(jobCtx, job)
		}(job)
	}
}

func (s *Scheduler) takeRunnable() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.queue {
		if s.repoBusy[job.Repo] {
			continue
		}
		s.repoBusy[job.Repo] = true
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		delete(s.queued[job.Repo], job.Kind)
		return job, true
	}
	return Job{}, false
}

func (s *Scheduler) requeue(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append([]Job{job}, s.queue...)
	s.queued[job.Repo][job.Kind] = true
	s.repoBusy[job.Repo] = false
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	runner, ok := s.runners[job.Kind]
	start := time.Now()
	var err error
	if !ok {
		err = llmcerrors.Newf(llmcerrors.CodeConfigInvalid, "no runner for job kind %s", job.Kind)
	} else {
		err = runner(ctx, job)
	}

	s.mu.Lock()
	s.repoBusy[job.Repo] = false
	delete(s.cancels, job.Repo)
	s.mu.Unlock()

	if err != nil {
		if llmcerrors.KindOf(err) == llmcerrors.KindCancelled {
			s.log.Info("job cancelled",
				slog.String("repo", job.Repo), slog.String("kind", string(job.Kind)))
		} else {
			s.log.Warn("job failed",
				slog.String("repo", job.Repo),
				slog.String("kind", string(job.Kind)),
				slog.String("error", err.Error()))
		}
	} else {
		s.log.Info("job complete",
			slog.String("repo", job.Repo),
			slog.String("kind", string(job.Kind)),
			slog.Duration("duration", time.Since(start)))
		for _, next := range followups[job.Kind] {
			if _, hasRunner := s.runners[next]; hasRunner {
				s.Enqueue(Job{Repo: job.Repo, Kind: next})
			}
		}
	}

	if s.onDone != nil {
		s.onDone(job, err)
	}

	// A freed repo may unblock another queued job.
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
