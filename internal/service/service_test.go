package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryRegisterPersists(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "service.json")
	repo := t.TempDir()

	r, err := LoadRegistry(statePath)
	require.NoError(t, err)
	require.NoError(t, r.Register(repo))
	require.Error(t, r.Register(repo), "double registration rejected")

	r2, err := LoadRegistry(statePath)
	require.NoError(t, err)
	list := r2.List()
	require.Len(t, list, 1)
	assert.Equal(t, PhaseRegistered, list[0].Phase)
}

func TestRegistryStateMachine(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "service.json"))
	require.NoError(t, err)
	repo := t.TempDir()
	abs, _ := filepath.Abs(repo)
	require.NoError(t, r.Register(repo))

	require.NoError(t, r.Transition(abs, PhaseIndexing))
	require.NoError(t, r.Transition(abs, PhaseIdle))
	require.NoError(t, r.Transition(abs, PhaseEnriching))
	require.NoError(t, r.Transition(abs, PhaseIdle))

	require.Error(t, r.Transition(abs, PhaseRegistered),
		"no path back to REGISTERED without clear_failures")

	require.NoError(t, r.MarkFailed(abs, errors.New("backend down")))
	require.Error(t, r.Transition(abs, PhaseIndexing), "FAILED is terminal")

	require.NoError(t, r.ClearFailures(abs))
	st, ok := r.Get(abs)
	require.True(t, ok)
	assert.Equal(t, PhaseRegistered, st.Phase)
	assert.Zero(t, st.Failures)
}

func newTestScheduler(runners map[JobKind]Runner, workers int) *Scheduler {
	return NewScheduler(runners, workers, discard())
}

func TestSchedulerRunsJobAndFollowups(t *testing.T) {
	var mu sync.Mutex
	var order []JobKind
	record := func(kind JobKind) Runner {
		return func(ctx context.Context, job Job) error {
			mu.Lock()
			order = append(order, kind)
			mu.Unlock()
			return nil
		}
	}
	s := newTestScheduler(map[JobKind]Runner{
		JobIndex:      record(JobIndex),
		JobEnrich:     record(JobEnrich),
		JobEmbed:      record(JobEmbed),
		JobGraphBuild: record(JobGraphBuild),
		JobDocgen:     record(JobDocgen),
	}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = s.Run(ctx, time.Hour, nil); close(done) }()

	s.Enqueue(Job{Repo: "/repo", Kind: JobIndex})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, 5*time.Second, 10*time.Millisecond, "index triggers enrich, embed, graph, docgen")

	mu.Lock()
	assert.Equal(t, JobIndex, order[0], "the index commit precedes dependent jobs")
	mu.Unlock()

	cancel()
	<-done
}

func TestSchedulerSerializesPerRepo(t *testing.T) {
	var running int32
	var maxRunning int32
	runner := func(ctx context.Context, job Job) error {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxRunning)
			if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}
	var count int32
	s := newTestScheduler(map[JobKind]Runner{
		JobEnrich: func(ctx context.Context, job Job) error {
			defer atomic.AddInt32(&count, 1)
			return runner(ctx, job)
		},
		JobEmbed: func(ctx context.Context, job Job) error {
			defer atomic.AddInt32(&count, 1)
			return runner(ctx, job)
		},
	}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = s.Run(ctx, time.Hour, nil); close(done) }()

	s.Enqueue(Job{Repo: "/repo", Kind: JobEnrich})
	s.Enqueue(Job{Repo: "/repo", Kind: JobEmbed})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) == 2 },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning),
		"jobs for one repo never overlap")

	cancel()
	<-done
}

func TestSchedulerDedupesQueuedJobs(t *testing.T) {
	block := make(chan struct{})
	var calls int32
	s := newTestScheduler(map[JobKind]Runner{
		JobIndex: func(ctx context.Context, job Job) error {
			atomic.AddInt32(&calls, 1)
			<-block
			return nil
		},
	}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = s.Run(ctx, time.Hour, nil); close(done) }()

	s.Enqueue(Job{Repo: "/repo", Kind: JobIndex, Paths: []string{"a.py"}})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 },
		5*time.Second, 5*time.Millisecond)

	// While the first run is in flight, repeats coalesce into one job.
	s.Enqueue(Job{Repo: "/repo", Kind: JobIndex, Paths: []string{"b.py"}})
	s.Enqueue(Job{Repo: "/repo", Kind: JobIndex, Paths: []string{"c.py"}})
	close(block)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 },
		5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	cancel()
	<-done
}

func TestSchedulerCancelRepoUnwindsJob(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	s := newTestScheduler(map[JobKind]Runner{
		JobIndex: func(ctx context.Context, job Job) error {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return llmcerrors.Cancelled("index")
		},
	}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = s.Run(ctx, time.Hour, nil); close(done) }()

	s.Enqueue(Job{Repo: "/repo", Kind: JobIndex})
	<-started
	s.CancelRepo("/repo")

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("job context not cancelled")
	}

	cancel()
	<-done
}

func TestControlServerStatusAndStop(t *testing.T) {
	stateDir := t.TempDir()
	r, err := LoadRegistry(filepath.Join(stateDir, "service.json"))
	require.NoError(t, err)
	repo := t.TempDir()
	require.NoError(t, r.Register(repo))

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewControlServer(r, cancel, discard())
	sock := SocketPath(stateDir)

	serveDone := make(chan struct{})
	go func() { _ = srv.Serve(ctx, sock); close(serveDone) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := Call(sock, ControlRequest{Op: "status"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Len(t, resp.Repos, 1)
	assert.Equal(t, os.Getpid(), resp.PID)

	resp, err = Call(sock, ControlRequest{Op: "stop"})
	require.NoError(t, err)
	assert.True(t, resp.OK)

	select {
	case <-serveDone:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after stop")
	}
	_, err = os.Stat(sock)
	assert.True(t, os.IsNotExist(err), "socket removed on shutdown")
}
