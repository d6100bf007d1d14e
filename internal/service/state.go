// Package service runs the background daemon: a registry of repos, a
// per-repo watcher, and a scheduler that turns change batches into
// indexing, enrichment, embedding, graph, and docgen jobs.
package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// Repo lifecycle phases.
const (
	PhaseRegistered = "REGISTERED"
	PhaseIndexing   = "INDEXING"
	PhaseEnriching  = "ENRICHING"
	PhaseIdle       = "IDLE"
	PhaseStopping   = "STOPPING"
	PhaseFailed     = "FAILED"
)

// validNext encodes the repo state machine. FAILED is terminal until
// ClearFailures resets the repo.
var validNext = map[string][]string{
	PhaseRegistered: {PhaseIndexing, PhaseStopping},
	PhaseIndexing:   {PhaseEnriching, PhaseIdle, PhaseFailed, PhaseStopping},
	PhaseEnriching:  {PhaseIdle, PhaseIndexing, PhaseFailed, PhaseStopping},
	PhaseIdle:       {PhaseIndexing, PhaseEnriching, PhaseFailed, PhaseStopping},
	PhaseStopping:   {},
	PhaseFailed:     {},
}

// RepoStatus is one registered repo's persisted state.
type RepoStatus struct {
	Root         string    `json:"root"`
	Phase        string    `json:"phase"`
	RegisteredAt time.Time `json:"registered_at"`
	LastJobAt    time.Time `json:"last_job_at,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Failures     int       `json:"failures"`
}

// ServiceState is the persisted daemon state.
type ServiceState struct {
	PID       int                    `json:"pid"`
	StartedAt time.Time              `json:"started_at"`
	Repos     map[string]*RepoStatus `json:"repos"`
}

// Registry holds registered repos and persists every mutation atomically.
type Registry struct {
	path string

	mu    sync.RWMutex
	state *ServiceState
}

// LoadRegistry reads or initializes the state file.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:  path,
		state: &ServiceState{PID: os.Getpid(), StartedAt: time.Now().UTC(), Repos: map[string]*RepoStatus{}},
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, llmcerrors.New(llmcerrors.CodePathInvalid, "cannot read service state", err)
	}
	st := &ServiceState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, llmcerrors.Integrity("corrupt service state file", err)
	}
	if st.Repos == nil {
		st.Repos = map[string]*RepoStatus{}
	}
	st.PID = os.Getpid()
	st.StartedAt = time.Now().UTC()
	r.state = st
	return r, nil
}

// Register adds a repo in REGISTERED phase. Registering twice is an error
// unless the repo previously failed, which resets it.
func (r *Registry) Register(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return llmcerrors.Path("cannot resolve repo root", root)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return llmcerrors.Path("repo root is not a directory", abs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.state.Repos[abs]; ok && existing.Phase != PhaseFailed {
		return llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
			"repo %s already registered", abs)
	}
	r.state.Repos[abs] = &RepoStatus{
		Root:         abs,
		Phase:        PhaseRegistered,
		RegisteredAt: time.Now().UTC(),
	}
	return r.saveLocked()
}

// Unregister removes a repo from the registry.
func (r *Registry) Unregister(root string) error {
	abs, _ := filepath.Abs(root)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.Repos[abs]; !ok {
		return llmcerrors.Newf(llmcerrors.CodePathNotFound, "repo %s not registered", abs)
	}
	delete(r.state.Repos, abs)
	return r.saveLocked()
}

// Transition moves a repo to the next phase, enforcing the state machine.
func (r *Registry) Transition(root, next string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.state.Repos[root]
	if !ok {
		return llmcerrors.Newf(llmcerrors.CodePathNotFound, "repo %s not registered", root)
	}
	for _, allowed := range validNext[st.Phase] {
		if allowed == next {
			st.Phase = next
			st.LastJobAt = time.Now().UTC()
			return r.saveLocked()
		}
	}
	return llmcerrors.Newf(llmcerrors.CodeConfigInvalid,
		"repo %s cannot move %s -> %s", root, st.Phase, next)
}

// MarkFailed puts a repo into the FAILED terminal phase.
func (r *Registry) MarkFailed(root string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.state.Repos[root]
	if !ok {
		return llmcerrors.Newf(llmcerrors.CodePathNotFound, "repo %s not registered", root)
	}
	st.Phase = PhaseFailed
	st.Failures++
	if cause != nil {
		st.LastError = cause.Error()
	}
	return r.saveLocked()
}

// ClearFailures is the only exit from FAILED.
func (r *Registry) ClearFailures(root string) error {
	abs, _ := filepath.Abs(root)
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.state.Repos[abs]
	if !ok {
		return llmcerrors.Newf(llmcerrors.CodePathNotFound, "repo %s not registered", abs)
	}
	st.Phase = PhaseRegistered
	st.Failures = 0
	st.LastError = ""
	return r.saveLocked()
}

// Get returns a copy of one repo's status.
func (r *Registry) Get(root string) (*RepoStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.state.Repos[root]
	if !ok {
		return nil, false
	}
	cp := *st
	return &cp, true
}

// List returns all repo statuses sorted by root.
func (r *Registry) List() []*RepoStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RepoStatus, 0, len(r.state.Repos))
	for _, st := range r.state.Repos {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}

func (r *Registry) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return llmcerrors.New(llmcerrors.CodePathInvalid, "cannot create state directory", err)
	}
	data, err := json.MarshalIndent(r.state, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(r.path, append(data, '\n'), 0o644); err != nil {
		return llmcerrors.New(llmcerrors.CodePathInvalid, "cannot write service state", err)
	}
	return nil
}
