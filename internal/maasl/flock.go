package maasl

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/llmc-dev/llmc/internal/config"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// ProcessLease is a cross-process lease backed by an OS file lock plus a
// sidecar record naming the holder. Used for IDEMP_DOCS so two daemons
// pointed at the same repo cannot both run docgen.
type ProcessLease struct {
	fl     *flock.Flock
	path   string
	Holder string
}

type leaseRecord struct {
	Holder     string    `json:"holder"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// DocgenLeasePath is the docgen lease file for a repo.
func DocgenLeasePath(repoRoot string) string {
	return filepath.Join(config.StateDir(repoRoot), "docgen.lock")
}

// AcquireProcessLease takes the file lock, retrying until the class wait
// budget is exhausted.
func AcquireProcessLease(ctx context.Context, path, holder string, class Class) (*ProcessLease, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, llmcerrors.New(llmcerrors.CodePathInvalid, "cannot create lease directory", err)
	}

	fl := flock.New(path)
	waitCtx, cancel := context.WithTimeout(ctx, class.Wait)
	defer cancel()

	start := time.Now()
	locked, err := fl.TryLockContext(waitCtx, 50*time.Millisecond)
	if err != nil && ctx.Err() != nil {
		return nil, llmcerrors.Cancelled("lease acquisition for " + path)
	}
	if !locked {
		return nil, llmcerrors.ResourceBusy(path, readLeaseHolder(path), time.Since(start).Milliseconds())
	}

	rec, _ := json.Marshal(leaseRecord{Holder: holder, PID: os.Getpid(), AcquiredAt: time.Now().UTC()})
	// The record is advisory; the flock is the actual exclusion.
	_ = os.WriteFile(path+".holder", rec, 0o644)

	return &ProcessLease{fl: fl, path: path, Holder: holder}, nil
}

// Release drops the file lock and holder record.
func (l *ProcessLease) Release() error {
	_ = os.Remove(l.path + ".holder")
	return l.fl.Unlock()
}

func readLeaseHolder(path string) string {
	data, err := os.ReadFile(path + ".holder")
	if err != nil {
		return "unknown"
	}
	var rec leaseRecord
	if json.Unmarshal(data, &rec) != nil || rec.Holder == "" {
		return "unknown"
	}
	return rec.Holder
}
