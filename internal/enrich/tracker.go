package enrich

import (
	"sync"
	"time"
)

// FailureTracker throttles repeated failures per (span, backend) pair.
// Cooldowns grow exponentially with consecutive failures; success resets
// the pair. State is process-local.
type FailureTracker struct {
	mu      sync.Mutex
	entries map[trackerKey]*trackerEntry

	baseCooldown time.Duration
	maxFailures  int
	now          func() time.Time
}

type trackerKey struct {
	spanHash string
	backend  string
}

type trackerEntry struct {
	failures int
	lastAt   time.Time
}

// NewFailureTracker creates a tracker. baseCooldown doubles per
// consecutive failure; after maxFailures the backend is skipped for the
// span until ClearFailures.
func NewFailureTracker(baseCooldown time.Duration, maxFailures int) *FailureTracker {
	if baseCooldown <= 0 {
		baseCooldown = 5 * time.Minute
	}
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &FailureTracker{
		entries:      make(map[trackerKey]*trackerEntry),
		baseCooldown: baseCooldown,
		maxFailures:  maxFailures,
		now:          time.Now,
	}
}

// ShouldSkip reports whether a backend should be skipped for a span, with
// the reason ("max_failures" or "cooldown").
func (t *FailureTracker) ShouldSkip(spanHash, backend string) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[trackerKey{spanHash, backend}]
	if !ok {
		return false, ""
	}
	if e.failures >= t.maxFailures {
		return true, "max_failures"
	}
	cooldown := t.baseCooldown << (e.failures - 1)
	if t.now().Sub(e.lastAt) < cooldown {
		return true, "cooldown"
	}
	return false, ""
}

// RecordFailure bumps the pair's counter.
func (t *FailureTracker) RecordFailure(spanHash, backend string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := trackerKey{spanHash, backend}
	e, ok := t.entries[key]
	if !ok {
		e = &trackerEntry{}
		t.entries[key] = e
	}
	e.failures++
	e.lastAt = t.now()
}

// RecordSuccess resets the pair.
func (t *FailureTracker) RecordSuccess(spanHash, backend string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, trackerKey{spanHash, backend})
}

// Failures returns the current count for a pair.
func (t *FailureTracker) Failures(spanHash, backend string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[trackerKey{spanHash, backend}]; ok {
		return e.failures
	}
	return 0
}

// Clear drops all recorded failures.
func (t *FailureTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[trackerKey]*trackerEntry)
}
