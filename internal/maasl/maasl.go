// Package maasl serializes access to shared repo resources across
// concurrent agents: working-tree files, the catalog writer, the graph
// artifact, and generated docs.
//
// Every resource belongs to a class with a lease TTL and a bounded
// interactive wait. Leases carry a monotonic fencing token; an expired
// lease can be taken over, and the previous holder's commit is rejected
// once the token has moved on.
package maasl

import (
	"context"
	"sort"
	"sync"
	"time"

	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

// Class describes one resource class.
type Class struct {
	Name     string
	LeaseTTL time.Duration
	// Wait bounds how long Acquire blocks before failing with ResourceBusy.
	Wait time.Duration
}

// Resource classes.
var (
	ClassCritCode  = Class{Name: "CRIT_CODE", LeaseTTL: 30 * time.Second, Wait: 500 * time.Millisecond}
	ClassCritDB    = Class{Name: "CRIT_DB", LeaseTTL: 60 * time.Second, Wait: time.Second}
	ClassMergeMeta = Class{Name: "MERGE_META", LeaseTTL: 30 * time.Second, Wait: 500 * time.Millisecond}
	ClassIdempDocs = Class{Name: "IDEMP_DOCS", LeaseTTL: 120 * time.Second, Wait: 500 * time.Millisecond}
)

// Lease is a held lock. The token is the fencing token: any commit made
// under this lease must be validated against it.
type Lease struct {
	Key       string
	Class     Class
	Holder    string
	Token     uint64
	ExpiresAt time.Time
}

type lockState struct {
	held      bool
	holder    string
	token     uint64
	expiresAt time.Time
	released  chan struct{}
}

// Manager is the in-process lock manager. One manager guards one repo.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*lockState

	// now is swappable in tests.
	now func() time.Time
}

// NewManager returns an empty lock table.
func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]*lockState),
		now:   time.Now,
	}
}

// Acquire takes the lock for key, blocking up to the class wait budget.
// An expired lease is taken over and the fencing token is bumped.
func (m *Manager) Acquire(ctx context.Context, class Class, key, holder string) (*Lease, error) {
	deadline := time.Now().Add(class.Wait)
	start := time.Now()

	for {
		lease, waitCh, currentHolder := m.tryAcquire(class, key, holder)
		if lease != nil {
			return lease, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, llmcerrors.ResourceBusy(key, currentHolder, time.Since(start).Milliseconds())
		}
		select {
		case <-ctx.Done():
			return nil, llmcerrors.Cancelled("lock acquisition for " + key)
		case <-waitCh:
		case <-time.After(remaining):
		}
	}
}

func (m *Manager) tryAcquire(class Class, key, holder string) (*Lease, chan struct{}, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.locks[key]
	if !ok {
		st = &lockState{released: make(chan struct{})}
		m.locks[key] = st
	}
	if st.held && m.now().Before(st.expiresAt) {
		return nil, st.released, st.holder
	}

	st.held = true
	st.holder = holder
	st.token++
	st.expiresAt = m.now().Add(class.LeaseTTL)
	return &Lease{
		Key:       key,
		Class:     class,
		Holder:    holder,
		Token:     st.token,
		ExpiresAt: st.expiresAt,
	}, nil, ""
}

// AcquireAll takes multiple locks of one class in sorted key order so two
// agents wanting overlapping sets cannot deadlock. On failure every lock
// already taken is released.
func (m *Manager) AcquireAll(ctx context.Context, class Class, keys []string, holder string) ([]*Lease, error) {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	leases := make([]*Lease, 0, len(sorted))
	for _, key := range sorted {
		lease, err := m.Acquire(ctx, class, key, holder)
		if err != nil {
			for i := len(leases) - 1; i >= 0; i-- {
				m.Release(leases[i])
			}
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

// Release frees a lease. A stale lease (taken over after expiry) is a
// no-op: the lock already belongs to someone else.
func (m *Manager) Release(lease *Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.locks[lease.Key]
	if !ok || st.token != lease.Token {
		return
	}
	st.held = false
	close(st.released)
	st.released = make(chan struct{})
}

// Check validates a lease at commit time. A bumped token means another
// agent took over after expiry and this holder's work must not land.
func (m *Manager) Check(lease *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.locks[lease.Key]
	if !ok || st.token != lease.Token || st.holder != lease.Holder {
		return llmcerrors.Newf(llmcerrors.CodeStaleFence,
			"lease for %s superseded, commit rejected", lease.Key).
			WithDetail("holder", lease.Holder)
	}
	if m.now().After(st.expiresAt) {
		return llmcerrors.Newf(llmcerrors.CodeLeaseExpired,
			"lease for %s expired before commit", lease.Key)
	}
	return nil
}

// Extend pushes the lease expiry forward by one TTL. Fails with the same
// taxonomy as Check when the lease is no longer current.
func (m *Manager) Extend(lease *Lease) error {
	if err := m.Check(lease); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.locks[lease.Key]
	st.expiresAt = m.now().Add(lease.Class.LeaseTTL)
	lease.ExpiresAt = st.expiresAt
	return nil
}
