package core

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Store is the job state store: the single source of truth for job
// snapshots. Put replaces the whole snapshot for an id; there are no
// partial-field updates. Implementations must make Put and Get atomic with
// respect to a single id.
type Store interface {
	// Put overwrites the full snapshot stored under id.
	Put(ctx context.Context, id string, snap Snapshot) error

	// Get returns the current snapshot, or ErrJobNotFound.
	Get(ctx context.Context, id string) (Snapshot, error)

	// ListStaleTerminal returns ids of completed or failed jobs whose
	// CompletedAt is before olderThan.
	ListStaleTerminal(ctx context.Context, olderThan time.Time) ([]string, error)

	// Evict removes id. Evicting an unknown id is not an error.
	Evict(ctx context.Context, id string) error
}

// MemoryStore keeps snapshots in a process-local map. Contents are lost on
// restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Snapshot)}
}

func (m *MemoryStore) Put(_ context.Context, id string, snap Snapshot) error {
	if id == "" {
		return errors.New("store: id is required")
	}
	snap = snap.Clone()

	m.mu.Lock()
	m.jobs[id] = snap
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Snapshot, error) {
	m.mu.RLock()
	snap, ok := m.jobs[id]
	m.mu.RUnlock()

	if !ok {
		return Snapshot{}, errors.Wrapf(ErrJobNotFound, "upload %q", id)
	}
	return snap.Clone(), nil
}

func (m *MemoryStore) ListStaleTerminal(_ context.Context, olderThan time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, snap := range m.jobs {
		if isStale(snap, olderThan) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) Evict(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored jobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

func isStale(snap Snapshot, olderThan time.Time) bool {
	return snap.Status.Terminal() && snap.CompletedAt != nil && snap.CompletedAt.Before(olderThan)
}
