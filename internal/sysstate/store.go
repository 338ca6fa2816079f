package sysstate

import (
	"context"
	"sync"
)

// Store persists the snapshot and history. Transition must run fn and
// persist its result atomically with respect to other Transition calls, and
// must reject a second transition carrying the same non-zero scan id with
// ErrScanReplayed.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Transition(ctx context.Context, fn func(cur Snapshot) (*Transition, error)) (*Snapshot, error)
	// History returns the latest limit entries, oldest first. limit <= 0
	// returns everything.
	History(ctx context.Context, limit int) ([]Transition, error)
}

// MemoryStore is an in-memory Store with a single-writer lock.
type MemoryStore struct {
	mu      sync.Mutex
	current Snapshot
	history []Transition
}

// NewMemoryStore creates a store in the Active state.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{current: Snapshot{State: Active}}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.current
	return &s, nil
}

func (m *MemoryStore) Transition(_ context.Context, fn func(cur Snapshot) (*Transition, error)) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := fn(m.current)
	if err != nil {
		return nil, err
	}
	if t.ScanID > 0 {
		for _, h := range m.history {
			if h.ScanID == t.ScanID {
				return nil, ErrScanReplayed
			}
		}
	}
	t.Seq = int64(len(m.history) + 1)
	m.history = append(m.history, *t)
	m.current = m.current.apply(t)
	s := m.current
	return &s, nil
}

func (m *MemoryStore) History(_ context.Context, limit int) ([]Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	out := make([]Transition, len(m.history)-start)
	copy(out, m.history[start:])
	return out, nil
}
