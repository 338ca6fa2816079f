package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
)

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[chain.Address]*Entry
	samples map[chain.Address][]Sample
}

// NewMemoryStore creates an in-memory registry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[chain.Address]*Entry),
		samples: make(map[chain.Address][]Sample),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Get(_ context.Context, addr chain.Address) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[addr]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Put(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.entries[entry.Address] = &cp
	return nil
}

func (m *MemoryStore) List(_ context.Context, membership Membership) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for _, e := range m.entries {
		if e.Has(membership) {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result, nil
}

func (m *MemoryStore) Counts(_ context.Context) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c Counts
	for _, e := range m.entries {
		if e.Blacklisted {
			c.Blacklisted++
		}
		if e.Whitelisted {
			c.Whitelisted++
		}
		if e.Tracked {
			c.Tracked++
		}
		if e.Operator {
			c.Operators++
		}
	}
	return c, nil
}

func (m *MemoryStore) AppendSample(_ context.Context, addr chain.Address, s Sample, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[addr]; !ok {
		now := time.Now()
		m.entries[addr] = &Entry{Address: addr, CreatedAt: now, UpdatedAt: now}
	}
	samples := append(m.samples[addr], s)
	if keep > 0 && len(samples) > keep {
		samples = append([]Sample(nil), samples[len(samples)-keep:]...)
	}
	m.samples[addr] = samples
	return nil
}

func (m *MemoryStore) Samples(_ context.Context, addr chain.Address, limit int) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.samples[addr]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	result := make([]Sample, len(all)-start)
	copy(result, all[start:])
	return result, nil
}
