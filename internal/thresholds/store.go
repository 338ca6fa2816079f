package thresholds

import (
	"context"
	"sync"

	"github.com/mbd888/securityguard/internal/chain"
)

// Store persists the global Set and user overrides.
type Store interface {
	// Global returns ErrNotFound until a global Set has been written.
	Global(ctx context.Context) (Set, error)
	PutGlobal(ctx context.Context, s Set, setBy chain.Address) error
	// User returns ErrNotFound when user has no override.
	User(ctx context.Context, user chain.Address) (*UserSet, error)
	PutUser(ctx context.Context, u *UserSet) error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	global *Set
	users  map[chain.Address]UserSet
}

// NewMemoryStore creates an empty in-memory threshold store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[chain.Address]UserSet)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Global(_ context.Context) (Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.global == nil {
		return Set{}, ErrNotFound
	}
	return *m.global, nil
}

func (m *MemoryStore) PutGlobal(_ context.Context, s Set, _ chain.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global = &s
	return nil
}

func (m *MemoryStore) User(_ context.Context, user chain.Address) (*UserSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[user]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) PutUser(_ context.Context, u *UserSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.User] = *u
	return nil
}
