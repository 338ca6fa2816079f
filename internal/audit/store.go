package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/securityguard/internal/chain"
)

// ApprovalStore persists the approval trail.
type ApprovalStore interface {
	// AppendApproval assigns ap.ID and stores it.
	AppendApproval(ctx context.Context, ap *Approval) error
	// Current returns the latest approval per (token, spender).
	Current(ctx context.Context, wallet chain.Address) ([]*Approval, error)
	// Trail returns every approval for wallet, oldest first.
	Trail(ctx context.Context, wallet chain.Address) ([]*Approval, error)
}

// DAppStore persists watched contracts.
type DAppStore interface {
	Get(ctx context.Context, addr chain.Address) (*DApp, error)
	Put(ctx context.Context, d *DApp) error
	// PutAll stores every profile or none of them.
	PutAll(ctx context.Context, ds []*DApp) error
	List(ctx context.Context) ([]*DApp, error)
}

// MemoryStore implements both stores in memory.
type MemoryStore struct {
	mu        sync.RWMutex
	approvals []*Approval
	dapps     map[chain.Address]*DApp
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{dapps: make(map[chain.Address]*DApp)}
}

var (
	_ ApprovalStore = (*MemoryStore)(nil)
	_ DAppStore     = (*MemoryStore)(nil)
)

func (m *MemoryStore) AppendApproval(_ context.Context, ap *Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ap.ID = int64(len(m.approvals) + 1)
	m.approvals = append(m.approvals, cloneApproval(ap))
	return nil
}

func (m *MemoryStore) Current(_ context.Context, wallet chain.Address) ([]*Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ token, spender chain.Address }
	latest := map[key]*Approval{}
	for _, ap := range m.approvals {
		if ap.Wallet == wallet {
			latest[key{ap.Token, ap.Spender}] = ap
		}
	}
	out := make([]*Approval, 0, len(latest))
	for _, ap := range latest {
		out = append(out, cloneApproval(ap))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Trail(_ context.Context, wallet chain.Address) ([]*Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Approval
	for _, ap := range m.approvals {
		if ap.Wallet == wallet {
			out = append(out, cloneApproval(ap))
		}
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, addr chain.Address) (*DApp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dapps[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDApp(d), nil
}

func (m *MemoryStore) Put(_ context.Context, d *DApp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dapps[d.Address] = cloneDApp(d)
	return nil
}

func (m *MemoryStore) PutAll(_ context.Context, ds []*DApp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range ds {
		m.dapps[d.Address] = cloneDApp(d)
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*DApp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*DApp, 0, len(m.dapps))
	for _, d := range m.dapps {
		out = append(out, cloneDApp(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func cloneApproval(ap *Approval) *Approval {
	cp := *ap
	cp.Signatures = append([]string(nil), ap.Signatures...)
	return &cp
}

func cloneDApp(d *DApp) *DApp {
	cp := *d
	cp.Signatures = append([]string(nil), d.Signatures...)
	cp.Precautions = append([]string(nil), d.Precautions...)
	return &cp
}
