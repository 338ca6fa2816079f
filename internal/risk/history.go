package risk

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/thresholds"
)

// Query filters history reads. Results are newest first.
type Query struct {
	Address  chain.Address
	Since    time.Time
	BeforeID int64
	Limit    int
}

// Stats are running totals over the whole history.
type Stats struct {
	TotalScans   int64 `json:"total_scans"`
	TotalThreats int64 `json:"total_threats"`
}

// Enforcer applies a scan's side effects and may amend the record before
// it is written.
type Enforcer func(ctx context.Context, rec *ScanRecord) error

// History is the append-only scan log. Commit allocates the next id, calls
// build, runs enforce (when non-nil) and persists the record as one atomic
// unit: ids are unique, increasing and gap-free, and any failure writes
// nothing, including enforce's effects. Implementations pass enforce a
// context that lets stores join their unit of work.
type History interface {
	Commit(ctx context.Context, build func(id int64) (*ScanRecord, error), enforce Enforcer) (*ScanRecord, error)
	Get(ctx context.Context, id int64) (*ScanRecord, error)
	List(ctx context.Context, q Query) ([]*ScanRecord, error)
	Stats(ctx context.Context) (Stats, error)
}

// MemoryHistory is an in-memory History.
type MemoryHistory struct {
	mu      sync.RWMutex
	records []*ScanRecord
	threats int64
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

var _ History = (*MemoryHistory)(nil)

// Commit runs enforce last, once nothing else can fail, so the append
// always follows a successful enforce.
func (h *MemoryHistory) Commit(ctx context.Context, build func(id int64) (*ScanRecord, error), enforce Enforcer) (*ScanRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := int64(len(h.records) + 1)
	rec, err := build(id)
	if err != nil {
		return nil, err
	}
	rec.ScanID = id
	if enforce != nil {
		if err := enforce(ctx, rec); err != nil {
			return nil, err
		}
	}
	h.records = append(h.records, rec.clone())
	if rec.ThreatLevel.AtLeast(thresholds.High) {
		h.threats++
	}
	return rec, nil
}

func (h *MemoryHistory) Get(_ context.Context, id int64) (*ScanRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if id < 1 || id > int64(len(h.records)) {
		return nil, ErrScanNotFound
	}
	return h.records[id-1].clone(), nil
}

func (h *MemoryHistory) List(_ context.Context, q Query) ([]*ScanRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []*ScanRecord
	for i := len(h.records) - 1; i >= 0; i-- {
		r := h.records[i]
		if q.BeforeID > 0 && r.ScanID >= q.BeforeID {
			continue
		}
		if !q.Since.IsZero() && r.Timestamp.Before(q.Since) {
			break
		}
		if q.Address != "" && !r.Involves(q.Address) {
			continue
		}
		result = append(result, r.clone())
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
	}
	return result, nil
}

func (h *MemoryHistory) Stats(_ context.Context) (Stats, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{TotalScans: int64(len(h.records)), TotalThreats: h.threats}, nil
}
