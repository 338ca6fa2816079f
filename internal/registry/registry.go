package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/logging"
	"github.com/mbd888/securityguard/internal/syncutil"
)

const (
	DefaultMaxSamples  = 100
	DefaultMinSamples  = 3
	DefaultTrendMargin = 5.0
)

// Registry owns address flags and score samples. Flag mutations are
// serialized per address so the blacklist/whitelist exclusion holds without
// a global lock.
type Registry struct {
	store      Store
	locks      *syncutil.AddressLocks
	maxSamples int
	minSamples int
	margin     float64
	now        func() time.Time
}

// New creates a registry over store.
func New(store Store) *Registry {
	return &Registry{
		store:      store,
		locks:      syncutil.NewAddressLocks(),
		maxSamples: DefaultMaxSamples,
		minSamples: DefaultMinSamples,
		margin:     DefaultTrendMargin,
		now:        time.Now,
	}
}

// WithTrend overrides the minimum sample count and direction margin.
func (r *Registry) WithTrend(minSamples int, margin float64) *Registry {
	if minSamples >= 3 {
		r.minSamples = minSamples
	}
	if margin >= 0 {
		r.margin = margin
	}
	return r
}

// WithMaxSamples caps the samples kept per address.
func (r *Registry) WithMaxSamples(n int) *Registry {
	if n > 0 {
		r.maxSamples = n
	}
	return r
}

// WithClock replaces the time source.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// MaxSamples is the per-address sample cap.
func (r *Registry) MaxSamples() int { return r.maxSamples }

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// Blacklist adds addr to the blacklist and clears any whitelist flag.
func (r *Registry) Blacklist(ctx context.Context, addr chain.Address) (*Entry, error) {
	return r.mutate(ctx, addr, "blacklist", func(e *Entry) {
		e.Blacklisted = true
		e.Whitelisted = false
	})
}

// Whitelist adds addr to the whitelist and clears any blacklist flag.
func (r *Registry) Whitelist(ctx context.Context, addr chain.Address) (*Entry, error) {
	return r.mutate(ctx, addr, "whitelist", func(e *Entry) {
		e.Whitelisted = true
		e.Blacklisted = false
	})
}

// AddOperator grants operator rights to addr.
func (r *Registry) AddOperator(ctx context.Context, addr chain.Address) (*Entry, error) {
	return r.mutate(ctx, addr, "add_operator", func(e *Entry) { e.Operator = true })
}

// Track marks addr for trend monitoring.
func (r *Registry) Track(ctx context.Context, addr chain.Address) (*Entry, error) {
	return r.mutate(ctx, addr, "track", func(e *Entry) { e.Tracked = true })
}

// mutate applies fn under the address lock. A call that leaves the entry
// unchanged writes nothing.
func (r *Registry) mutate(ctx context.Context, addr chain.Address, op string, fn func(*Entry)) (*Entry, error) {
	unlock, err := r.locks.Lock(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := r.lookup(ctx, addr)
	if err != nil {
		return nil, err
	}

	next := *current
	fn(&next)
	if next == *current {
		return current, nil
	}

	now := r.now()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	if err := r.store.Put(ctx, &next); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	logging.L(ctx).Info("registry updated", "op", op, "address", addr)
	return &next, nil
}

// RecordScore appends a score sample for addr.
func (r *Registry) RecordScore(ctx context.Context, addr chain.Address, score int, at time.Time) error {
	if err := r.store.AppendSample(ctx, addr, Sample{Score: score, At: at}, r.maxSamples); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Get returns the entry for addr; unseen addresses yield a zero entry.
func (r *Registry) Get(ctx context.Context, addr chain.Address) (*Entry, error) {
	return r.lookup(ctx, addr)
}

func (r *Registry) lookup(ctx context.Context, addr chain.Address) (*Entry, error) {
	e, err := r.store.Get(ctx, addr)
	if errors.Is(err, ErrNotFound) {
		return &Entry{Address: addr}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return e, nil
}

// IsOperator reports whether addr holds operator rights.
func (r *Registry) IsOperator(ctx context.Context, addr chain.Address) (bool, error) {
	e, err := r.lookup(ctx, addr)
	if err != nil {
		return false, err
	}
	return e.Operator, nil
}

// Samples returns the retained samples for addr, oldest first.
func (r *Registry) Samples(ctx context.Context, addr chain.Address) ([]Sample, error) {
	s, err := r.store.Samples(ctx, addr, r.maxSamples)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s, nil
}

// Trend summarizes the samples for addr.
func (r *Registry) Trend(ctx context.Context, addr chain.Address) (Trend, error) {
	samples, err := r.Samples(ctx, addr)
	if err != nil {
		return Trend{}, err
	}
	return ComputeTrend(addr, samples, r.minSamples, r.margin), nil
}

// List enumerates one membership list.
func (r *Registry) List(ctx context.Context, m Membership) ([]*Entry, error) {
	entries, err := r.store.List(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return entries, nil
}

// Counts returns the size of every list.
func (r *Registry) Counts(ctx context.Context) (Counts, error) {
	c, err := r.store.Counts(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c, nil
}
