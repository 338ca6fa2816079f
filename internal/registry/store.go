package registry

import (
	"context"

	"github.com/mbd888/securityguard/internal/chain"
)

// Store defines the persistence interface for the registry.
type Store interface {
	// Get returns ErrNotFound for addresses never written.
	Get(ctx context.Context, addr chain.Address) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	List(ctx context.Context, m Membership) ([]*Entry, error)
	Counts(ctx context.Context) (Counts, error)

	// AppendSample records a score and keeps at most keep samples per address.
	AppendSample(ctx context.Context, addr chain.Address, s Sample, keep int) error
	// Samples returns up to limit of the most recent samples, oldest first.
	Samples(ctx context.Context, addr chain.Address, limit int) ([]Sample, error)
}
