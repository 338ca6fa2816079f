// Package syncutil holds the per-address locks that serialize registry
// mutations.
package syncutil

import (
	"context"
	"hash/fnv"

	"github.com/mbd888/securityguard/internal/chain"
)

const shardCount = 256

// AddressLocks is a fixed pool of context-aware locks keyed by address.
// Two addresses may share a shard; memory stays bounded no matter how many
// addresses are seen. The zero value is not usable, call NewAddressLocks.
type AddressLocks struct {
	shards [shardCount]chan struct{}
}

// NewAddressLocks returns an unlocked pool.
func NewAddressLocks() *AddressLocks {
	l := &AddressLocks{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// Lock waits for the shard of addr. It returns the unlock function, or the
// context error if ctx ends first.
func (l *AddressLocks) Lock(ctx context.Context, addr chain.Address) (func(), error) {
	shard := l.shards[Shard(addr)]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shard maps addr to its lock index.
func Shard(addr chain.Address) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(addr))
	return int(h.Sum32() % shardCount)
}
