package syncutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securityguard/internal/chain"
)

func addr(i int) chain.Address {
	return chain.Address(fmt.Sprintf("0x%040x", i))
}

func TestLock_SerializesSameAddress(t *testing.T) {
	locks := NewAddressLocks()
	a := addr(1)

	var (
		wg      sync.WaitGroup
		counter int
	)
	const n = 50
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), a)
			if !assert.NoError(t, err) {
				return
			}
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, n, counter)
}

func TestLock_ContextCancelledWhileWaiting(t *testing.T) {
	locks := NewAddressLocks()
	a := addr(2)

	unlock, err := locks.Lock(context.Background(), a)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, a)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLock_ReleasedShardIsReusable(t *testing.T) {
	locks := NewAddressLocks()
	a := addr(3)

	unlock, err := locks.Lock(context.Background(), a)
	require.NoError(t, err)
	unlock()

	unlock, err = locks.Lock(context.Background(), a)
	require.NoError(t, err)
	unlock()
}

func TestLock_DifferentShardsDoNotBlock(t *testing.T) {
	locks := NewAddressLocks()
	a := addr(4)
	b := addr(5)
	for i := 6; Shard(b) == Shard(a); i++ {
		b = addr(i)
	}

	unlock, err := locks.Lock(context.Background(), a)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locks.Lock(ctx, b)
	require.NoError(t, err)
	unlockB()
}

func TestShard_Stable(t *testing.T) {
	assert.Equal(t, Shard(addr(7)), Shard(addr(7)))
	assert.GreaterOrEqual(t, Shard(addr(7)), 0)
	assert.Less(t, Shard(addr(7)), shardCount)
}
