//go:build integration

package risk

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/policy"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/sysstate"
	"github.com/mbd888/securityguard/internal/testutil"
	"github.com/mbd888/securityguard/internal/thresholds"
)

type pgFixture struct {
	engine   *Engine
	registry *registry.Registry
	state    *sysstate.Machine
	history  *PostgresHistory
}

func newPGFixture(t *testing.T, autoPause bool) *pgFixture {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	t.Cleanup(cleanup)

	reg := registry.New(registry.NewPostgresStore(db))
	th := thresholds.NewService(thresholds.NewPostgresStore(db), thresholds.Default())
	state := sysstate.New(sysstate.NewPostgresStore(db), owner, reg)
	history := NewPostgresHistory(db)
	eng := NewEngine(detector.Default(), reg, th, policy.NewEngine(state, autoPause), history)
	return &pgFixture{engine: eng, registry: reg, state: state, history: history}
}

func TestPostgres_BlacklistedRecipientPauses(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t, true)
	_, err := f.registry.Blacklist(ctx, chain.MustAddress(bob))
	require.NoError(t, err)

	rec, err := f.engine.Scan(ctx, ScanRequest{Tx: detector.Transaction{From: alice, To: bob, Calldata: infiniteApproval()}})
	require.NoError(t, err)
	assert.Equal(t, policy.EmergencyPause, rec.ActionTaken)

	got, err := f.history.Get(ctx, rec.ScanID)
	require.NoError(t, err)
	assert.Equal(t, rec.RiskScore, got.RiskScore)
	assert.Equal(t, rec.Signatures, got.Signatures)
	assert.Equal(t, chain.MustAddress(bob), got.To)
	assert.True(t, got.PausedThisScan)

	snap, err := f.state.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Paused())
	assert.Equal(t, rec.ScanID, snap.PausedByScan)

	transitions, err := f.state.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.True(t, transitions[0].Automated)
}

func TestPostgres_ConcurrentIDsAreSequential(t *testing.T) {
	f := newPGFixture(t, false)
	const n = 24

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []int64
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := f.engine.Scan(context.Background(), ScanRequest{Tx: detector.Transaction{From: alice, To: bob}})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids = append(ids, rec.ScanID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, ids, n)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		assert.Equal(t, int64(i+1), id)
	}

	stats, err := f.history.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(n), stats.TotalScans)
}

func TestPostgres_ListFilters(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t, false)
	for _, to := range []string{bob, alice, bob} {
		_, err := f.engine.Scan(ctx, ScanRequest{Tx: detector.Transaction{From: alice, To: to}})
		require.NoError(t, err)
	}

	all, err := f.history.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ScanID, "newest first")

	page, err := f.history.List(ctx, Query{BeforeID: 3, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].ScanID)

	_, err = f.history.Get(ctx, 99)
	assert.ErrorIs(t, err, ErrScanNotFound)
}

func TestPostgres_FailedInsertRollsBackPause(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t, true)

	_, err := f.history.Commit(ctx, func(id int64) (*ScanRecord, error) {
		rec := &ScanRecord{ScanID: id, Status: StatusScanComplete, From: chain.MustAddress(alice), To: chain.MustAddress(bob),
			RiskScore: 101, ThreatLevel: thresholds.Critical, ActionTaken: policy.EmergencyPause}
		return rec, nil
	}, func(ctx context.Context, rec *ScanRecord) error {
		_, err := f.state.AutoPause(ctx, rec.ScanID, policy.PauseReason(rec.ScanID))
		return err
	})
	require.Error(t, err, "risk_score outside 0..100 violates the column check")

	snap, err := f.state.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Paused())
	transitions, err := f.state.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, transitions)

	_, err = f.registry.Blacklist(ctx, chain.MustAddress(bob))
	require.NoError(t, err)
	rec, err := f.engine.Scan(ctx, ScanRequest{Tx: detector.Transaction{From: alice, To: bob, Calldata: infiniteApproval()}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ScanID)
	assert.True(t, rec.PausedThisScan)

	snap, err = f.state.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Paused())
	assert.Equal(t, int64(1), snap.PausedByScan)
}
