package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/thresholds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wallet  = chain.MustAddress("0xa11ce00000000000000000000000000000000001")
	token   = chain.MustAddress("0x70ce000000000000000000000000000000000002")
	spender = chain.MustAddress("0x5be0000000000000000000000000000000000003")
	other   = chain.MustAddress("0x0de0000000000000000000000000000000000004")
	dex     = chain.MustAddress("0xde00000000000000000000000000000000000005")
	dex2    = chain.MustAddress("0xde00000000000000000000000000000000000006")
)

type fixture struct {
	auditor  *Auditor
	registry *registry.Registry
	history  *risk.MemoryHistory
}

func newFixture() *fixture {
	reg := registry.New(registry.NewMemoryStore())
	th := thresholds.NewService(thresholds.NewMemoryStore(), thresholds.Default())
	h := risk.NewMemoryHistory()
	store := NewMemoryStore()
	return &fixture{
		auditor:  New(store, store, detector.Default(), reg, th, h),
		registry: reg,
		history:  h,
	}
}

func (f *fixture) scan(t *testing.T, from, to chain.Address, level thresholds.Level, sigs ...string) {
	t.Helper()
	_, err := f.history.Commit(context.Background(), func(id int64) (*risk.ScanRecord, error) {
		return &risk.ScanRecord{ScanID: id, Timestamp: time.Now(), From: from, To: to, ThreatLevel: level, Signatures: sigs}, nil
	}, nil)
	require.NoError(t, err)
}

func TestTrackApproval_Infinite(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	ap, err := f.auditor.TrackApproval(ctx, wallet, token, spender, "infinite")
	require.NoError(t, err)
	assert.True(t, ap.IsInfinite)
	assert.Equal(t, chain.InfiniteAmount, ap.Amount)
	assert.Contains(t, ap.Signatures, detector.SigInfiniteApproval)
	assert.True(t, ap.RiskLevel.AtLeast(thresholds.High))
	assert.Equal(t, int64(1), ap.ID)

	maxUint := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	ap, err = f.auditor.TrackApproval(ctx, wallet, token, other, maxUint)
	require.NoError(t, err)
	assert.True(t, ap.IsInfinite)

	report, err := f.auditor.CheckDangerous(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DangerousApprovalsFound)
}

func TestTrackApproval_Bounded(t *testing.T) {
	f := newFixture()
	ap, err := f.auditor.TrackApproval(context.Background(), wallet, token, spender, "1000000")
	require.NoError(t, err)
	assert.False(t, ap.IsInfinite)
	assert.Equal(t, "1000000", ap.Amount)
	assert.Empty(t, ap.Signatures)
	assert.Equal(t, thresholds.None, ap.RiskLevel)
	assert.False(t, ap.Dangerous())
}

func TestTrackApproval_BlacklistedSpender(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.registry.Blacklist(ctx, spender)
	require.NoError(t, err)

	ap, err := f.auditor.TrackApproval(ctx, wallet, token, spender, "5")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ap.RiskScore, risk.DefaultBlacklistFloor)
	assert.Equal(t, thresholds.Critical, ap.RiskLevel)
	assert.True(t, ap.Dangerous())
}

func TestTrackApproval_Invalid(t *testing.T) {
	f := newFixture()
	for _, amount := range []string{"-1", "lots", "0x"} {
		_, err := f.auditor.TrackApproval(context.Background(), wallet, token, spender, amount)
		assert.ErrorIs(t, err, ErrInvalidApproval, amount)
	}
	_, err := f.auditor.TrackApproval(context.Background(), wallet, chain.ZeroAddress, spender, "1")
	assert.ErrorIs(t, err, ErrInvalidApproval)
}

func TestApprovals_LatestWinsTrailKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.auditor.TrackApproval(ctx, wallet, token, spender, "infinite")
	require.NoError(t, err)
	_, err = f.auditor.TrackApproval(ctx, wallet, token, spender, "100")
	require.NoError(t, err)

	current, err := f.auditor.Approvals(ctx, wallet)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "100", current[0].Amount)
	assert.False(t, current[0].IsInfinite)

	trail, err := f.auditor.ApprovalTrail(ctx, wallet)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.True(t, trail[0].IsInfinite)

	report, err := f.auditor.CheckDangerous(ctx, wallet)
	require.NoError(t, err)
	assert.Zero(t, report.DangerousApprovalsFound, "superseded infinite approval is no longer current")

	safety, err := f.auditor.SafetyReport(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, 100, safety.SafetyScore)
	assert.Equal(t, "safe", safety.OverallSafety)
	assert.Equal(t, 2, safety.TrailLength)
}

func TestSafetyReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.registry.Blacklist(ctx, other)
	require.NoError(t, err)

	_, err = f.auditor.TrackApproval(ctx, wallet, token, spender, "infinite")
	require.NoError(t, err)
	_, err = f.auditor.TrackApproval(ctx, wallet, token, other, "1")
	require.NoError(t, err)

	r, err := f.auditor.SafetyReport(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, 50, r.SafetyScore)
	assert.Equal(t, "caution", r.OverallSafety)
	assert.Equal(t, 1, r.InfiniteApprovals)
	assert.Equal(t, 1, r.CriticalRisk)
	assert.Equal(t, 2, r.DangerousCount)
	assert.Len(t, r.ActionItems, 2)
}

func TestRegister_ProfilesFromHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.scan(t, wallet, dex, thresholds.High, detector.SigProxyUpgrade)
	f.scan(t, wallet, dex, thresholds.Medium, detector.SigProxyUpgrade, detector.SigHighValue)

	d, err := f.auditor.Register(ctx, dex, "  SwapX ", "DEX", wallet)
	require.NoError(t, err)
	assert.Equal(t, "SwapX", d.Name)
	assert.Equal(t, "dex", d.Type)
	assert.Equal(t, []string{detector.SigHighValue, detector.SigProxyUpgrade}, d.Signatures)
	assert.Equal(t, 35, d.RiskScore)
	assert.Equal(t, thresholds.Low, d.RiskLevel)
	assert.Equal(t, 2, d.RedFlags)
	assert.True(t, d.AuditNeeded)
	assert.Contains(t, d.Precautions, "verify the admin keys and upgrade timelock")

	got, err := f.auditor.DApp(ctx, dex)
	require.NoError(t, err)
	assert.Equal(t, d.RiskScore, got.RiskScore)

	_, err = f.auditor.Register(ctx, dex2, "", "dex", wallet)
	assert.ErrorIs(t, err, ErrInvalidDApp)
	_, err = f.auditor.DApp(ctx, dex2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegister_KeepsRegistration(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	first, err := f.auditor.Register(ctx, dex, "SwapX", "dex", wallet)
	require.NoError(t, err)
	again, err := f.auditor.Register(ctx, dex, "SwapX v2", "dex", other)
	require.NoError(t, err)
	assert.Equal(t, "SwapX v2", again.Name)
	assert.Equal(t, wallet, again.RegisteredBy)
	assert.Equal(t, first.RegisteredAt, again.RegisteredAt)
}

func TestAnalyzeAndAlternatives(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.scan(t, wallet, dex, thresholds.High, detector.SigSandwich)

	_, err := f.auditor.Register(ctx, dex, "Risky", "dex", wallet)
	require.NoError(t, err)
	_, err = f.auditor.Register(ctx, dex2, "Clean", "dex", wallet)
	require.NoError(t, err)

	a, err := f.auditor.Analyze(ctx, dex2)
	require.NoError(t, err)
	assert.True(t, a.Watched)
	assert.True(t, a.SafeToInteract)
	assert.Zero(t, a.RiskScore)

	_, err = f.registry.Blacklist(ctx, other)
	require.NoError(t, err)
	a, err = f.auditor.Analyze(ctx, other)
	require.NoError(t, err)
	assert.False(t, a.Watched)
	assert.False(t, a.SafeToInteract)
	assert.Equal(t, thresholds.Critical, a.RiskLevel)
	assert.Equal(t, "avoid interacting with this contract", a.Recommendation)

	alts, err := f.auditor.Alternatives(ctx, dex)
	require.NoError(t, err)
	require.Len(t, alts, 1)
	assert.Equal(t, dex2, alts[0].Address)

	_, err = f.auditor.Alternatives(ctx, other)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHealthAndMonitor(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.auditor.Register(ctx, dex, "A", "dex", wallet)
	require.NoError(t, err)
	_, err = f.auditor.Register(ctx, dex2, "B", "dex", wallet)
	require.NoError(t, err)

	h, err := f.auditor.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.TotalMonitored)
	assert.Equal(t, 2, h.Safe)
	assert.Equal(t, "safe", h.OverallSafety)

	_, err = f.registry.Blacklist(ctx, dex)
	require.NoError(t, err)

	h, err = f.auditor.Health(ctx)
	require.NoError(t, err)
	assert.Zero(t, h.HighRisk, "health reads stored profiles")

	h, err = f.auditor.Monitor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.HighRisk)
	assert.Equal(t, "at_risk", h.OverallSafety)
}

// brokenAfter serves n history reads, then fails.
type brokenAfter struct {
	History
	n int
}

func (b *brokenAfter) List(ctx context.Context, q risk.Query) ([]*risk.ScanRecord, error) {
	if b.n == 0 {
		return nil, errors.New("history offline")
	}
	b.n--
	return b.History.List(ctx, q)
}

func TestMonitor_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(registry.NewMemoryStore())
	th := thresholds.NewService(thresholds.NewMemoryStore(), thresholds.Default())
	store := NewMemoryStore()
	ok := New(store, store, detector.Default(), reg, th, risk.NewMemoryHistory())

	_, err := ok.Register(ctx, dex, "A", "dex", wallet)
	require.NoError(t, err)
	_, err = ok.Register(ctx, dex2, "B", "dex", wallet)
	require.NoError(t, err)
	_, err = reg.Blacklist(ctx, dex)
	require.NoError(t, err)

	flaky := New(store, store, detector.Default(), reg, th, &brokenAfter{History: risk.NewMemoryHistory(), n: 1})
	_, err = flaky.Monitor(ctx)
	require.ErrorIs(t, err, ErrUnavailable)

	d, err := store.Get(ctx, dex)
	require.NoError(t, err)
	assert.False(t, d.RiskLevel.AtLeast(thresholds.High), "first profile must not be stored when a later one fails")

	h, err := ok.Monitor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.HighRisk)
}
