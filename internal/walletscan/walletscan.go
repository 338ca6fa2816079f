// Package walletscan runs contract-risk analysis across every counterparty
// a wallet has interacted with and assembles the wallet dashboard.
package walletscan

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/securityguard/internal/audit"
	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/pagination"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/thresholds"
)

var ErrUnavailable = errors.New("walletscan: source unavailable")

const (
	// maxCounterparties bounds one wallet scan.
	maxCounterparties = 200
	historyDepth      = 1000
	parallelism       = 8
)

// Auditor is the contract and approval side of a wallet scan.
type Auditor interface {
	Analyze(ctx context.Context, addr chain.Address) (*audit.Analysis, error)
	SafetyReport(ctx context.Context, wallet chain.Address) (*audit.SafetyReport, error)
	Approvals(ctx context.Context, wallet chain.Address) ([]*audit.Approval, error)
}

// Registry is the part of the registry wallet features use.
type Registry interface {
	Get(ctx context.Context, addr chain.Address) (*registry.Entry, error)
	Track(ctx context.Context, addr chain.Address) (*registry.Entry, error)
	Trend(ctx context.Context, addr chain.Address) (registry.Trend, error)
}

// History is the read side of the scan log.
type History interface {
	List(ctx context.Context, q risk.Query) ([]*risk.ScanRecord, error)
}

// Scanner runs wallet-wide scans.
type Scanner struct {
	auditor  Auditor
	registry Registry
	history  History
}

// New creates a Scanner.
func New(aud Auditor, reg Registry, history History) *Scanner {
	return &Scanner{auditor: aud, registry: reg, history: history}
}

// Warning is a counterparty that needs attention.
type Warning struct {
	DApp  chain.Address    `json:"dapp"`
	Issue string           `json:"issue"`
	Level thresholds.Level `json:"level"`
}

// Breakdown counts analyzed counterparties by outcome.
type Breakdown struct {
	Total    int `json:"total_contracts"`
	HighRisk int `json:"high_risk_contracts"`
	Warning  int `json:"warning_contracts"`
	Safe     int `json:"safe_contracts"`
}

// Result is the outcome of a wallet scan.
type Result struct {
	Wallet             chain.Address     `json:"wallet"`
	OverallStatus      string            `json:"overall_status"`
	HealthScore        int               `json:"health_score"`
	ContractsAnalyzed  int               `json:"contracts_analyzed"`
	Breakdown          Breakdown         `json:"breakdown"`
	Contracts          []*audit.Analysis `json:"contracts"`
	PendingWarnings    []Warning         `json:"pending_warnings"`
	ActionsRecommended []string          `json:"actions_recommended"`
}

// Scan analyzes every counterparty of wallet: scan history peers and
// approval tokens and spenders. Counterparties are analyzed in parallel.
func (s *Scanner) Scan(ctx context.Context, wallet chain.Address) (*Result, error) {
	peers, err := s.counterparties(ctx, wallet)
	if err != nil {
		return nil, err
	}

	analyses := make([]*audit.Analysis, len(peers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, peer := range peers {
		g.Go(func() error {
			a, err := s.auditor.Analyze(gctx, peer)
			if err != nil {
				return fmt.Errorf("analyze %s: %w", peer, err)
			}
			analyses[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Result{
		Wallet:             wallet,
		ContractsAnalyzed:  len(analyses),
		Contracts:          analyses,
		PendingWarnings:    []Warning{},
		ActionsRecommended: []string{},
	}
	r.Breakdown.Total = len(analyses)
	score := 100
	for _, a := range analyses {
		switch {
		case a.RiskLevel.AtLeast(thresholds.High):
			r.Breakdown.HighRisk++
			score -= 25
			r.PendingWarnings = append(r.PendingWarnings, Warning{DApp: a.Address, Issue: a.Recommendation, Level: a.RiskLevel})
		case !a.SafeToInteract:
			r.Breakdown.Warning++
			score -= 10
			r.PendingWarnings = append(r.PendingWarnings, Warning{DApp: a.Address, Issue: a.Recommendation, Level: a.RiskLevel})
		default:
			r.Breakdown.Safe++
		}
	}
	r.HealthScore = max(0, score)
	r.OverallStatus = status(r.HealthScore)
	if r.Breakdown.HighRisk > 0 {
		r.ActionsRecommended = append(r.ActionsRecommended, "revoke approvals to high-risk contracts")
	}
	if r.Breakdown.Warning > 0 {
		r.ActionsRecommended = append(r.ActionsRecommended, "limit exposure to contracts that need an audit")
	}
	return r, nil
}

// counterparties returns the distinct addresses wallet interacted with,
// sorted for a stable report.
func (s *Scanner) counterparties(ctx context.Context, wallet chain.Address) ([]chain.Address, error) {
	seen := map[chain.Address]bool{wallet: true}
	var out []chain.Address
	add := func(a chain.Address) {
		if !seen[a] && !a.IsZero() && len(out) < maxCounterparties {
			seen[a] = true
			out = append(out, a)
		}
	}

	records, err := s.history.List(ctx, risk.Query{Address: wallet, Limit: historyDepth})
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrUnavailable, err)
	}
	for _, r := range records {
		add(r.Counterparty(wallet))
	}
	approvals, err := s.auditor.Approvals(ctx, wallet)
	if err != nil {
		return nil, err
	}
	for _, ap := range approvals {
		add(ap.Token)
		add(ap.Spender)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func status(score int) string {
	switch {
	case score >= 80:
		return "secure"
	case score >= 50:
		return "at_risk"
	}
	return "critical"
}

// ApprovalAudit is the approval section of the wallet dashboard.
type ApprovalAudit struct {
	SafetyScore    int    `json:"safety_score"`
	CriticalRisk   int    `json:"critical_risk"`
	Dangerous      int    `json:"dangerous_approvals"`
	Recommendation string `json:"recommendation"`
}

// Dashboard is the wallet risk dashboard.
type Dashboard struct {
	Wallet             chain.Address      `json:"wallet"`
	HealthScore        int                `json:"health_score"`
	OverallStatus      string             `json:"overall_status"`
	SecurityMetrics    Breakdown          `json:"security_metrics"`
	PendingWarnings    []Warning          `json:"pending_warnings"`
	ActionsRecommended []string           `json:"actions_recommended"`
	ApprovalAudit      ApprovalAudit      `json:"approval_audit"`
	Trend              registry.Trend     `json:"trend"`
	RecentScans        []*risk.ScanRecord `json:"recent_scans"`
}

// Dashboard combines a wallet scan, its approval safety report, its score
// trend and its most recent scans. The health score is the lower of the
// contract and approval scores.
func (s *Scanner) Dashboard(ctx context.Context, wallet chain.Address) (*Dashboard, error) {
	res, err := s.Scan(ctx, wallet)
	if err != nil {
		return nil, err
	}
	safety, err := s.auditor.SafetyReport(ctx, wallet)
	if err != nil {
		return nil, err
	}
	trend, err := s.registry.Trend(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: trend: %v", ErrUnavailable, err)
	}
	recent, err := s.history.List(ctx, risk.Query{Address: wallet, Limit: 10})
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrUnavailable, err)
	}
	if recent == nil {
		recent = []*risk.ScanRecord{}
	}

	d := &Dashboard{
		Wallet:             wallet,
		HealthScore:        min(res.HealthScore, safety.SafetyScore),
		SecurityMetrics:    res.Breakdown,
		PendingWarnings:    res.PendingWarnings,
		ActionsRecommended: res.ActionsRecommended,
		ApprovalAudit: ApprovalAudit{
			SafetyScore:  safety.SafetyScore,
			CriticalRisk: safety.CriticalRisk,
			Dangerous:    safety.DangerousCount,
		},
		Trend:       trend,
		RecentScans: recent,
	}
	d.OverallStatus = status(d.HealthScore)
	d.ActionsRecommended = append(d.ActionsRecommended, safety.ActionItems...)
	if safety.DangerousCount > 0 {
		d.ApprovalAudit.Recommendation = fmt.Sprintf("revoke %d dangerous approvals", safety.DangerousCount)
	} else {
		d.ApprovalAudit.Recommendation = "approvals look safe"
	}
	return d, nil
}

// Profile is what connect_wallet returns.
type Profile struct {
	Wallet      chain.Address  `json:"wallet"`
	Entry       registry.Entry `json:"registry"`
	Trend       registry.Trend `json:"trend"`
	Approvals   int            `json:"active_approvals"`
	RecentScans int            `json:"recent_scans"`
}

// Connect tracks wallet so its trend feeds escalation, and returns its
// profile.
func (s *Scanner) Connect(ctx context.Context, wallet chain.Address) (*Profile, error) {
	entry, err := s.registry.Track(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: track: %v", ErrUnavailable, err)
	}
	trend, err := s.registry.Trend(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: trend: %v", ErrUnavailable, err)
	}
	approvals, err := s.auditor.Approvals(ctx, wallet)
	if err != nil {
		return nil, err
	}
	recent, err := s.history.List(ctx, risk.Query{Address: wallet, Limit: 10})
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrUnavailable, err)
	}
	return &Profile{Wallet: wallet, Entry: *entry, Trend: trend, Approvals: len(approvals), RecentScans: len(recent)}, nil
}

// Interactions pages through the scans where wallet was sender or
// recipient, newest first.
func (s *Scanner) Interactions(ctx context.Context, wallet chain.Address, cursor string, limit int) (pagination.Page[*risk.ScanRecord], error) {
	before, err := pagination.Decode(cursor)
	if err != nil {
		return pagination.Page[*risk.ScanRecord]{}, err
	}
	limit = pagination.Limit(limit)
	records, err := s.history.List(ctx, risk.Query{Address: wallet, BeforeID: before, Limit: limit + 1})
	if err != nil {
		return pagination.Page[*risk.ScanRecord]{}, fmt.Errorf("%w: history: %v", ErrUnavailable, err)
	}
	return pagination.ComputePage(records, limit, func(r *risk.ScanRecord) int64 { return r.ScanID }), nil
}
