package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/thresholds"
)

// contractHistory bounds how many past scans feed a contract profile.
const contractHistory = 500

// DApp is a watched contract and its latest risk profile.
type DApp struct {
	Address      chain.Address    `json:"address"`
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	RiskScore    int              `json:"risk_score"`
	RiskLevel    thresholds.Level `json:"risk"`
	RedFlags     int              `json:"red_flags"`
	AuditNeeded  bool             `json:"audit_needed"`
	Signatures   []string         `json:"signatures"`
	Precautions  []string         `json:"precautions"`
	RegisteredBy chain.Address    `json:"registered_by"`
	RegisteredAt time.Time        `json:"registered_at"`
	LastScanned  time.Time        `json:"last_scanned"`
}

// Safe reports whether the profile is below medium.
func (d *DApp) Safe() bool { return !d.RiskLevel.AtLeast(thresholds.Medium) }

// Recommendation is the one-line advice for interacting with the contract.
func (d *DApp) Recommendation() string {
	switch {
	case d.RiskLevel.AtLeast(thresholds.High):
		return "avoid interacting with this contract"
	case d.AuditNeeded:
		return "interact only after an independent audit"
	case d.RiskLevel == thresholds.Medium:
		return "interact with limited approvals and small amounts"
	}
	return "no known risks; standard precautions apply"
}

// Register watches a contract and computes its first profile. Registering
// an already watched address refreshes its name, type and profile.
func (a *Auditor) Register(ctx context.Context, addr chain.Address, name, kind string, by chain.Address) (*DApp, error) {
	name, kind = strings.TrimSpace(name), strings.ToLower(strings.TrimSpace(kind))
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDApp)
	}
	if addr.IsZero() {
		return nil, fmt.Errorf("%w: address must be non-zero", ErrInvalidDApp)
	}
	if kind == "" {
		kind = "unknown"
	}

	d := &DApp{Address: addr, Name: name, Type: kind, RegisteredBy: by, RegisteredAt: a.now().UTC()}
	if prev, err := a.dapps.Get(ctx, addr); err == nil {
		d.RegisteredBy, d.RegisteredAt = prev.RegisteredBy, prev.RegisteredAt
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := a.profile(ctx, d); err != nil {
		return nil, err
	}
	if err := a.dapps.Put(ctx, d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return d, nil
}

// DApp returns a watched contract's stored profile.
func (a *Auditor) DApp(ctx context.Context, addr chain.Address) (*DApp, error) {
	d, err := a.dapps.Get(ctx, addr)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return d, nil
}

// Rescan refreshes a watched contract's profile.
func (a *Auditor) Rescan(ctx context.Context, addr chain.Address) (*DApp, error) {
	d, err := a.DApp(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := a.profile(ctx, d); err != nil {
		return nil, err
	}
	if err := a.dapps.Put(ctx, d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return d, nil
}

// profile scores a contract from its registry status and every signature
// seen in scans that involved it.
func (a *Auditor) profile(ctx context.Context, d *DApp) error {
	records, err := a.history.List(ctx, risk.Query{Address: d.Address, Limit: contractHistory})
	if err != nil {
		return fmt.Errorf("%w: history: %v", ErrUnavailable, err)
	}
	weights := a.weights()
	seen := map[string]int{}
	for _, r := range records {
		for _, s := range r.Signatures {
			seen[s] = weights[s]
		}
	}
	raw := 0
	for _, w := range seen {
		raw += w
	}

	ev, err := a.lookup(ctx, d.Address)
	if err != nil {
		return err
	}
	b, level, err := a.score(ctx, raw, len(seen), ev)
	if err != nil {
		return err
	}

	d.Signatures = sortedKeys(seen)
	d.RiskScore = b.Final
	d.RiskLevel = level
	d.RedFlags = len(seen) + len(ev.blacklisted)
	if ev.rising {
		d.RedFlags++
	}
	d.AuditNeeded = seen[detector.SigOwnershipTakeover] > 0 || seen[detector.SigProxyUpgrade] > 0 ||
		(d.RedFlags > 0 && level.AtLeast(thresholds.Medium))
	d.Precautions = precautions(d, ev)
	d.LastScanned = a.now().UTC()
	return nil
}

func precautions(d *DApp, ev *evidence) []string {
	out := []string{}
	if len(ev.blacklisted) > 0 {
		out = append(out, "contract is blacklisted; do not send funds")
	}
	for _, s := range d.Signatures {
		switch s {
		case detector.SigInfiniteApproval, detector.SigApprovalForAll:
			out = append(out, "approve exact amounts only")
		case detector.SigFlashLoan, detector.SigSandwich:
			out = append(out, "set tight slippage limits")
		case detector.SigOwnershipTakeover, detector.SigProxyUpgrade:
			out = append(out, "verify the admin keys and upgrade timelock")
		}
	}
	if ev.rising {
		out = append(out, "risk is trending up; re-check before large interactions")
	}
	if len(out) == 0 {
		out = append(out, "verify the contract address from an official source")
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Analysis is the pre-interaction verdict for an arbitrary contract.
type Analysis struct {
	Address        chain.Address    `json:"address"`
	Watched        bool             `json:"watched"`
	RiskScore      int              `json:"risk_score"`
	RiskLevel      thresholds.Level `json:"risk_level"`
	RedFlags       int              `json:"red_flags"`
	AuditNeeded    bool             `json:"audit_needed"`
	SafeToInteract bool             `json:"safe_to_interact"`
	Precautions    []string         `json:"precautions"`
	Recommendation string           `json:"recommendation"`
}

// Analyze profiles a contract without watching it.
func (a *Auditor) Analyze(ctx context.Context, addr chain.Address) (*Analysis, error) {
	d := &DApp{Address: addr}
	watched := false
	if prev, err := a.dapps.Get(ctx, addr); err == nil {
		d, watched = prev, true
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := a.profile(ctx, d); err != nil {
		return nil, err
	}
	return &Analysis{
		Address:        addr,
		Watched:        watched,
		RiskScore:      d.RiskScore,
		RiskLevel:      d.RiskLevel,
		RedFlags:       d.RedFlags,
		AuditNeeded:    d.AuditNeeded,
		SafeToInteract: d.Safe() && !d.AuditNeeded,
		Precautions:    d.Precautions,
		Recommendation: d.Recommendation(),
	}, nil
}

// Alternatives returns watched contracts of the same type with a lower
// score, safest first.
func (a *Auditor) Alternatives(ctx context.Context, addr chain.Address) ([]*DApp, error) {
	d, err := a.DApp(ctx, addr)
	if err != nil {
		return nil, err
	}
	all, err := a.dapps.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := []*DApp{}
	for _, other := range all {
		if other.Address != d.Address && other.Type == d.Type && other.RiskScore < d.RiskScore {
			out = append(out, other)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore < out[j].RiskScore
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

// HealthStatus summarizes every watched contract.
type HealthStatus struct {
	TotalMonitored int     `json:"total_dapps_monitored"`
	Safe           int     `json:"safe_dapps"`
	HighRisk       int     `json:"high_risk_dapps"`
	RequireAudit   int     `json:"require_audit"`
	OverallSafety  string  `json:"overall_safety"`
	DApps          []*DApp `json:"dapp_list"`
}

// Health summarizes the stored profiles without rescanning.
func (a *Auditor) Health(ctx context.Context) (*HealthStatus, error) {
	all, err := a.dapps.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return summarize(all), nil
}

// Monitor rescans every watched contract and summarizes the result. All
// profiles are computed before any is stored, and they are stored together.
func (a *Auditor) Monitor(ctx context.Context) (*HealthStatus, error) {
	all, err := a.dapps.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, d := range all {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := a.profile(ctx, d); err != nil {
			return nil, err
		}
	}
	if err := a.dapps.PutAll(ctx, all); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return summarize(all), nil
}

func summarize(all []*DApp) *HealthStatus {
	h := &HealthStatus{TotalMonitored: len(all), DApps: all}
	if h.DApps == nil {
		h.DApps = []*DApp{}
	}
	for _, d := range all {
		switch {
		case d.RiskLevel.AtLeast(thresholds.High):
			h.HighRisk++
		case d.Safe():
			h.Safe++
		}
		if d.AuditNeeded {
			h.RequireAudit++
		}
	}
	switch {
	case h.HighRisk > 0:
		h.OverallSafety = "at_risk"
	case h.RequireAudit > 0 || h.Safe < h.TotalMonitored:
		h.OverallSafety = "caution"
	default:
		h.OverallSafety = "safe"
	}
	return h
}
