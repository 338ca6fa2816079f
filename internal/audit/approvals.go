package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/thresholds"
)

// Approval is one recorded token approval. Later approvals for the same
// (wallet, token, spender) supersede earlier ones; earlier rows stay in the
// trail.
type Approval struct {
	ID         int64            `json:"id"`
	Wallet     chain.Address    `json:"wallet"`
	Token      chain.Address    `json:"token"`
	Spender    chain.Address    `json:"spender"`
	Amount     string           `json:"amount"`
	IsInfinite bool             `json:"is_infinite"`
	RiskScore  int              `json:"risk_score"`
	RiskLevel  thresholds.Level `json:"risk_level"`
	Signatures []string         `json:"signatures"`
	ApprovedAt time.Time        `json:"approved_at"`
}

// Dangerous reports whether the approval needs attention. Infinite
// approvals always do.
func (a *Approval) Dangerous() bool {
	return a.IsInfinite || a.RiskLevel.AtLeast(thresholds.High)
}

// TrackApproval scores and records an approval of amount (decimal, hex or
// "infinite") from wallet to spender on token.
func (a *Auditor) TrackApproval(ctx context.Context, wallet, token, spender chain.Address, amount string) (*Approval, error) {
	v, err := chain.ParseAmount(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidApproval, err)
	}
	if token.IsZero() || spender.IsZero() {
		return nil, fmt.Errorf("%w: token and spender must be non-zero", ErrInvalidApproval)
	}

	// Score the approve call the wallet would send.
	res, err := a.detector.Detect(detector.Transaction{
		From:     string(wallet),
		To:       string(token),
		Calldata: chain.PackCall("approve(address,uint256)", spender.Word(), chain.AmountWord(v)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidApproval, err)
	}
	ev, err := a.lookup(ctx, token, spender)
	if err != nil {
		return nil, err
	}
	b, level, err := a.score(ctx, res.Score, len(res.Signatures), ev)
	if err != nil {
		return nil, err
	}

	ap := &Approval{
		Wallet:     wallet,
		Token:      token,
		Spender:    spender,
		Amount:     chain.FormatAmount(v),
		IsInfinite: chain.IsMaxUint(v),
		RiskScore:  b.Final,
		RiskLevel:  level,
		Signatures: res.Signatures,
		ApprovedAt: a.now().UTC(),
	}
	if ap.IsInfinite && !ap.RiskLevel.AtLeast(thresholds.High) {
		ap.RiskLevel = thresholds.High
	}
	if err := a.approvals.AppendApproval(ctx, ap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ap, nil
}

// Approvals returns the wallet's current approvals, one per (token, spender).
func (a *Auditor) Approvals(ctx context.Context, wallet chain.Address) ([]*Approval, error) {
	current, err := a.approvals.Current(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return current, nil
}

// ApprovalTrail returns every approval the wallet ever made, oldest first.
func (a *Auditor) ApprovalTrail(ctx context.Context, wallet chain.Address) ([]*Approval, error) {
	trail, err := a.approvals.Trail(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return trail, nil
}

// DangerReport lists a wallet's dangerous current approvals.
type DangerReport struct {
	Wallet                  chain.Address `json:"wallet"`
	TotalApprovals          int           `json:"total_approvals"`
	DangerousApprovalsFound int           `json:"dangerous_approvals_found"`
	DangerousDetails        []*Approval   `json:"dangerous_details"`
	Recommendation          string        `json:"recommendation"`
}

// CheckDangerous reports the wallet's current approvals that are infinite or
// classified high or worse.
func (a *Auditor) CheckDangerous(ctx context.Context, wallet chain.Address) (*DangerReport, error) {
	current, err := a.Approvals(ctx, wallet)
	if err != nil {
		return nil, err
	}
	r := &DangerReport{Wallet: wallet, TotalApprovals: len(current), DangerousDetails: []*Approval{}}
	for _, ap := range current {
		if ap.Dangerous() {
			r.DangerousDetails = append(r.DangerousDetails, ap)
		}
	}
	r.DangerousApprovalsFound = len(r.DangerousDetails)
	if r.DangerousApprovalsFound > 0 {
		r.Recommendation = fmt.Sprintf("revoke or cap %d dangerous approvals", r.DangerousApprovalsFound)
	} else {
		r.Recommendation = "no dangerous approvals"
	}
	return r, nil
}

// SafetyReport is the approval audit for one wallet.
type SafetyReport struct {
	Wallet            chain.Address `json:"wallet"`
	SafetyScore       int           `json:"safety_score"`
	OverallSafety     string        `json:"overall_safety"`
	TotalApprovals    int           `json:"total_approvals"`
	InfiniteApprovals int           `json:"infinite_approvals"`
	DangerousCount    int           `json:"dangerous_approvals"`
	CriticalRisk      int           `json:"critical_risk"`
	TrailLength       int           `json:"trail_length"`
	ActionItems       []string      `json:"action_items"`
}

// SafetyReport grades the wallet's current approvals. The score starts at
// 100 and loses points per risky approval.
func (a *Auditor) SafetyReport(ctx context.Context, wallet chain.Address) (*SafetyReport, error) {
	current, err := a.Approvals(ctx, wallet)
	if err != nil {
		return nil, err
	}
	trail, err := a.ApprovalTrail(ctx, wallet)
	if err != nil {
		return nil, err
	}

	r := &SafetyReport{Wallet: wallet, TotalApprovals: len(current), TrailLength: len(trail), ActionItems: []string{}}
	score := 100
	for _, ap := range current {
		switch {
		case ap.RiskLevel == thresholds.Critical:
			r.CriticalRisk++
			score -= 30
		case ap.IsInfinite:
			score -= 20
		case ap.RiskLevel == thresholds.High:
			score -= 15
		case ap.RiskLevel == thresholds.Medium:
			score -= 5
		}
		if ap.IsInfinite {
			r.InfiniteApprovals++
		}
		if ap.Dangerous() {
			r.DangerousCount++
			r.ActionItems = append(r.ActionItems, fmt.Sprintf("revoke %s approval of %s to %s", ap.RiskLevel, ap.Token, ap.Spender))
		}
	}
	r.SafetyScore = max(0, score)
	switch {
	case r.SafetyScore >= 80:
		r.OverallSafety = "safe"
	case r.SafetyScore >= 50:
		r.OverallSafety = "caution"
	default:
		r.OverallSafety = "at_risk"
	}
	return r, nil
}
