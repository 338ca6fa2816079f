package intel

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/thresholds"
)

// Intelligence is the current threat picture.
type Intelligence struct {
	ThreatLevel     thresholds.Level `json:"threat_level"`
	ActiveThreats   []string         `json:"active_threats"`
	Recommendations []string         `json:"recommendations"`
	Summary         string           `json:"summary"`
	Status          Status           `json:"status"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Intelligence reports the window threat level and the signatures active in
// it.
func (a *Aggregator) Intelligence(ctx context.Context) (*Intelligence, error) {
	w, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	s := w.summary
	out := &Intelligence{
		ThreatLevel:     s.ThreatLevel,
		ActiveThreats:   []string{},
		Recommendations: []string{},
		Status:          s.Status,
		Timestamp:       s.GeneratedAt,
	}
	for _, sc := range countSignatures(w.records) {
		out.ActiveThreats = append(out.ActiveThreats, sc.Signature)
	}
	out.Recommendations = append(out.Recommendations, actionsFor(out.ActiveThreats)...)
	if s.Escalation.Risk >= 50 {
		out.Recommendations = append(out.Recommendations, "most tracked addresses are trending up; review them before the next pause")
	}
	out.Summary = fmt.Sprintf("%s threat level over the last %s: %d scans, %d critical, %d high",
		s.ThreatLevel, s.Window, s.ScansAnalyzed, s.Breakdown.Critical, s.Breakdown.High)
	return out, nil
}

// PredictedAttack is a signature family trending up across the window.
type PredictedAttack struct {
	Signature  string `json:"signature"`
	Earlier    int    `json:"earlier_count"`
	Recent     int    `json:"recent_count"`
	Likelihood int    `json:"likelihood"`
}

// Prediction is the proactive threat forecast.
type Prediction struct {
	Status            Status            `json:"status"`
	PredictedAttacks  []PredictedAttack `json:"predicted_attacks"`
	HighRiskPatterns  []string          `json:"high_risk_patterns"`
	EscalationRisk    int               `json:"escalation_risk"`
	PreventiveActions []string          `json:"preventive_actions"`
	Confidence        int               `json:"confidence"`
}

// Predict compares signature counts between the halves of the window and
// forecasts the families that grew.
func (a *Aggregator) Predict(ctx context.Context) (*Prediction, error) {
	w, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	p := &Prediction{
		Status:            StatusPredicted,
		PredictedAttacks:  []PredictedAttack{},
		HighRiskPatterns:  []string{},
		PreventiveActions: []string{},
		EscalationRisk:    w.summary.Escalation.Risk,
	}
	if !w.summary.Sufficient() {
		p.Status = StatusInsufficientData
		return p, nil
	}

	earlier, later := halves(w.records, w.since)
	for sig, recent := range later {
		if recent <= earlier[sig] {
			continue
		}
		p.PredictedAttacks = append(p.PredictedAttacks, PredictedAttack{
			Signature:  sig,
			Earlier:    earlier[sig],
			Recent:     recent,
			Likelihood: min(95, (recent-earlier[sig])*100/recent),
		})
	}
	sort.Slice(p.PredictedAttacks, func(i, j int) bool {
		if p.PredictedAttacks[i].Likelihood != p.PredictedAttacks[j].Likelihood {
			return p.PredictedAttacks[i].Likelihood > p.PredictedAttacks[j].Likelihood
		}
		return p.PredictedAttacks[i].Signature < p.PredictedAttacks[j].Signature
	})

	var predicted []string
	for _, pa := range p.PredictedAttacks {
		predicted = append(predicted, pa.Signature)
	}
	for _, sc := range countSignatures(w.records) {
		if sc.Count > 1 {
			p.HighRiskPatterns = append(p.HighRiskPatterns, sc.Signature)
		}
	}
	p.PreventiveActions = append(p.PreventiveActions, actionsFor(predicted)...)
	if p.EscalationRisk >= 50 {
		p.PreventiveActions = append(p.PreventiveActions, "lower the critical threshold while escalation risk stays high")
	}
	p.Confidence = confidence(w.summary.ScansAnalyzed)
	return p, nil
}

// confidence grows with sample size and never claims certainty.
func confidence(n int) int {
	return min(95, n*100/(n+2*DefaultMinScans))
}

// Recommendations is tiered advisory output.
type Recommendations struct {
	Status           Status   `json:"status"`
	ImmediateActions []string `json:"immediate_actions"`
	ShortTerm        []string `json:"short_term"`
	LongTerm         []string `json:"long_term"`
	OptimizationTips []string `json:"optimization_tips"`
	PriorityScore    int      `json:"priority_score"`
}

// Recommend turns the window summary and patterns into prioritized advice.
func (a *Aggregator) Recommend(ctx context.Context) (*Recommendations, error) {
	w, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	current, err := a.thresholds.Global(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: thresholds: %v", ErrUnavailable, err)
	}
	r := &Recommendations{
		Status:           StatusCompleted,
		ImmediateActions: []string{},
		ShortTerm:        []string{},
		LongTerm:         []string{},
		OptimizationTips: []string{},
	}
	if !w.summary.Sufficient() {
		r.Status = StatusInsufficientData
		r.LongTerm = append(r.LongTerm, "keep scanning; recommendations need more history")
		return r, nil
	}

	s := w.summary
	p := analyze(w, current)
	if s.Breakdown.Critical > 0 {
		r.ImmediateActions = append(r.ImmediateActions,
			fmt.Sprintf("investigate %d critical scans from the last %s", s.Breakdown.Critical, s.Window))
	}
	for _, o := range p.RepeatOffenders {
		r.ImmediateActions = append(r.ImmediateActions, fmt.Sprintf("review %s (%d threats)", o.Address, o.Threats))
	}
	r.ShortTerm = append(r.ShortTerm, actionsFor(p.CommonExploits)...)
	for _, e := range p.EmergingThreats {
		r.ShortTerm = append(r.ShortTerm, fmt.Sprintf("watch emerging signature %s", e))
	}
	if s.Escalation.Tracked == 0 {
		r.LongTerm = append(r.LongTerm, "track high-value counterparties so escalation can be measured")
	}
	if p.SystemHealth == HealthNeedsImprovement {
		r.LongTerm = append(r.LongTerm, "tighten blacklist coverage; the threat rate is persistently high")
	}
	r.OptimizationTips = append(r.OptimizationTips, p.OptimizationSuggestions...)
	if p.RecommendedThresholds != current {
		r.OptimizationTips = append(r.OptimizationTips, fmt.Sprintf("recommended thresholds %d/%d/%d",
			p.RecommendedThresholds.Critical, p.RecommendedThresholds.High, p.RecommendedThresholds.Medium))
	}

	r.PriorityScore = min(100, s.Breakdown.Critical*25+s.Breakdown.High*10+s.Escalation.Risk/2)
	return r, nil
}

var signatureActions = map[string]string{
	detector.SigInfiniteApproval:  "revoke unlimited token approvals and cap allowances",
	detector.SigFlashLoan:         "add flash-loan guards to price-sensitive contracts",
	detector.SigSandwich:          "use private transaction relays and tighter slippage limits",
	detector.SigOwnershipTakeover: "require multisig for ownership changes",
	detector.SigProxyUpgrade:      "timelock proxy upgrades",
	detector.SigHighValue:         "require a second approval for high-value transfers",
	detector.SigZeroRecipient:     "reject transfers to the zero address client-side",
	detector.SigApprovalForAll:    "revoke operator approvals on NFT collections",
}

func actionsFor(signatures []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range signatures {
		act, ok := signatureActions[s]
		if !ok {
			act = "review recent matches of " + s
		}
		if !seen[act] {
			seen[act] = true
			out = append(out, act)
		}
	}
	return out
}
