package intel

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/thresholds"
)

// SignatureCount is how often a signature matched in the window.
type SignatureCount struct {
	Signature string `json:"signature"`
	Count     int    `json:"count"`
}

// Offender is an address involved in more than one threat.
type Offender struct {
	Address chain.Address `json:"address"`
	Threats int           `json:"threats"`
}

// Rate is a coarse low/medium/high rating.
type Rate string

const (
	RateLow    Rate = "low"
	RateMedium Rate = "medium"
	RateHigh   Rate = "high"
)

// Health grades the window's threat rate.
type Health string

const (
	HealthExcellent        Health = "excellent"
	HealthGood             Health = "good"
	HealthNeedsImprovement Health = "needs_improvement"
)

// Patterns is the signature-level analysis of a window.
type Patterns struct {
	Status                  Status           `json:"status"`
	ScansAnalyzed           int              `json:"scans_analyzed"`
	Signatures              []SignatureCount `json:"signature_counts"`
	CommonExploits          []string         `json:"common_exploits"`
	MostCommon              string           `json:"most_common_signature,omitempty"`
	RepeatOffenders         []Offender       `json:"repeat_offenders"`
	AverageScore            float64          `json:"average_risk_score"`
	FalsePositiveRate       Rate             `json:"false_positive_rate"`
	RecommendedThresholds   thresholds.Set   `json:"recommended_thresholds"`
	CurrentThresholds       thresholds.Set   `json:"current_thresholds"`
	EmergingThreats         []string         `json:"emerging_threats"`
	OptimizationSuggestions []string         `json:"optimization_suggestions"`
	SystemHealth            Health           `json:"system_health"`
	Summary                 string           `json:"summary"`
}

// Patterns analyzes signature frequencies, repeat offenders and threshold
// fit over the window.
func (a *Aggregator) Patterns(ctx context.Context) (*Patterns, error) {
	w, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	current, err := a.thresholds.Global(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: thresholds: %v", ErrUnavailable, err)
	}
	return analyze(w, current), nil
}

func analyze(w *window, current thresholds.Set) *Patterns {
	p := &Patterns{
		Status:                  w.summary.Status,
		ScansAnalyzed:           w.summary.ScansAnalyzed,
		AverageScore:            w.summary.AverageScore,
		CurrentThresholds:       current,
		RecommendedThresholds:   current,
		Signatures:              []SignatureCount{},
		CommonExploits:          []string{},
		RepeatOffenders:         []Offender{},
		EmergingThreats:         []string{},
		OptimizationSuggestions: []string{},
		FalsePositiveRate:       RateLow,
		SystemHealth:            HealthExcellent,
	}
	if !w.summary.Sufficient() {
		p.Summary = fmt.Sprintf("%d scans in the last %s; at least %d are needed for pattern analysis",
			p.ScansAnalyzed, w.summary.Window, DefaultMinScans)
		return p
	}

	p.Signatures = countSignatures(w.records)
	for _, sc := range p.Signatures {
		p.CommonExploits = append(p.CommonExploits, sc.Signature)
	}
	if len(p.Signatures) > 0 {
		p.MostCommon = p.Signatures[0].Signature
	}
	p.RepeatOffenders = repeatOffenders(w.records)
	p.EmergingThreats = emerging(w.records, w.since)

	// Signals that matched but stayed below medium are what an operator
	// would see as noise.
	var signalled, quiet int
	for _, r := range w.records {
		if len(r.Signatures) == 0 {
			continue
		}
		signalled++
		if r.RiskScore < current.Medium {
			quiet++
		}
	}
	if signalled > 0 {
		switch pct := quiet * 100 / signalled; {
		case pct > 30:
			p.FalsePositiveRate = RateHigh
		case pct > 10:
			p.FalsePositiveRate = RateMedium
		}
	}
	if p.FalsePositiveRate == RateHigh {
		p.RecommendedThresholds = raise(current, 5)
		p.OptimizationSuggestions = append(p.OptimizationSuggestions,
			"many signature matches stay below medium; consider whitelisting known counterparties or raising thresholds")
	}

	threatPct := w.summary.Breakdown.Threats() * 100 / w.summary.ScansAnalyzed
	switch {
	case threatPct >= 25:
		p.SystemHealth = HealthNeedsImprovement
		p.OptimizationSuggestions = append(p.OptimizationSuggestions,
			"threat rate is above 25%; review blacklist coverage and enable auto-pause")
	case threatPct >= 5:
		p.SystemHealth = HealthGood
	}
	if len(p.RepeatOffenders) > 0 {
		p.OptimizationSuggestions = append(p.OptimizationSuggestions,
			fmt.Sprintf("%d addresses appear in repeated threats; consider blacklisting them", len(p.RepeatOffenders)))
	}

	p.Summary = fmt.Sprintf("%d scans analyzed, %d threats, %d distinct signatures",
		p.ScansAnalyzed, w.summary.Breakdown.Threats(), len(p.Signatures))
	if p.MostCommon != "" {
		p.Summary += ", most common " + p.MostCommon
	}
	return p
}

// countSignatures returns signature counts, most frequent first.
func countSignatures(records []*risk.ScanRecord) []SignatureCount {
	counts := map[string]int{}
	for _, r := range records {
		for _, s := range r.Signatures {
			counts[s]++
		}
	}
	out := make([]SignatureCount, 0, len(counts))
	for s, n := range counts {
		out = append(out, SignatureCount{Signature: s, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

func repeatOffenders(records []*risk.ScanRecord) []Offender {
	counts := map[chain.Address]int{}
	for _, r := range records {
		if !r.IsThreat() {
			continue
		}
		counts[r.From]++
		if r.To != r.From {
			counts[r.To]++
		}
	}
	out := []Offender{}
	for addr, n := range counts {
		if n > 1 {
			out = append(out, Offender{Address: addr, Threats: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Threats != out[j].Threats {
			return out[i].Threats > out[j].Threats
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// halves splits the window at its midpoint into earlier and later counts
// per signature.
func halves(records []*risk.ScanRecord, since time.Time) (earlier, later map[string]int) {
	earlier, later = map[string]int{}, map[string]int{}
	var end time.Time
	if len(records) > 0 {
		end = records[0].Timestamp
	}
	mid := since.Add(end.Sub(since) / 2)
	for _, r := range records {
		bucket := later
		if r.Timestamp.Before(mid) {
			bucket = earlier
		}
		for _, s := range r.Signatures {
			bucket[s]++
		}
	}
	return earlier, later
}

// emerging lists signatures seen only in the later half of the window.
func emerging(records []*risk.ScanRecord, since time.Time) []string {
	earlier, later := halves(records, since)
	out := []string{}
	for s := range later {
		if earlier[s] == 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func raise(s thresholds.Set, by int) thresholds.Set {
	r := thresholds.Set{Critical: min(100, s.Critical+by), High: s.High + by, Medium: s.Medium + by}
	if r.Validate() != nil {
		return s
	}
	return r
}
