// Package risk is the scoring engine. A scan combines exploit signatures,
// registry status and score history into a 0-100 risk score, classifies it,
// asks the policy engine for an action and appends an immutable ScanRecord.
package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/policy"
	"github.com/mbd888/securityguard/internal/thresholds"
)

var (
	ErrInvalidTransaction  = errors.New("risk: invalid transaction")
	ErrRegistryUnavailable = errors.New("risk: registry unavailable")
	ErrInvalidParams       = errors.New("risk: invalid scoring parameters")
	ErrScanNotFound        = errors.New("risk: scan not found")
)

// Scoring defaults.
const (
	DefaultDampingPct     = 50
	DefaultBlacklistFloor = 90
	DefaultTrendBonus     = 10
	DefaultTrendWindow    = 5
)

// Params are the tunable scoring constants.
type Params struct {
	// DampingPct scales the raw score of whitelisted counterparties.
	DampingPct     int `json:"damping_pct"`
	BlacklistFloor int `json:"blacklist_floor"`
	TrendBonus     int `json:"trend_bonus"`
	// TrendWindow is the number of recent samples compared against the
	// overall average.
	TrendWindow int `json:"trend_window"`
}

// DefaultParams returns the built-in constants.
func DefaultParams() Params {
	return Params{
		DampingPct:     DefaultDampingPct,
		BlacklistFloor: DefaultBlacklistFloor,
		TrendBonus:     DefaultTrendBonus,
		TrendWindow:    DefaultTrendWindow,
	}
}

// Validate rejects parameters that would break the scoring guarantees:
// damping must reduce without zeroing, and the floor must be a real score.
func (p Params) Validate() error {
	switch {
	case p.DampingPct < 1 || p.DampingPct > 99:
		return fmt.Errorf("%w: damping_pct must be within 1..99", ErrInvalidParams)
	case p.BlacklistFloor < 1 || p.BlacklistFloor > 100:
		return fmt.Errorf("%w: blacklist_floor must be within 1..100", ErrInvalidParams)
	case p.TrendBonus < 0 || p.TrendBonus > 50:
		return fmt.Errorf("%w: trend_bonus must be within 0..50", ErrInvalidParams)
	case p.TrendWindow < 1:
		return fmt.Errorf("%w: trend_window must be >= 1", ErrInvalidParams)
	}
	return nil
}

// Evidence is the input to Compose, shared by transaction scans and the
// approval/contract auditor.
type Evidence struct {
	Raw         int
	Blacklisted bool
	Whitelisted bool
	Rising      bool
}

// Breakdown records how Compose reached its score.
type Breakdown struct {
	Raw             int  `json:"raw"`
	Damped          int  `json:"damped"`
	TrendBonus      int  `json:"trend_bonus"`
	Final           int  `json:"final"`
	WhitelistDamped bool `json:"whitelist_damped"`
	BlacklistFloor  bool `json:"blacklist_floor"`
}

// Compose applies, in order: whitelist damping, trend bonus, clamp to
// 0..100, blacklist floor. The floor always wins over damping.
func (p Params) Compose(ev Evidence) Breakdown {
	b := Breakdown{Raw: ev.Raw, Damped: ev.Raw}

	if ev.Whitelisted && !ev.Blacklisted && ev.Raw > 0 {
		b.Damped = ev.Raw * p.DampingPct / 100
		if b.Damped < 1 {
			b.Damped = 1
		}
		b.WhitelistDamped = true
	}

	score := b.Damped
	if ev.Rising {
		b.TrendBonus = p.TrendBonus
		score += p.TrendBonus
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	if ev.Blacklisted && score < p.BlacklistFloor {
		score = p.BlacklistFloor
		b.BlacklistFloor = true
	}
	b.Final = score
	return b
}

// Status tags the kind of result a scan produced.
type Status string

const (
	StatusScanComplete Status = "scan_complete"
	StatusSimulated    Status = "simulated"
)

// ScanRecord is the immutable result of one scan.
type ScanRecord struct {
	ScanID          int64             `json:"scan_id"`
	Status          Status            `json:"status"`
	Timestamp       time.Time         `json:"timestamp"`
	From            chain.Address     `json:"from"`
	To              chain.Address     `json:"to"`
	Value           string            `json:"value"`
	Calldata        string            `json:"calldata"`
	GasUsed         uint64            `json:"gas_used"`
	RiskScore       int               `json:"risk_score"`
	ThreatLevel     thresholds.Level  `json:"threat_level"`
	Signatures      []string          `json:"signatures"`
	ActionTaken     policy.Action     `json:"action_taken"`
	Explanation     string            `json:"explanation"`
	SystemPaused    bool              `json:"system_paused"`
	PausedThisScan  bool              `json:"paused_this_scan"`
	Caller          chain.Address     `json:"caller,omitempty"`
	ThresholdSource thresholds.Source `json:"threshold_source"`
}

// IsThreat reports whether the scan classified high or worse.
func (r *ScanRecord) IsThreat() bool {
	return r.ThreatLevel.AtLeast(thresholds.High)
}

// Involves reports whether addr is the sender or recipient.
func (r *ScanRecord) Involves(addr chain.Address) bool {
	return r.From == addr || r.To == addr
}

// Counterparty returns the other side of the scan relative to addr.
func (r *ScanRecord) Counterparty(addr chain.Address) chain.Address {
	if r.From == addr {
		return r.To
	}
	return r.From
}

func (r *ScanRecord) clone() *ScanRecord {
	cp := *r
	cp.Signatures = append([]string(nil), r.Signatures...)
	return &cp
}
