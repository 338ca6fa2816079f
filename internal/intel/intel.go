// Package intel derives read-side rollups from the scan history: window
// summaries, signature patterns, threat predictions and advisory output.
//
// Nothing here writes. Every rollup reports StatusInsufficientData instead of
// inventing patterns when the window holds fewer than MinScans records.
package intel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/thresholds"
)

var ErrUnavailable = errors.New("intel: source unavailable")

const (
	DefaultWindow   = 24 * time.Hour
	DefaultMinScans = 10
	// maxWindowScans bounds a single window read.
	maxWindowScans = 10_000
)

// Status tags every rollup.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusInsufficientData Status = "insufficient_data"
	StatusPredicted        Status = "predicted"
)

// History is the read side of the scan log.
type History interface {
	List(ctx context.Context, q risk.Query) ([]*risk.ScanRecord, error)
	Stats(ctx context.Context) (risk.Stats, error)
}

// Registry is the read side of the address registry.
type Registry interface {
	List(ctx context.Context, m registry.Membership) ([]*registry.Entry, error)
	Trend(ctx context.Context, addr chain.Address) (registry.Trend, error)
}

// Thresholds supplies the global set patterns are judged against.
type Thresholds interface {
	Global(ctx context.Context) (thresholds.Set, error)
}

// Aggregator computes rollups over a rolling window.
type Aggregator struct {
	history    History
	registry   Registry
	thresholds Thresholds
	window     time.Duration
	minScans   int
	now        func() time.Time
}

// New creates an Aggregator with the default 24h window.
func New(history History, reg Registry, th Thresholds) *Aggregator {
	return &Aggregator{
		history:    history,
		registry:   reg,
		thresholds: th,
		window:     DefaultWindow,
		minScans:   DefaultMinScans,
		now:        time.Now,
	}
}

// WithWindow sets the rolling window length.
func (a *Aggregator) WithWindow(d time.Duration) *Aggregator {
	if d > 0 {
		a.window = d
	}
	return a
}

// WithMinScans sets the sample count below which rollups report
// insufficient data.
func (a *Aggregator) WithMinScans(n int) *Aggregator {
	if n > 0 {
		a.minScans = n
	}
	return a
}

// WithClock replaces the time source.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Window returns the configured window length.
func (a *Aggregator) Window() time.Duration { return a.window }

// Breakdown counts scans per threat level.
type Breakdown struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	None     int `json:"none"`
	Total    int `json:"total"`
}

func (b *Breakdown) add(l thresholds.Level) {
	b.Total++
	switch l {
	case thresholds.Critical:
		b.Critical++
	case thresholds.High:
		b.High++
	case thresholds.Medium:
		b.Medium++
	case thresholds.Low:
		b.Low++
	default:
		b.None++
	}
}

// Threats is the number of high and critical scans.
func (b Breakdown) Threats() int { return b.Critical + b.High }

// Escalation is the share of tracked addresses whose score trend is rising.
type Escalation struct {
	Tracked int `json:"tracked_addresses"`
	Rising  int `json:"rising_addresses"`
	// Risk is Rising/Tracked scaled to 0..100.
	Risk int `json:"escalation_risk"`
}

// Summary is the threat summary for one window.
type Summary struct {
	Status        Status           `json:"status"`
	Window        string           `json:"window"`
	Since         time.Time        `json:"since"`
	ScansAnalyzed int              `json:"scans_analyzed"`
	Breakdown     Breakdown        `json:"breakdown"`
	ThreatLevel   thresholds.Level `json:"threat_level"`
	AverageScore  float64          `json:"average_risk_score"`
	Escalation    Escalation       `json:"escalation"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// Sufficient reports whether the window held enough scans to draw patterns.
func (s *Summary) Sufficient() bool { return s.Status != StatusInsufficientData }

// window is the raw material every rollup starts from.
type window struct {
	since   time.Time
	records []*risk.ScanRecord // newest first
	summary *Summary
}

func (a *Aggregator) load(ctx context.Context) (*window, error) {
	now := a.now().UTC()
	since := now.Add(-a.window)
	records, err := a.history.List(ctx, risk.Query{Since: since, Limit: maxWindowScans})
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrUnavailable, err)
	}
	esc, err := a.Escalation(ctx)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Status:        StatusCompleted,
		Window:        a.window.String(),
		Since:         since,
		ScansAnalyzed: len(records),
		ThreatLevel:   thresholds.None,
		Escalation:    esc,
		GeneratedAt:   now,
	}
	total := 0
	for _, r := range records {
		s.Breakdown.add(r.ThreatLevel)
		if r.ThreatLevel.Severity() > s.ThreatLevel.Severity() {
			s.ThreatLevel = r.ThreatLevel
		}
		total += r.RiskScore
	}
	if len(records) > 0 {
		s.AverageScore = round1(float64(total) / float64(len(records)))
	}
	if len(records) < a.minScans {
		s.Status = StatusInsufficientData
	}
	return &window{since: since, records: records, summary: s}, nil
}

// Summary returns the level breakdown, the window threat level (the most
// severe level observed) and the escalation risk.
func (a *Aggregator) Summary(ctx context.Context) (*Summary, error) {
	w, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	return w.summary, nil
}

// Escalation computes the rising share of tracked addresses.
func (a *Aggregator) Escalation(ctx context.Context) (Escalation, error) {
	tracked, err := a.registry.List(ctx, registry.Tracked)
	if err != nil {
		return Escalation{}, fmt.Errorf("%w: registry: %v", ErrUnavailable, err)
	}
	e := Escalation{Tracked: len(tracked)}
	for _, entry := range tracked {
		t, err := a.registry.Trend(ctx, entry.Address)
		if err != nil {
			return Escalation{}, fmt.Errorf("%w: trend: %v", ErrUnavailable, err)
		}
		if t.Direction == registry.Rising {
			e.Rising++
		}
	}
	if e.Tracked > 0 {
		e.Risk = e.Rising * 100 / e.Tracked
	}
	return e, nil
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
