package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/logging"
	"github.com/mbd888/securityguard/internal/metrics"
	"github.com/mbd888/securityguard/internal/policy"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/thresholds"
	"github.com/mbd888/securityguard/internal/traces"
)

// Registry is the part of the address registry the engine reads and
// appends samples to.
type Registry interface {
	Get(ctx context.Context, addr chain.Address) (*registry.Entry, error)
	Samples(ctx context.Context, addr chain.Address) ([]registry.Sample, error)
	RecordScore(ctx context.Context, addr chain.Address, score int, at time.Time) error
}

// Thresholds resolves the active thresholds.
type Thresholds interface {
	Resolve(ctx context.Context, user chain.Address) (thresholds.Resolution, error)
	Global(ctx context.Context) (thresholds.Set, error)
}

// Notifier receives persisted scans. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, rec *ScanRecord)
}

// ScanRequest is one scan call.
type ScanRequest struct {
	Tx detector.Transaction
	// Caller selects per-user thresholds; empty uses the global set.
	Caller chain.Address
	// Bypass requests an operator bypass while paused. The caller must
	// already be verified as an operator.
	Bypass bool
}

// Engine scores transactions.
type Engine struct {
	detector   *detector.Detector
	registry   Registry
	thresholds Thresholds
	policy     *policy.Engine
	history    History
	notifier   Notifier
	params     Params
	now        func() time.Time
}

// NewEngine wires a scoring engine. params must already be validated.
func NewEngine(det *detector.Detector, reg Registry, th Thresholds, pol *policy.Engine, history History) *Engine {
	return &Engine{
		detector:   det,
		registry:   reg,
		thresholds: th,
		policy:     pol,
		history:    history,
		params:     DefaultParams(),
		now:        time.Now,
	}
}

// WithParams overrides the scoring constants.
func (e *Engine) WithParams(p Params) *Engine {
	e.params = p
	return e
}

// WithNotifier attaches a sink for persisted scans.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Params returns the active scoring constants.
func (e *Engine) Params() Params { return e.params }

// Detector returns the signature detector.
func (e *Engine) Detector() *detector.Detector { return e.detector }

// History returns the scan log.
func (e *Engine) History() History { return e.history }

// evaluation is everything computed before the policy decision.
type evaluation struct {
	input       *detector.Input
	detection   *detector.Result
	breakdown   Breakdown
	from, to    *registry.Entry
	rising      []chain.Address
	resolution  thresholds.Resolution
	level       thresholds.Level
	globalLevel thresholds.Level
}

// Scan evaluates tx, decides an action and persists the ScanRecord.
// Nothing is written when an error is returned.
func (e *Engine) Scan(ctx context.Context, req ScanRequest) (*ScanRecord, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "risk.Scan",
		traces.Address("from", req.Tx.From), traces.Address("to", req.Tx.To))
	defer span.End()

	ev, err := e.evaluate(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The decision is previewed while building the record. A pending pause is
	// applied by the enforcer inside the history's unit of work, so a scan
	// that fails to persist never leaves the system paused.
	var in policy.Input
	rec, err := e.history.Commit(ctx, func(id int64) (*ScanRecord, error) {
		in = policy.Input{
			ScanID:      id,
			Level:       ev.level,
			GlobalLevel: ev.globalLevel,
			Score:       ev.breakdown.Final,
			Bypass:      req.Bypass,
		}
		decision, err := e.policy.Simulate(ctx, in)
		if err != nil {
			return nil, err
		}
		rec := e.record(req, ev, decision.Action, decision.Reason)
		rec.ScanID = id
		rec.Status = StatusScanComplete
		rec.SystemPaused = decision.SystemPaused
		rec.PausedThisScan = decision.PausedThisScan
		return rec, nil
	}, func(ctx context.Context, rec *ScanRecord) error {
		if rec.ActionTaken != policy.EmergencyPause || rec.PausedThisScan {
			return nil
		}
		decision, err := e.policy.Enforce(ctx, in, policy.Decision{Action: policy.EmergencyPause})
		if err != nil {
			return err
		}
		rec.ActionTaken = decision.Action
		rec.SystemPaused = decision.SystemPaused
		rec.PausedThisScan = decision.PausedThisScan
		rec.Explanation = ev.explain(decision.Action, decision.Reason)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("risk: persist scan: %w", err)
	}

	e.recordSamples(ctx, rec)

	span.SetAttributes(traces.ScanID(rec.ScanID), traces.RiskScore(rec.RiskScore), traces.ThreatLevel(string(rec.ThreatLevel)))
	metrics.ScanDuration.Observe(time.Since(start).Seconds())
	metrics.ScansTotal.WithLabelValues(string(rec.ThreatLevel), string(rec.ActionTaken)).Inc()
	for _, sig := range rec.Signatures {
		metrics.SignatureHitsTotal.WithLabelValues(sig).Inc()
	}
	if rec.PausedThisScan {
		metrics.SetPaused(true)
		if ev.globalLevel == thresholds.Critical {
			metrics.AutoPausesTotal.Inc()
		}
	}

	logging.L(ctx).Info("scan complete",
		"scan_id", rec.ScanID, "score", rec.RiskScore, "level", rec.ThreatLevel,
		"action", rec.ActionTaken, "signatures", len(rec.Signatures))

	if e.notifier != nil {
		e.notifier.Notify(ctx, rec)
	}
	return rec, nil
}

// recordSamples appends the final score to both counterparties' history.
// Samples are derived data, so a failure is logged rather than undoing the
// committed scan.
func (e *Engine) recordSamples(ctx context.Context, rec *ScanRecord) {
	addrs := []chain.Address{rec.From}
	if rec.To != rec.From {
		addrs = append(addrs, rec.To)
	}
	for _, a := range addrs {
		if err := e.registry.RecordScore(ctx, a, rec.RiskScore, rec.Timestamp); err != nil {
			logging.L(ctx).Warn("failed to record score sample", "scan_id", rec.ScanID, "address", a, "error", err)
		}
	}
}

// Simulation is a dry-run result. Nothing is persisted and no pause is
// triggered.
type Simulation struct {
	Status        Status           `json:"status"`
	RiskScore     int              `json:"risk_score"`
	ThreatLevel   thresholds.Level `json:"threat_level"`
	Signatures    []string         `json:"signatures"`
	Action        policy.Action    `json:"predicted_action"`
	WillSucceed   bool             `json:"will_succeed"`
	RisksDetected []string         `json:"risks_detected"`
	FrontRunRisk  bool             `json:"front_run_risk"`
	SlippageRisk  thresholds.Level `json:"slippage_risk"`
	SafeToExecute bool             `json:"safe_to_execute"`
	EstimatedGas  uint64           `json:"estimated_gas"`
	Explanation   string           `json:"explanation"`
}

// Simulate runs the scan pipeline without persisting or pausing.
func (e *Engine) Simulate(ctx context.Context, req ScanRequest) (*Simulation, error) {
	ev, err := e.evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	decision, err := e.policy.Simulate(ctx, policy.Input{
		Level:       ev.level,
		GlobalLevel: ev.globalLevel,
		Score:       ev.breakdown.Final,
		Bypass:      req.Bypass,
	})
	if err != nil {
		return nil, fmt.Errorf("risk: simulate: %w", err)
	}

	rec := e.record(req, ev, decision.Action, decision.Reason)
	sim := &Simulation{
		Status:        StatusSimulated,
		RiskScore:     rec.RiskScore,
		ThreatLevel:   rec.ThreatLevel,
		Signatures:    rec.Signatures,
		Action:        decision.Action,
		WillSucceed:   decision.Action != policy.Blocked && decision.Action != policy.EmergencyPause,
		RisksDetected: ev.risks(),
		FrontRunRisk:  ev.detection.Has(detector.SigSandwich),
		SlippageRisk:  slippageRisk(ev),
		EstimatedGas:  estimateGas(ev.input),
		Explanation:   rec.Explanation,
	}
	sim.SafeToExecute = sim.WillSucceed && !rec.ThreatLevel.AtLeast(thresholds.Medium)
	return sim, nil
}

func (e *Engine) evaluate(ctx context.Context, req ScanRequest) (*evaluation, error) {
	// Only malformed addresses fail; a bad value or calldata is scored as
	// absent and noted in the explanation.
	in, diag, err := detector.Parse(req.Tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	ev := &evaluation{input: in, detection: e.detector.Evaluate(in)}
	ev.detection.Diagnostic = diag

	if ev.from, err = e.registry.Get(ctx, in.From); err != nil {
		return nil, unavailable(err)
	}
	if ev.to, err = e.registry.Get(ctx, in.To); err != nil {
		return nil, unavailable(err)
	}

	for _, a := range uniq(in.From, in.To) {
		samples, err := e.registry.Samples(ctx, a)
		if err != nil {
			return nil, unavailable(err)
		}
		if registry.RecentAboveAverage(samples, e.params.TrendWindow) {
			ev.rising = append(ev.rising, a)
		}
	}

	if ev.resolution, err = e.thresholds.Resolve(ctx, req.Caller); err != nil {
		return nil, unavailable(err)
	}
	global, err := e.thresholds.Global(ctx)
	if err != nil {
		return nil, unavailable(err)
	}

	ev.breakdown = e.params.Compose(Evidence{
		Raw:         e.detector.Config().Cap(ev.detection.Score, global.Critical),
		Blacklisted: ev.from.Blacklisted || ev.to.Blacklisted,
		Whitelisted: ev.from.Whitelisted || ev.to.Whitelisted,
		Rising:      len(ev.rising) > 0,
	})

	sigs := len(ev.detection.Signatures)
	ev.level = ev.resolution.Set.Classify(ev.breakdown.Final, sigs)
	ev.globalLevel = global.Classify(ev.breakdown.Final, sigs)
	return ev, nil
}

func (e *Engine) record(req ScanRequest, ev *evaluation, action policy.Action, reason string) *ScanRecord {
	return &ScanRecord{
		Timestamp:       e.now().UTC(),
		From:            ev.input.From,
		To:              ev.input.To,
		Value:           chain.FormatAmount(ev.input.Value),
		Calldata:        req.Tx.Calldata,
		GasUsed:         req.Tx.GasUsed,
		RiskScore:       ev.breakdown.Final,
		ThreatLevel:     ev.level,
		Signatures:      append([]string{}, ev.detection.Signatures...),
		ActionTaken:     action,
		Explanation:     ev.explain(action, reason),
		Caller:          req.Caller,
		ThresholdSource: ev.resolution.Source,
	}
}

func (ev *evaluation) explain(action policy.Action, reason string) string {
	var parts []string
	if len(ev.detection.Matches) == 0 {
		parts = append(parts, "no exploit signatures matched")
	} else {
		names := make([]string, len(ev.detection.Matches))
		for i, m := range ev.detection.Matches {
			names[i] = fmt.Sprintf("%s (+%d)", m.Name, m.Weight)
		}
		parts = append(parts, "matched "+strings.Join(names, ", "))
		if ev.detection.Raw > ev.detection.Score {
			parts = append(parts, fmt.Sprintf("signature score capped at %d", ev.detection.Score))
		}
	}
	if ev.detection.Diagnostic != "" {
		parts = append(parts, "input partially parsed: "+ev.detection.Diagnostic)
	}
	b := ev.breakdown
	if b.WhitelistDamped {
		parts = append(parts, fmt.Sprintf("whitelisted counterparty damped %d to %d", b.Raw, b.Damped))
	}
	if b.TrendBonus > 0 {
		parts = append(parts, fmt.Sprintf("rising score trend +%d", b.TrendBonus))
	}
	if b.BlacklistFloor || ev.from.Blacklisted || ev.to.Blacklisted {
		parts = append(parts, "blacklisted counterparty")
	}
	parts = append(parts, fmt.Sprintf("score %d classified %s (%s thresholds)", b.Final, ev.level, ev.resolution.Source))
	parts = append(parts, fmt.Sprintf("action %s: %s", action, reason))
	return strings.Join(parts, "; ")
}

func (ev *evaluation) risks() []string {
	risks := append([]string{}, ev.detection.Signatures...)
	if ev.from.Blacklisted || ev.to.Blacklisted {
		risks = append(risks, "blacklisted_counterparty")
	}
	if len(ev.rising) > 0 {
		risks = append(risks, "rising_risk_trend")
	}
	return risks
}

func slippageRisk(ev *evaluation) thresholds.Level {
	switch {
	case ev.detection.Has(detector.SigSandwich):
		return thresholds.High
	case ev.detection.Has(detector.SigFlashLoan):
		return thresholds.Medium
	}
	return thresholds.Low
}

// estimateGas returns the observed gas, or the intrinsic cost of the call.
func estimateGas(in *detector.Input) uint64 {
	if in.GasUsed > 0 {
		return in.GasUsed
	}
	gas := uint64(21_000)
	for _, b := range in.Data {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	return gas
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
}

func uniq(a, b chain.Address) []chain.Address {
	if a == b {
		return []chain.Address{a}
	}
	return []chain.Address{a, b}
}
