// Package audit scores token approvals and watched contracts with the same
// primitives the transaction scanner uses: detector signatures, registry
// status and risk.Params composition.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/thresholds"
)

var (
	ErrInvalidApproval = errors.New("audit: invalid approval")
	ErrInvalidDApp     = errors.New("audit: invalid dapp")
	ErrNotFound        = errors.New("audit: not found")
	ErrUnavailable     = errors.New("audit: store unavailable")
)

// Registry is the part of the address registry the auditor reads.
type Registry interface {
	Get(ctx context.Context, addr chain.Address) (*registry.Entry, error)
	Samples(ctx context.Context, addr chain.Address) ([]registry.Sample, error)
}

// Thresholds supplies the global classification thresholds.
type Thresholds interface {
	Global(ctx context.Context) (thresholds.Set, error)
}

// History is the read side of the scan log.
type History interface {
	List(ctx context.Context, q risk.Query) ([]*risk.ScanRecord, error)
}

// Auditor scores approvals and contracts.
type Auditor struct {
	approvals  ApprovalStore
	dapps      DAppStore
	detector   *detector.Detector
	registry   Registry
	thresholds Thresholds
	history    History
	params     risk.Params
	now        func() time.Time
}

// New creates an Auditor.
func New(approvals ApprovalStore, dapps DAppStore, det *detector.Detector, reg Registry, th Thresholds, history History) *Auditor {
	return &Auditor{
		approvals:  approvals,
		dapps:      dapps,
		detector:   det,
		registry:   reg,
		thresholds: th,
		history:    history,
		params:     risk.DefaultParams(),
		now:        time.Now,
	}
}

// WithParams overrides the scoring constants.
func (a *Auditor) WithParams(p risk.Params) *Auditor {
	a.params = p
	return a
}

// WithClock replaces the time source.
func (a *Auditor) WithClock(now func() time.Time) *Auditor {
	a.now = now
	return a
}

// evidence is the registry side of a score.
type evidence struct {
	blacklisted []chain.Address
	whitelisted bool
	rising      bool
}

func (a *Auditor) lookup(ctx context.Context, addrs ...chain.Address) (*evidence, error) {
	ev := &evidence{}
	for _, addr := range addrs {
		e, err := a.registry.Get(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("%w: registry: %v", ErrUnavailable, err)
		}
		if e.Blacklisted {
			ev.blacklisted = append(ev.blacklisted, addr)
		}
		ev.whitelisted = ev.whitelisted || e.Whitelisted
		samples, err := a.registry.Samples(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("%w: registry: %v", ErrUnavailable, err)
		}
		ev.rising = ev.rising || registry.RecentAboveAverage(samples, a.params.TrendWindow)
	}
	return ev, nil
}

// score composes raw with the registry evidence and classifies it against
// the global thresholds.
func (a *Auditor) score(ctx context.Context, raw, signatures int, ev *evidence) (risk.Breakdown, thresholds.Level, error) {
	global, err := a.thresholds.Global(ctx)
	if err != nil {
		return risk.Breakdown{}, "", fmt.Errorf("%w: thresholds: %v", ErrUnavailable, err)
	}
	b := a.params.Compose(risk.Evidence{
		Raw:         a.detector.Config().Cap(raw, global.Critical),
		Blacklisted: len(ev.blacklisted) > 0,
		Whitelisted: ev.whitelisted,
		Rising:      ev.rising,
	})
	return b, global.Classify(b.Final, signatures), nil
}

// weights maps signature names to the detector's base weights.
func (a *Auditor) weights() map[string]int {
	out := map[string]int{}
	for _, r := range a.detector.Rules() {
		out[r.Name()] = r.Weight()
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
