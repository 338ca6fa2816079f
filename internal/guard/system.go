package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/intel"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/sysstate"
	"github.com/mbd888/securityguard/internal/thresholds"
)

// Statistics are the running totals in a status report.
type Statistics struct {
	TotalScans   int64 `json:"total_scans"`
	TotalThreats int64 `json:"total_threats"`
	TotalPauses  int64 `json:"total_pauses"`
}

// Status is the result of get_system_status.
type Status struct {
	State             sysstate.State  `json:"state"`
	Paused            bool            `json:"paused"`
	PauseReason       string          `json:"pause_reason,omitempty"`
	PausedAt          *time.Time      `json:"paused_at,omitempty"`
	Owner             chain.Address   `json:"owner"`
	OperatorCount     int             `json:"operator_count"`
	Thresholds        thresholds.Set  `json:"thresholds"`
	Registry          registry.Counts `json:"registry"`
	Statistics        Statistics      `json:"statistics"`
	MonitoringEnabled bool            `json:"monitoring_enabled"`
	AutoPause         bool            `json:"auto_pause"`
	Timestamp         time.Time       `json:"timestamp"`
}

// Status gathers the system status.
func (g *Guard) Status(ctx context.Context) (*Status, error) {
	snap, err := g.deps.State.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	global, err := g.deps.Thresholds.Global(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := g.deps.Registry.Counts(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := g.deps.Engine.History().Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", risk.ErrRegistryUnavailable, err)
	}
	return &Status{
		State:         snap.State,
		Paused:        snap.Paused(),
		PauseReason:   snap.PauseReason,
		PausedAt:      snap.PausedAt,
		Owner:         g.deps.State.Owner(),
		OperatorCount: counts.Operators,
		Thresholds:    global,
		Registry:      counts,
		Statistics: Statistics{
			TotalScans:   stats.TotalScans,
			TotalThreats: stats.TotalThreats,
			TotalPauses:  snap.TotalPauses,
		},
		MonitoringEnabled: !snap.Paused(),
		AutoPause:         g.deps.AutoPause,
		Timestamp:         g.now().UTC(),
	}, nil
}

func (g *Guard) systemStatus(ctx context.Context, _ none) (any, error) {
	return g.Status(ctx)
}

// Dashboard is the result of get_system_dashboard.
type Dashboard struct {
	Status         *Status              `json:"status"`
	RecentScans    []*risk.ScanRecord   `json:"recent_scans"`
	ThreatSummary  *intel.Summary       `json:"threat_summary"`
	LastTransition *sysstate.Transition `json:"last_transition,omitempty"`
}

func (g *Guard) systemDashboard(ctx context.Context, _ none) (any, error) {
	status, err := g.Status(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := g.deps.Engine.History().List(ctx, risk.Query{Limit: 10})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", risk.ErrRegistryUnavailable, err)
	}
	if recent == nil {
		recent = []*risk.ScanRecord{}
	}
	summary, err := g.deps.Intel.Summary(ctx)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{Status: status, RecentScans: recent, ThreatSummary: summary}
	transitions, err := g.deps.State.History(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(transitions) > 0 {
		d.LastTransition = &transitions[len(transitions)-1]
	}
	return d, nil
}

func (g *Guard) healthCheck(ctx context.Context, _ none) (any, error) {
	status, err := g.Status(ctx)
	if err != nil {
		return nil, err
	}
	hook, err := g.deps.Webhooks.Get(ctx)
	if err != nil {
		return nil, err
	}
	return intel.Assess(intel.HealthFacts{
		Paused:            status.Paused,
		Operators:         status.OperatorCount,
		WebhookConfigured: hook.Configured(),
		WebhookEnabled:    hook.Enabled,
		DefaultThresholds: status.Thresholds == g.deps.Thresholds.Defaults(),
		AutoPause:         g.deps.AutoPause,
		TrackedAddresses:  status.Registry.Tracked,
		TotalScans:        status.Statistics.TotalScans,
	}), nil
}
