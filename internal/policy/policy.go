// Package policy decides what to do with a scored transaction: allow it,
// flag it, block it, or trigger an emergency pause.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/securityguard/internal/logging"
	"github.com/mbd888/securityguard/internal/sysstate"
	"github.com/mbd888/securityguard/internal/thresholds"
)

// Action is the outcome recorded on a scan.
type Action string

const (
	Allowed        Action = "allowed"
	Flagged        Action = "flagged"
	Blocked        Action = "blocked"
	EmergencyPause Action = "emergency_pause"
	Bypassed       Action = "bypassed"
)

// Input is everything a decision depends on apart from system state.
type Input struct {
	ScanID int64
	// Level is classified against the caller's resolved thresholds.
	Level thresholds.Level
	// GlobalLevel is classified against the global thresholds and alone
	// governs auto-pause.
	GlobalLevel thresholds.Level
	Score       int
	// Bypass is an operator's privileged scan while paused. Callers verify
	// the operator before setting it.
	Bypass bool
}

// Decision is the chosen action and why.
type Decision struct {
	Action         Action               `json:"action"`
	Rule           string               `json:"rule"`
	Reason         string               `json:"reason"`
	SystemPaused   bool                 `json:"system_paused"`
	PausedThisScan bool                 `json:"paused_this_scan"`
	Transition     *sysstate.Transition `json:"transition,omitempty"`
}

// StateMachine is the part of sysstate the engine drives.
type StateMachine interface {
	Snapshot(ctx context.Context) (*sysstate.Snapshot, error)
	AutoPause(ctx context.Context, scanID int64, reason string) (*sysstate.Transition, error)
}

// Engine applies the action rules in precedence order; first match wins.
type Engine struct {
	state     StateMachine
	autoPause bool
}

// NewEngine creates a policy engine.
func NewEngine(state StateMachine, autoPause bool) *Engine {
	return &Engine{state: state, autoPause: autoPause}
}

// AutoPauseEnabled reports the configured auto-pause mode.
func (e *Engine) AutoPauseEnabled() bool { return e.autoPause }

// PauseReason is the reason recorded for an automated pause.
func PauseReason(scanID int64) string {
	return fmt.Sprintf("auto-pause: critical threat on scan #%d", scanID)
}

// Decide picks the action for in and applies it. Only the auto-pause rule
// mutates state, and it does so at most once per scan id.
func (e *Engine) Decide(ctx context.Context, in Input) (*Decision, error) {
	d, err := e.Simulate(ctx, in)
	if err != nil {
		return nil, err
	}
	return e.Enforce(ctx, in, d)
}

// Pending reports whether d still needs the pause transition applied.
func (d Decision) Pending() bool {
	return d.Action == EmergencyPause && !d.PausedThisScan
}

// Enforce applies a previewed decision. Anything but a pending pause is
// returned unchanged. Callers that persist a scan run Enforce inside the
// same unit of work as the record write.
func (e *Engine) Enforce(ctx context.Context, in Input, d Decision) (*Decision, error) {
	if !d.Pending() {
		return &d, nil
	}

	t, err := e.state.AutoPause(ctx, in.ScanID, PauseReason(in.ScanID))
	switch {
	case err == nil:
		logging.L(ctx).Warn("emergency pause triggered", "scan_id", in.ScanID, "score", in.Score)
		return &Decision{
			Action:         EmergencyPause,
			Rule:           "auto_pause",
			Reason:         t.Reason,
			SystemPaused:   true,
			PausedThisScan: true,
			Transition:     t,
		}, nil
	case errors.Is(err, sysstate.ErrScanReplayed):
		snap, err := e.state.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("policy: load state: %w", err)
		}
		return &Decision{
			Action:         EmergencyPause,
			Rule:           "replay",
			Reason:         "scan already triggered an emergency pause",
			SystemPaused:   snap.Paused(),
			PausedThisScan: true,
		}, nil
	case errors.Is(err, sysstate.ErrInvalidState):
		// Another scan paused the system between snapshot and transition.
		return &Decision{Action: Blocked, Rule: "paused", Reason: "system paused", SystemPaused: true}, nil
	}
	return nil, fmt.Errorf("policy: auto-pause: %w", err)
}

// Simulate previews in against the current state.
func (e *Engine) Simulate(ctx context.Context, in Input) (Decision, error) {
	snap, err := e.state.Snapshot(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("policy: load state: %w", err)
	}
	return e.Preview(snap, in), nil
}

// Preview evaluates the rules against snap without side effects. A result
// of EmergencyPause with PausedThisScan unset means Decide would pause.
func (e *Engine) Preview(snap *sysstate.Snapshot, in Input) Decision {
	paused := snap.Paused()

	if paused && in.ScanID > 0 && snap.PausedByScan == in.ScanID {
		return Decision{Action: EmergencyPause, Rule: "replay", Reason: "scan already triggered an emergency pause", SystemPaused: true, PausedThisScan: true}
	}

	switch {
	case paused && in.Bypass:
		return Decision{Action: Bypassed, Rule: "paused", Reason: "operator bypass while paused", SystemPaused: true}
	case paused:
		return Decision{Action: Blocked, Rule: "paused", Reason: "system paused", SystemPaused: true}
	case in.GlobalLevel == thresholds.Critical && e.autoPause:
		return Decision{Action: EmergencyPause, Rule: "auto_pause", Reason: "critical threat under global thresholds"}
	case in.Level.AtLeast(thresholds.High):
		return Decision{Action: Flagged, Rule: "elevated", Reason: fmt.Sprintf("%s threat level", in.Level)}
	}
	return Decision{Action: Allowed, Rule: "default", Reason: "below flag threshold"}
}
