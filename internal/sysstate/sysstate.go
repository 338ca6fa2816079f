// Package sysstate is the paused/active state machine that gates the
// engine. Transitions are serialized and every one is appended to an
// append-only history.
package sysstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/logging"
)

var (
	ErrInvalidState  = errors.New("sysstate: invalid state transition")
	ErrInvalidReason = errors.New("sysstate: reason is required")
	ErrUnauthorized  = errors.New("sysstate: unauthorized")
	// ErrScanReplayed means the scan already triggered an automated pause.
	ErrScanReplayed = errors.New("sysstate: scan already triggered a pause")
)

// State is the system mode.
type State string

const (
	Active State = "active"
	Paused State = "paused"
)

// AutomatedActor is recorded as the actor of engine-triggered pauses.
const AutomatedActor = "system:auto-pause"

// Transition is one history entry.
type Transition struct {
	Seq       int64     `json:"seq"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Automated bool      `json:"automated"`
	ScanID    int64     `json:"scan_id,omitempty"`
	At        time.Time `json:"timestamp"`
}

// Snapshot is the current state as stored.
type Snapshot struct {
	State               State      `json:"state"`
	PauseReason         string     `json:"pause_reason,omitempty"`
	ResumeJustification string     `json:"resume_justification,omitempty"`
	PausedAt            *time.Time `json:"paused_at,omitempty"`
	PausedByScan        int64      `json:"paused_by_scan,omitempty"`
	TotalPauses         int64      `json:"total_pauses"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Paused reports whether the system is paused.
func (s *Snapshot) Paused() bool { return s.State == Paused }

// apply returns the snapshot after t.
func (s Snapshot) apply(t *Transition) Snapshot {
	s.State = t.To
	s.UpdatedAt = t.At
	if t.To == Paused {
		at := t.At
		s.PausedAt = &at
		s.PauseReason = t.Reason
		s.PausedByScan = t.ScanID
		s.ResumeJustification = ""
		s.TotalPauses++
	} else {
		s.ResumeJustification = t.Reason
		s.PausedByScan = 0
	}
	return s
}

// OperatorChecker answers whether an address holds operator rights.
type OperatorChecker interface {
	IsOperator(ctx context.Context, addr chain.Address) (bool, error)
}

// Machine drives transitions.
type Machine struct {
	store     Store
	owner     chain.Address
	operators OperatorChecker
	now       func() time.Time
}

// New creates a state machine. owner may always transition.
func New(store Store, owner chain.Address, operators OperatorChecker) *Machine {
	return &Machine{store: store, owner: owner, operators: operators, now: time.Now}
}

// WithClock replaces the time source.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Owner returns the configured owner.
func (m *Machine) Owner() chain.Address { return m.owner }

// Authorized reports whether actor is the owner or an operator.
func (m *Machine) Authorized(ctx context.Context, actor chain.Address) (bool, error) {
	if actor == "" {
		return false, nil
	}
	if actor == m.owner {
		return true, nil
	}
	if m.operators == nil {
		return false, nil
	}
	return m.operators.IsOperator(ctx, actor)
}

// Pause moves Active to Paused on behalf of an owner or operator.
func (m *Machine) Pause(ctx context.Context, actor chain.Address, reason string) (*Transition, error) {
	if err := m.authorize(ctx, actor); err != nil {
		return nil, err
	}
	return m.transition(ctx, Transition{Actor: string(actor), Reason: reason, To: Paused})
}

// Resume moves Paused to Active on behalf of an owner or operator.
func (m *Machine) Resume(ctx context.Context, actor chain.Address, justification string) (*Transition, error) {
	if err := m.authorize(ctx, actor); err != nil {
		return nil, err
	}
	return m.transition(ctx, Transition{Actor: string(actor), Reason: justification, To: Active})
}

// AutoPause is the automated trigger used by the policy engine.
func (m *Machine) AutoPause(ctx context.Context, scanID int64, reason string) (*Transition, error) {
	return m.transition(ctx, Transition{Actor: AutomatedActor, Reason: reason, To: Paused, Automated: true, ScanID: scanID})
}

func (m *Machine) authorize(ctx context.Context, actor chain.Address) error {
	ok, err := m.Authorized(ctx, actor)
	if err != nil {
		return fmt.Errorf("sysstate: authorize: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (m *Machine) transition(ctx context.Context, t Transition) (*Transition, error) {
	t.Reason = strings.TrimSpace(t.Reason)
	if t.Reason == "" {
		return nil, ErrInvalidReason
	}

	var applied *Transition
	_, err := m.store.Transition(ctx, func(cur Snapshot) (*Transition, error) {
		if cur.State == t.To {
			return nil, fmt.Errorf("%w: already %s", ErrInvalidState, cur.State)
		}
		next := t
		next.From = cur.State
		next.At = m.now()
		applied = &next
		return applied, nil
	})
	if err != nil {
		return nil, err
	}

	log := logging.L(ctx)
	if t.To == Paused {
		log.Warn("system paused", "actor", t.Actor, "reason", t.Reason, "automated", t.Automated, "scan_id", t.ScanID)
	} else {
		log.Info("system resumed", "actor", t.Actor, "justification", t.Reason)
	}
	return applied, nil
}

// Snapshot returns the current state.
func (m *Machine) Snapshot(ctx context.Context) (*Snapshot, error) {
	return m.store.Load(ctx)
}

// History returns up to limit transitions, oldest first.
func (m *Machine) History(ctx context.Context, limit int) ([]Transition, error) {
	return m.store.History(ctx, limit)
}
