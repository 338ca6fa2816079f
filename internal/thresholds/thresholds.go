// Package thresholds stores the global risk thresholds and per-user
// overrides, and classifies scores into threat levels.
package thresholds

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
)

var (
	ErrInvalidThresholds = errors.New("thresholds: invalid thresholds")
	ErrNotFound          = errors.New("thresholds: not found")
	ErrUnavailable       = errors.New("thresholds: store unavailable")
)

// Default boundaries used until an operator changes them.
const (
	DefaultCritical = 85
	DefaultHigh     = 70
	DefaultMedium   = 50
)

// Set holds the three severity boundaries. A score at or above a boundary
// falls in that band.
type Set struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
}

// Default returns the built-in boundaries.
func Default() Set {
	return Set{Critical: DefaultCritical, High: DefaultHigh, Medium: DefaultMedium}
}

// Validate enforces 0 <= medium < high < critical <= 100.
func (s Set) Validate() error {
	switch {
	case s.Medium < 0 || s.High < 0 || s.Critical < 0:
		return fmt.Errorf("%w: values must be >= 0", ErrInvalidThresholds)
	case s.Medium > 100 || s.High > 100 || s.Critical > 100:
		return fmt.Errorf("%w: values must be <= 100", ErrInvalidThresholds)
	case s.Medium >= s.High:
		return fmt.Errorf("%w: medium must be below high", ErrInvalidThresholds)
	case s.High >= s.Critical:
		return fmt.Errorf("%w: high must be below critical", ErrInvalidThresholds)
	}
	return nil
}

// Level is a discrete threat classification.
type Level string

const (
	None     Level = "none"
	Low      Level = "low"
	Medium   Level = "medium"
	High     Level = "high"
	Critical Level = "critical"
)

// Severity orders levels; higher is worse.
func (l Level) Severity() int {
	switch l {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	case Critical:
		return 4
	}
	return 0
}

// AtLeast reports whether l is as severe as other.
func (l Level) AtLeast(other Level) bool { return l.Severity() >= other.Severity() }

// Classify maps a score to a level. None is reserved for a zero score with
// no matched signatures.
func (s Set) Classify(score int, signatures int) Level {
	switch {
	case score >= s.Critical:
		return Critical
	case score >= s.High:
		return High
	case score >= s.Medium:
		return Medium
	case score == 0 && signatures == 0:
		return None
	}
	return Low
}

// Source says where a resolved Set came from.
type Source string

const (
	SourceGlobal Source = "global"
	SourceUser   Source = "user"
)

// Status is the user-facing state of a user's thresholds.
type Status string

const (
	StatusCustom  Status = "custom_thresholds"
	StatusDefault Status = "using_default_thresholds"
)

// UserSet is a per-user override.
type UserSet struct {
	User      chain.Address `json:"user"`
	Set       Set           `json:"thresholds"`
	SetBy     chain.Address `json:"set_by"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Resolution is the active Set for a caller.
type Resolution struct {
	Set    Set           `json:"thresholds"`
	Source Source        `json:"source"`
	SetBy  chain.Address `json:"set_by,omitempty"`
}

// Status reports custom vs default for display.
func (r Resolution) Status() Status {
	if r.Source == SourceUser {
		return StatusCustom
	}
	return StatusDefault
}
