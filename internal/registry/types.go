// Package registry is the address registry: blacklist, whitelist, operator
// and tracked membership plus each address's historical score samples.
package registry

import (
	"errors"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrNotFound    = errors.New("registry: address not found")
	ErrUnavailable = errors.New("registry: store unavailable")
)

// -----------------------------------------------------------------------------
// Core Types
// -----------------------------------------------------------------------------

// Entry is the registry record for one address. An address that has never
// been seen is represented by a zero Entry, never by an error.
type Entry struct {
	Address     chain.Address `json:"address"`
	Blacklisted bool          `json:"blacklisted"`
	Whitelisted bool          `json:"whitelisted"`
	Tracked     bool          `json:"tracked"`
	Operator    bool          `json:"operator"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Sample is one historical risk score observed for an address.
type Sample struct {
	Score int       `json:"score"`
	At    time.Time `json:"timestamp"`
}

// Membership selects one registry list.
type Membership string

const (
	Blacklisted Membership = "blacklist"
	Whitelisted Membership = "whitelist"
	Tracked     Membership = "tracked"
	Operators   Membership = "operator"
)

// Has reports whether e belongs to list m.
func (e *Entry) Has(m Membership) bool {
	switch m {
	case Blacklisted:
		return e.Blacklisted
	case Whitelisted:
		return e.Whitelisted
	case Tracked:
		return e.Tracked
	case Operators:
		return e.Operator
	}
	return false
}

// Counts is the size of every registry list.
type Counts struct {
	Blacklisted int `json:"blacklisted"`
	Whitelisted int `json:"whitelisted"`
	Tracked     int `json:"tracked"`
	Operators   int `json:"operators"`
}

// Direction is the outcome of a trend computation. InsufficientData is a
// valid result, not a failure.
type Direction string

const (
	Rising           Direction = "rising"
	Falling          Direction = "falling"
	Stable           Direction = "stable"
	InsufficientData Direction = "insufficient_data"
)

// Trend summarizes an address's score samples.
type Trend struct {
	Address     chain.Address `json:"address"`
	Min         int           `json:"min"`
	Max         int           `json:"max"`
	Avg         float64       `json:"avg"`
	SampleCount int           `json:"sample_count"`
	Direction   Direction     `json:"trend_direction"`
}

// Sufficient reports whether the trend was computed from enough samples.
func (t Trend) Sufficient() bool { return t.Direction != InsufficientData }
