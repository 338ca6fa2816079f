// Package health runs the dependency checks behind /health.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// Overall states of a Report.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the result of one check.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Required  bool   `json:"required"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Checker probes one dependency. Name and Required are filled in by the
// registry.
type Checker func(ctx context.Context) Status

// Report aggregates every check. A failing required check makes the service
// unhealthy; a failing optional one (cache, event stream) only degrades it.
type Report struct {
	Status string   `json:"status"`
	Checks []Status `json:"checks"`
}

// Healthy reports whether the service can serve scans.
func (r Report) Healthy() bool { return r.Status != StatusUnhealthy }

type entry struct {
	name     string
	required bool
	check    Checker
}

// Registry holds the registered checks.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	timeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// WithTimeout changes the per-check timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a check. Required checks gate overall health.
func (r *Registry) Register(name string, required bool, check Checker) {
	r.mu.Lock()
	r.entries = append(r.entries, entry{name: name, required: required, check: check})
	r.mu.Unlock()
}

// Check runs every check concurrently, each under its own timeout, and
// returns the results in registration order.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	entries := make([]entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	checks := make([]Status, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Go(func() {
			checks[i] = r.run(ctx, e)
		})
	}
	wg.Wait()

	report := Report{Status: StatusHealthy, Checks: checks}
	for _, s := range checks {
		switch {
		case s.Healthy:
		case s.Required:
			report.Status = StatusUnhealthy
		case report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

func (r *Registry) run(ctx context.Context, e entry) Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Status, 1)
	go func() { done <- e.check(ctx) }()

	var s Status
	select {
	case s = <-done:
	case <-ctx.Done():
		s = Status{Healthy: false, Detail: "check timed out"}
	}
	s.Name = e.name
	s.Required = e.required
	s.LatencyMS = time.Since(start).Milliseconds()
	return s
}
