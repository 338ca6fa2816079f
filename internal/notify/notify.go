// Package notify fans persisted scans out to the configured sinks
// (webhook, websocket hub, event stream). Delivery is fire-and-forget: a
// failing sink is logged and counted but never fails the scan.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbd888/securityguard/internal/logging"
	"github.com/mbd888/securityguard/internal/metrics"
	"github.com/mbd888/securityguard/internal/risk"
)

// ErrSkipped is returned (possibly wrapped) by a sink that deliberately did
// not deliver, e.g. a disabled webhook or a score below its threshold.
var ErrSkipped = errors.New("notify: skipped")

// DefaultTimeout bounds one sink delivery.
const DefaultTimeout = 30 * time.Second

// Sink delivers one scan record somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, rec *risk.ScanRecord) error
}

// Fanout implements risk.Notifier over a set of sinks.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

var _ risk.Notifier = (*Fanout)(nil)

// New creates a Fanout. Nil sinks are ignored.
func New(sinks ...Sink) *Fanout {
	f := &Fanout{timeout: DefaultTimeout}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// WithTimeout overrides the per-sink delivery timeout.
func (f *Fanout) WithTimeout(d time.Duration) *Fanout {
	if d > 0 {
		f.timeout = d
	}
	return f
}

// Notify starts one delivery per sink and returns immediately. Deliveries
// outlive the caller's context so a finished request does not cancel them.
func (f *Fanout) Notify(ctx context.Context, rec *risk.ScanRecord) {
	if rec == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, s := range f.sinks {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.deliver(base, s, rec)
		}()
	}
}

func (f *Fanout) deliver(ctx context.Context, s Sink, rec *risk.ScanRecord) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	err := s.Send(ctx, rec)
	switch {
	case err == nil:
		metrics.NotificationsTotal.WithLabelValues(s.Name(), "ok").Inc()
	case errors.Is(err, ErrSkipped):
		metrics.NotificationsTotal.WithLabelValues(s.Name(), "skipped").Inc()
	default:
		metrics.NotificationsTotal.WithLabelValues(s.Name(), "error").Inc()
		logging.L(ctx).Warn("scan notification failed",
			"sink", s.Name(), "scan_id", rec.ScanID, "error", err)
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (f *Fanout) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
