package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mbd888/securityguard/internal/circuitbreaker"
	"github.com/mbd888/securityguard/internal/idgen"
	"github.com/mbd888/securityguard/internal/logging"
	"github.com/mbd888/securityguard/internal/notify"
	"github.com/mbd888/securityguard/internal/retry"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/security"
)

// Delivery headers.
const (
	HeaderEvent     = "X-SecurityGuard-Event"
	HeaderTimestamp = "X-SecurityGuard-Timestamp"
	HeaderSignature = "X-SecurityGuard-Signature"
)

// EventType names a webhook payload.
type EventType string

const (
	EventThreatDetected EventType = "scan.threat_detected"
	EventSystemPaused   EventType = "system.emergency_pause"
)

// Event is the delivered JSON body.
type Event struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Scan      *risk.ScanRecord `json:"scan"`
}

// Dispatcher sends scans to the configured webhook. It implements
// notify.Sink.
type Dispatcher struct {
	store        Store
	client       *http.Client
	policy       retry.Policy
	breaker      *circuitbreaker.Breaker
	urlValidator func(string) error
}

var _ notify.Sink = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher with a 10s request timeout.
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store:        store,
		client:       &http.Client{Timeout: 10 * time.Second},
		policy:       retry.DefaultPolicy,
		breaker:      circuitbreaker.New(5, time.Minute),
		urlValidator: security.ValidateEndpointURL,
	}
}

// WithTimeout sets the per-request timeout.
func (d *Dispatcher) WithTimeout(t time.Duration) *Dispatcher {
	if t > 0 {
		d.client.Timeout = t
	}
	return d
}

// WithRetry replaces the retry policy.
func (d *Dispatcher) WithRetry(p retry.Policy) *Dispatcher {
	d.policy = p
	return d
}

// WithBreaker replaces the circuit breaker.
func (d *Dispatcher) WithBreaker(b *circuitbreaker.Breaker) *Dispatcher {
	d.breaker = b
	return d
}

func (d *Dispatcher) Name() string { return "webhook" }

// Send delivers rec if the webhook is enabled and the score meets its
// threshold. Skips are reported as notify.ErrSkipped.
func (d *Dispatcher) Send(ctx context.Context, rec *risk.ScanRecord) error {
	cfg, err := d.store.Get(ctx)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return fmt.Errorf("%w: webhook not configured", notify.ErrSkipped)
		}
		return err
	}
	if !cfg.Wants(rec.RiskScore) {
		return fmt.Errorf("%w: disabled or below threshold", notify.ErrSkipped)
	}
	if err := d.urlValidator(cfg.URL); err != nil {
		return err
	}

	ev := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      EventThreatDetected,
		Timestamp: time.Now().UTC(),
		Scan:      rec,
	}
	if rec.PausedThisScan {
		ev.Type = EventSystemPaused
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	err = d.breaker.Do(cfg.URL, func() error {
		return d.policy.Do(ctx, func(ctx context.Context) error {
			return d.post(ctx, cfg, ev, payload)
		})
	})

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if rerr := d.store.RecordDelivery(ctx, time.Now().UTC(), msg); rerr != nil {
		logging.L(ctx).Warn("failed to record webhook delivery", "error", rerr)
	}
	return err
}

func (d *Dispatcher) post(ctx context.Context, cfg *Config, ev *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(ev.Type))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ev.Timestamp.Unix(), 10))
	if cfg.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, cfg.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return retry.Permanent(fmt.Errorf("webhook status %d", resp.StatusCode))
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign.
func Verify(payload []byte, secret, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), want)
}
