// Package webhooks holds the single alert webhook configuration and delivers
// signed scan notifications to it.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/security"
)

var (
	ErrInvalidConfig = errors.New("webhooks: invalid config")
	ErrNotConfigured = errors.New("webhooks: not configured")
)

// DefaultMinRiskThreshold is the score at or above which scans are sent
// when the configuration does not say otherwise.
const DefaultMinRiskThreshold = 70

// Config is the stored webhook configuration.
type Config struct {
	URL              string        `json:"url"`
	Enabled          bool          `json:"enabled"`
	MinRiskThreshold int           `json:"min_risk_threshold"`
	Secret           string        `json:"-"`
	HasSecret        bool          `json:"has_secret"`
	UpdatedBy        chain.Address `json:"updated_by"`
	UpdatedAt        time.Time     `json:"updated_at"`
	LastSuccess      *time.Time    `json:"last_success,omitempty"`
	LastError        string        `json:"last_error,omitempty"`
}

// Configured reports whether a URL has been set.
func (c *Config) Configured() bool { return c != nil && c.URL != "" }

// Wants reports whether a scan with this score should be delivered.
func (c *Config) Wants(score int) bool {
	return c.Configured() && c.Enabled && score >= c.MinRiskThreshold
}

func (c *Config) clone() *Config {
	cp := *c
	if c.LastSuccess != nil {
		t := *c.LastSuccess
		cp.LastSuccess = &t
	}
	cp.HasSecret = c.Secret != ""
	return &cp
}

// Update is the input to Configure.
type Update struct {
	URL              string
	Enabled          bool
	MinRiskThreshold *int
	Secret           string
}

// Store persists the configuration.
type Store interface {
	// Get returns ErrNotConfigured when nothing has been stored.
	Get(ctx context.Context) (*Config, error)
	Put(ctx context.Context, c *Config) error
	RecordDelivery(ctx context.Context, at time.Time, deliveryErr string) error
}

// Service validates and stores the configuration.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a Service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Get returns the stored configuration, or a disabled empty one.
func (s *Service) Get(ctx context.Context) (*Config, error) {
	c, err := s.store.Get(ctx)
	if errors.Is(err, ErrNotConfigured) {
		return &Config{MinRiskThreshold: DefaultMinRiskThreshold}, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Configure validates u and replaces the stored configuration. An empty
// secret keeps the previous one.
func (s *Service) Configure(ctx context.Context, u Update, actor chain.Address) (*Config, error) {
	raw := strings.TrimSpace(u.URL)
	if _, err := security.ParseEndpointURL(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	minRisk := DefaultMinRiskThreshold
	if u.MinRiskThreshold != nil {
		minRisk = *u.MinRiskThreshold
	}
	if minRisk < 0 || minRisk > 100 {
		return nil, fmt.Errorf("%w: min_risk_threshold must be within 0..100", ErrInvalidConfig)
	}

	prev, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	c := &Config{
		URL:              raw,
		Enabled:          u.Enabled,
		MinRiskThreshold: minRisk,
		Secret:           u.Secret,
		UpdatedBy:        actor,
		UpdatedAt:        s.now().UTC(),
	}
	if c.Secret == "" {
		c.Secret = prev.Secret
	}
	if err := s.store.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store webhook config: %w", err)
	}
	return c.clone(), nil
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Get(_ context.Context) (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return nil, ErrNotConfigured
	}
	return m.cfg.clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, c *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := c.clone()
	if m.cfg != nil {
		cp.LastSuccess, cp.LastError = m.cfg.LastSuccess, m.cfg.LastError
	}
	m.cfg = cp
	return nil
}

func (m *MemoryStore) RecordDelivery(_ context.Context, at time.Time, deliveryErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return ErrNotConfigured
	}
	if deliveryErr == "" {
		m.cfg.LastSuccess = &at
	}
	m.cfg.LastError = deliveryErr
	return nil
}
