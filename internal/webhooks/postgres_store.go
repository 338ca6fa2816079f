package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
)

// PostgresStore persists the webhook configuration in the single-row
// webhook_config table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed webhook store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Get(ctx context.Context) (*Config, error) {
	var (
		c           Config
		updatedBy   string
		lastSuccess sql.NullTime
		lastError   sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT url, enabled, min_risk_threshold, secret, updated_by, updated_at, last_success, last_error
		FROM webhook_config WHERE id = 1
	`).Scan(&c.URL, &c.Enabled, &c.MinRiskThreshold, &c.Secret, &updatedBy, &c.UpdatedAt, &lastSuccess, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook config: %w", err)
	}
	c.UpdatedBy = chain.Address(updatedBy)
	if lastSuccess.Valid {
		c.LastSuccess = &lastSuccess.Time
	}
	c.LastError = lastError.String
	c.HasSecret = c.Secret != ""
	return &c, nil
}

func (p *PostgresStore) Put(ctx context.Context, c *Config) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_config (id, url, enabled, min_risk_threshold, secret, updated_by, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			url                = EXCLUDED.url,
			enabled            = EXCLUDED.enabled,
			min_risk_threshold = EXCLUDED.min_risk_threshold,
			secret             = EXCLUDED.secret,
			updated_by         = EXCLUDED.updated_by,
			updated_at         = EXCLUDED.updated_at
	`, c.URL, c.Enabled, c.MinRiskThreshold, c.Secret, string(c.UpdatedBy), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put webhook config: %w", err)
	}
	return nil
}

func (p *PostgresStore) RecordDelivery(ctx context.Context, at time.Time, deliveryErr string) error {
	var res sql.Result
	var err error
	if deliveryErr == "" {
		res, err = p.db.ExecContext(ctx, `UPDATE webhook_config SET last_success = $1, last_error = '' WHERE id = 1`, at)
	} else {
		res, err = p.db.ExecContext(ctx, `UPDATE webhook_config SET last_error = $1 WHERE id = 1`, deliveryErr)
	}
	if err != nil {
		return fmt.Errorf("failed to record webhook delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotConfigured
	}
	return nil
}
