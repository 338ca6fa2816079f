package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbd888/securityguard/internal/chain"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed registry store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const entryColumns = `address, blacklisted, whitelisted, tracked, operator, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, addr chain.Address) (*Entry, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM registry_addresses WHERE address = $1`, string(addr))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registry entry: %w", err)
	}
	return e, nil
}

func (p *PostgresStore) Put(ctx context.Context, e *Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO registry_addresses (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address) DO UPDATE SET
			blacklisted = EXCLUDED.blacklisted,
			whitelisted = EXCLUDED.whitelisted,
			tracked     = EXCLUDED.tracked,
			operator    = EXCLUDED.operator,
			updated_at  = EXCLUDED.updated_at
	`, string(e.Address), e.Blacklisted, e.Whitelisted, e.Tracked, e.Operator, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put registry entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, m Membership) ([]*Entry, error) {
	var column string
	switch m {
	case Blacklisted:
		column = "blacklisted"
	case Whitelisted:
		column = "whitelisted"
	case Tracked:
		column = "tracked"
	case Operators:
		column = "operator"
	default:
		return nil, fmt.Errorf("unknown membership %q", m)
	}

	// column comes from the fixed switch above.
	rows, err := p.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM registry_addresses WHERE `+column+` ORDER BY address`) // #nosec G202
	if err != nil {
		return nil, fmt.Errorf("failed to list registry entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registry entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE blacklisted),
			COUNT(*) FILTER (WHERE whitelisted),
			COUNT(*) FILTER (WHERE tracked),
			COUNT(*) FILTER (WHERE operator)
		FROM registry_addresses
	`).Scan(&c.Blacklisted, &c.Whitelisted, &c.Tracked, &c.Operators)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count registry entries: %w", err)
	}
	return c, nil
}

func (p *PostgresStore) AppendSample(ctx context.Context, addr chain.Address, s Sample, keep int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO registry_addresses (address, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (address) DO NOTHING
	`, string(addr), s.At); err != nil {
		return fmt.Errorf("failed to ensure registry entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO registry_samples (address, score, sampled_at) VALUES ($1, $2, $3)
	`, string(addr), s.Score, s.At); err != nil {
		return fmt.Errorf("failed to append sample: %w", err)
	}

	if keep > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM registry_samples
			WHERE address = $1 AND id NOT IN (
				SELECT id FROM registry_samples WHERE address = $1 ORDER BY id DESC LIMIT $2
			)
		`, string(addr), keep); err != nil {
			return fmt.Errorf("failed to trim samples: %w", err)
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) Samples(ctx context.Context, addr chain.Address, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT score, sampled_at FROM (
			SELECT id, score, sampled_at FROM registry_samples
			WHERE address = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC
	`, string(addr), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.Score, &s.At); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e    Entry
		addr string
	)
	if err := row.Scan(&addr, &e.Blacklisted, &e.Whitelisted, &e.Tracked, &e.Operator, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Address = chain.Address(addr)
	return &e, nil
}
