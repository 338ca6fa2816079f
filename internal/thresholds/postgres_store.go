package thresholds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
)

// PostgresStore implements Store using PostgreSQL. The global Set is the
// row keyed by the empty address.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed threshold store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const globalKey = ""

func (p *PostgresStore) Global(ctx context.Context) (Set, error) {
	u, err := p.get(ctx, globalKey)
	if err != nil {
		return Set{}, err
	}
	return u.Set, nil
}

func (p *PostgresStore) PutGlobal(ctx context.Context, s Set, setBy chain.Address) error {
	return p.put(ctx, &UserSet{User: globalKey, Set: s, SetBy: setBy, UpdatedAt: time.Now()})
}

func (p *PostgresStore) User(ctx context.Context, user chain.Address) (*UserSet, error) {
	return p.get(ctx, user)
}

func (p *PostgresStore) PutUser(ctx context.Context, u *UserSet) error {
	return p.put(ctx, u)
}

func (p *PostgresStore) get(ctx context.Context, user chain.Address) (*UserSet, error) {
	var (
		u     UserSet
		setBy string
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT critical, high, medium, set_by, updated_at
		FROM risk_thresholds WHERE user_address = $1
	`, string(user)).Scan(&u.Set.Critical, &u.Set.High, &u.Set.Medium, &setBy, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thresholds: %w", err)
	}
	u.User = user
	u.SetBy = chain.Address(setBy)
	return &u, nil
}

func (p *PostgresStore) put(ctx context.Context, u *UserSet) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO risk_thresholds (user_address, critical, high, medium, set_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_address) DO UPDATE SET
			critical   = EXCLUDED.critical,
			high       = EXCLUDED.high,
			medium     = EXCLUDED.medium,
			set_by     = EXCLUDED.set_by,
			updated_at = EXCLUDED.updated_at
	`, string(u.User), u.Set.Critical, u.Set.High, u.Set.Medium, string(u.SetBy), u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put thresholds: %w", err)
	}
	return nil
}
