package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/thresholds"
)

// PostgresStore implements ApprovalStore and DAppStore using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var (
	_ ApprovalStore = (*PostgresStore)(nil)
	_ DAppStore     = (*PostgresStore)(nil)
)

const approvalColumns = `id, wallet, token, spender, amount, is_infinite, risk_score, risk_level, signatures, approved_at`

func (p *PostgresStore) AppendApproval(ctx context.Context, ap *Approval) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO token_approvals (wallet, token, spender, amount, is_infinite, risk_score, risk_level, signatures, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, string(ap.Wallet), string(ap.Token), string(ap.Spender), ap.Amount, ap.IsInfinite,
		ap.RiskScore, string(ap.RiskLevel), pq.Array(ap.Signatures), ap.ApprovedAt).Scan(&ap.ID)
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

func (p *PostgresStore) Current(ctx context.Context, wallet chain.Address) ([]*Approval, error) {
	return p.queryApprovals(ctx, `
		SELECT * FROM (
			SELECT DISTINCT ON (token, spender) `+approvalColumns+`
			FROM token_approvals WHERE wallet = $1
			ORDER BY token, spender, id DESC
		) latest ORDER BY id
	`, string(wallet))
}

func (p *PostgresStore) Trail(ctx context.Context, wallet chain.Address) ([]*Approval, error) {
	return p.queryApprovals(ctx, `SELECT `+approvalColumns+` FROM token_approvals WHERE wallet = $1 ORDER BY id`, string(wallet))
}

func (p *PostgresStore) queryApprovals(ctx context.Context, query string, args ...any) ([]*Approval, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Approval
	for rows.Next() {
		var (
			ap                     Approval
			wallet, token, spender string
			level                  string
			signatures             pq.StringArray
		)
		if err := rows.Scan(&ap.ID, &wallet, &token, &spender, &ap.Amount, &ap.IsInfinite,
			&ap.RiskScore, &level, &signatures, &ap.ApprovedAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		ap.Wallet, ap.Token, ap.Spender = chain.Address(wallet), chain.Address(token), chain.Address(spender)
		ap.RiskLevel = thresholds.Level(level)
		ap.Signatures = []string(signatures)
		result = append(result, &ap)
	}
	return result, rows.Err()
}

const dappColumns = `address, name, dapp_type, risk_score, risk_level, red_flags, audit_needed,
	signatures, precautions, registered_by, registered_at, last_scanned`

func (p *PostgresStore) Get(ctx context.Context, addr chain.Address) (*DApp, error) {
	d, err := scanDApp(p.db.QueryRowContext(ctx, `SELECT `+dappColumns+` FROM dapps WHERE address = $1`, string(addr)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dapp: %w", err)
	}
	return d, nil
}

const upsertDApp = `
	INSERT INTO dapps (` + dappColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (address) DO UPDATE SET
		name         = EXCLUDED.name,
		dapp_type    = EXCLUDED.dapp_type,
		risk_score   = EXCLUDED.risk_score,
		risk_level   = EXCLUDED.risk_level,
		red_flags    = EXCLUDED.red_flags,
		audit_needed = EXCLUDED.audit_needed,
		signatures   = EXCLUDED.signatures,
		precautions  = EXCLUDED.precautions,
		last_scanned = EXCLUDED.last_scanned`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putDApp(ctx context.Context, db execer, d *DApp) error {
	_, err := db.ExecContext(ctx, upsertDApp,
		string(d.Address), d.Name, d.Type, d.RiskScore, string(d.RiskLevel), d.RedFlags, d.AuditNeeded,
		pq.Array(d.Signatures), pq.Array(d.Precautions), string(d.RegisteredBy), d.RegisteredAt, d.LastScanned)
	return err
}

func (p *PostgresStore) Put(ctx context.Context, d *DApp) error {
	if err := putDApp(ctx, p.db, d); err != nil {
		return fmt.Errorf("failed to put dapp: %w", err)
	}
	return nil
}

func (p *PostgresStore) PutAll(ctx context.Context, ds []*DApp) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range ds {
		if err := putDApp(ctx, tx, d); err != nil {
			return fmt.Errorf("failed to put dapp %s: %w", d.Address, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dapps: %w", err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*DApp, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+dappColumns+` FROM dapps ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dapps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*DApp
	for rows.Next() {
		d, err := scanDApp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dapp: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDApp(row scanner) (*DApp, error) {
	var (
		d                    DApp
		addr, level, by      string
		signatures, cautions pq.StringArray
	)
	err := row.Scan(&addr, &d.Name, &d.Type, &d.RiskScore, &level, &d.RedFlags, &d.AuditNeeded,
		&signatures, &cautions, &by, &d.RegisteredAt, &d.LastScanned)
	if err != nil {
		return nil, err
	}
	d.Address, d.RegisteredBy = chain.Address(addr), chain.Address(by)
	d.RiskLevel = thresholds.Level(level)
	d.Signatures, d.Precautions = []string(signatures), []string(cautions)
	return &d, nil
}
