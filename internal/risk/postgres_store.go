package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/dbtx"
	"github.com/mbd888/securityguard/internal/policy"
	"github.com/mbd888/securityguard/internal/thresholds"
)

// scanIDLock is the advisory lock key serializing id allocation.
const scanIDLock = 0x5347_5343 // "SGSC"

// PostgresHistory persists scan records. Ids are allocated as MAX+1 under a
// transaction-scoped advisory lock, so a rolled-back commit leaves no gap.
// The enforcer runs on the same transaction: a pause that fails to commit
// with its record never happened, and its id is free for the next scan.
type PostgresHistory struct {
	db *sql.DB
}

// NewPostgresHistory creates a PostgreSQL-backed history.
func NewPostgresHistory(db *sql.DB) *PostgresHistory {
	return &PostgresHistory{db: db}
}

var _ History = (*PostgresHistory)(nil)

const recordColumns = `scan_id, status, scanned_at, from_address, to_address, value, calldata, gas_used,
	risk_score, threat_level, signatures, action_taken, explanation, system_paused, paused_this_scan,
	caller, threshold_source`

func (p *PostgresHistory) Commit(ctx context.Context, build func(id int64) (*ScanRecord, error), enforce Enforcer) (*ScanRecord, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, scanIDLock); err != nil {
		return nil, fmt.Errorf("failed to lock scan ids: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(scan_id), 0) + 1 FROM scan_records`).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to allocate scan id: %w", err)
	}

	rec, err := build(id)
	if err != nil {
		return nil, err
	}
	rec.ScanID = id

	if enforce != nil {
		if err := enforce(dbtx.WithTx(ctx, tx), rec); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO scan_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		rec.ScanID, string(rec.Status), rec.Timestamp, string(rec.From), string(rec.To), rec.Value,
		rec.Calldata, int64(rec.GasUsed), rec.RiskScore, string(rec.ThreatLevel),
		pq.Array(rec.Signatures), string(rec.ActionTaken), rec.Explanation, rec.SystemPaused,
		rec.PausedThisScan, string(rec.Caller), string(rec.ThresholdSource),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert scan record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit scan record: %w", err)
	}
	return rec, nil
}

func (p *PostgresHistory) Get(ctx context.Context, id int64) (*ScanRecord, error) {
	rec, err := scanRecord(p.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM scan_records WHERE scan_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan record: %w", err)
	}
	return rec, nil
}

func (p *PostgresHistory) List(ctx context.Context, q Query) ([]*ScanRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.Address != "" {
		args = append(args, string(q.Address))
		where = append(where, fmt.Sprintf("(from_address = $%d OR to_address = $%d)", len(args), len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		where = append(where, fmt.Sprintf("scanned_at >= $%d", len(args)))
	}
	if q.BeforeID > 0 {
		args = append(args, q.BeforeID)
		where = append(where, fmt.Sprintf("scan_id < $%d", len(args)))
	}

	query := `SELECT ` + recordColumns + ` FROM scan_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scan_id DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...) // #nosec G202 -- clauses are fixed, values are bound
	if err != nil {
		return nil, fmt.Errorf("failed to list scan records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*ScanRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (p *PostgresHistory) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE threat_level IN ('high', 'critical'))
		FROM scan_records
	`).Scan(&s.TotalScans, &s.TotalThreats)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count scan records: %w", err)
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*ScanRecord, error) {
	var (
		r                               ScanRecord
		status, from, to, level, action string
		caller, source                  string
		gas                             int64
		signatures                      pq.StringArray
	)
	err := row.Scan(&r.ScanID, &status, &r.Timestamp, &from, &to, &r.Value, &r.Calldata, &gas,
		&r.RiskScore, &level, &signatures, &action, &r.Explanation, &r.SystemPaused,
		&r.PausedThisScan, &caller, &source)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.From, r.To, r.Caller = chain.Address(from), chain.Address(to), chain.Address(caller)
	r.GasUsed = uint64(gas) // #nosec G115 -- stored from a uint64
	r.ThreatLevel = thresholds.Level(level)
	r.ActionTaken = policy.Action(action)
	r.ThresholdSource = thresholds.Source(source)
	r.Signatures = []string(signatures)
	if r.Signatures == nil {
		r.Signatures = []string{}
	}
	return &r, nil
}
