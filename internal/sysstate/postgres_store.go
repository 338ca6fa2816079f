package sysstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/securityguard/internal/dbtx"
)

// PostgresStore persists state in a single system_state row and an
// append-only system_transitions table. Transitions lock the state row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed state store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const stateColumns = `state, pause_reason, resume_justification, paused_at, paused_by_scan, total_pauses, updated_at`

func (p *PostgresStore) Load(ctx context.Context) (*Snapshot, error) {
	s, err := scanSnapshot(p.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM system_state WHERE id = 1`))
	if err != nil {
		return nil, fmt.Errorf("failed to load system state: %w", err)
	}
	return s, nil
}

// Transition locks the state row and applies fn. When ctx carries a
// transaction (see dbtx) the transition joins it inside a savepoint and
// commits with the caller; otherwise it runs in its own transaction.
func (p *PostgresStore) Transition(ctx context.Context, fn func(cur Snapshot) (*Transition, error)) (*Snapshot, error) {
	if outer, ok := dbtx.From(ctx); ok {
		var next *Snapshot
		err := dbtx.InSavepoint(ctx, outer, "sysstate_transition", func() error {
			var err error
			next, err = p.transition(ctx, outer, fn)
			return err
		})
		if err != nil {
			return nil, err
		}
		return next, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	next, err := p.transition(ctx, tx, fn)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	return next, nil
}

func (p *PostgresStore) transition(ctx context.Context, tx *sql.Tx, fn func(cur Snapshot) (*Transition, error)) (*Snapshot, error) {
	cur, err := scanSnapshot(tx.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM system_state WHERE id = 1 FOR UPDATE`))
	if err != nil {
		return nil, fmt.Errorf("failed to lock system state: %w", err)
	}

	t, err := fn(*cur)
	if err != nil {
		return nil, err
	}

	var scanID sql.NullInt64
	if t.ScanID > 0 {
		scanID = sql.NullInt64{Int64: t.ScanID, Valid: true}
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO system_transitions (actor, reason, from_state, to_state, automated, scan_id, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, t.Actor, t.Reason, string(t.From), string(t.To), t.Automated, scanID, t.At).Scan(&t.Seq); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrScanReplayed
		}
		return nil, fmt.Errorf("failed to append transition: %w", err)
	}

	next := cur.apply(t)
	var pausedAt sql.NullTime
	if next.PausedAt != nil {
		pausedAt = sql.NullTime{Time: *next.PausedAt, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE system_state SET
			state = $1, pause_reason = $2, resume_justification = $3,
			paused_at = $4, paused_by_scan = $5, total_pauses = $6, updated_at = $7
		WHERE id = 1
	`, string(next.State), next.PauseReason, next.ResumeJustification, pausedAt, next.PausedByScan, next.TotalPauses, next.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to update system state: %w", err)
	}
	return &next, nil
}

func (p *PostgresStore) History(ctx context.Context, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT seq, actor, reason, from_state, to_state, automated, scan_id, at FROM (
			SELECT * FROM system_transitions ORDER BY seq DESC LIMIT $1
		) recent ORDER BY seq ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Transition
	for rows.Next() {
		var (
			t        Transition
			from, to string
			scanID   sql.NullInt64
		)
		if err := rows.Scan(&t.Seq, &t.Actor, &t.Reason, &from, &to, &t.Automated, &scanID, &t.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.From, t.To = State(from), State(to)
		t.ScanID = scanID.Int64
		result = append(result, t)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var (
		s        Snapshot
		state    string
		pausedAt sql.NullTime
		updated  time.Time
	)
	if err := row.Scan(&state, &s.PauseReason, &s.ResumeJustification, &pausedAt, &s.PausedByScan, &s.TotalPauses, &updated); err != nil {
		return nil, err
	}
	s.State = State(state)
	s.UpdatedAt = updated
	if pausedAt.Valid {
		t := pausedAt.Time
		s.PausedAt = &t
	}
	return &s, nil
}
