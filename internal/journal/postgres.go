package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// PoolInterface defines the database pool operations the journal needs
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const createTrialLogTable = `
CREATE TABLE IF NOT EXISTS trial_log (
	run_name   TEXT        NOT NULL,
	seq        BIGINT      NOT NULL,
	record     TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_name, seq)
)`

// Postgres stores the journal as rows of the trial_log table, one run per name.
// Appends serialise on a transaction-scoped advisory lock keyed by the run name.
type Postgres struct {
	pool PoolInterface
	run  string
}

// NewPostgres creates a journal for run over pool
func NewPostgres(pool PoolInterface, run string) *Postgres {
	return &Postgres{pool: pool, run: run}
}

// EnsureSchema creates the trial_log table if needed
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createTrialLogTable); err != nil {
		return fmt.Errorf("failed to create trial_log table: %w", err)
	}
	return nil
}

// Read implements Backend; the cursor is the last sequence number read
func (p *Postgres) Read(ctx context.Context, cursor int64) ([][]byte, int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT seq, record FROM trial_log WHERE run_name = $1 AND seq > $2 ORDER BY seq ASC`,
		p.run, cursor)
	if err != nil {
		return nil, cursor, fmt.Errorf("failed to query trial log: %w", err)
	}
	defer rows.Close()

	var records [][]byte
	next := cursor
	for rows.Next() {
		var seq int64
		var rec string
		if err := rows.Scan(&seq, &rec); err != nil {
			return nil, cursor, fmt.Errorf("failed to scan trial log row: %w", err)
		}
		records = append(records, []byte(rec))
		next = seq
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, fmt.Errorf("error iterating trial log: %w", err)
	}

	return records, next, nil
}

// Append implements Backend
func (p *Postgres) Append(ctx context.Context, expected int64, records ...[]byte) (ok bool, err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if !ok {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Warn().Err(rbErr).Str("run", p.run).Msg("Failed to roll back trial log append")
			}
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, p.run); err != nil {
		return false, fmt.Errorf("failed to lock trial log: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT COALESCE(MAX(seq), 0) FROM trial_log WHERE run_name = $1`, p.run)
	if err != nil {
		return false, fmt.Errorf("failed to read trial log end: %w", err)
	}
	var last int64
	if rows.Next() {
		if err := rows.Scan(&last); err != nil {
			rows.Close()
			return false, fmt.Errorf("failed to scan trial log end: %w", err)
		}
	}
	rows.Close()

	if expected >= 0 && last != expected {
		return false, nil
	}

	for i, rec := range records {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trial_log (run_name, seq, record) VALUES ($1, $2, $3)`,
			p.run, last+int64(i)+1, string(rec)); err != nil {
			return false, fmt.Errorf("failed to insert trial log record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit trial log append: %w", err)
	}
	return true, nil
}

// Delete removes every record of the run
func (p *Postgres) Delete(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM trial_log WHERE run_name = $1`, p.run); err != nil {
		return fmt.Errorf("failed to delete trial log: %w", err)
	}
	return nil
}

// Close implements Backend. The pool belongs to the caller.
func (p *Postgres) Close() error {
	return nil
}
