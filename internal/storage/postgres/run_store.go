// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawl-console/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultRunsTable = "monitor_runs"

// RunStoreConfig controls the Postgres connection pool used for run history.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultRunsTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks database connectivity for readiness checks.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// UpsertRunStart inserts a run in running status. A repeated start for the same
// session only refreshes the job id while the run is still running.
func (s *RunStore) UpsertRunStart(ctx context.Context, run store.Run) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (session_id, monitor_id, config_code, job_id, job_type, test_run, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE
		SET job_id = EXCLUDED.job_id
		WHERE %[1]s.status = 'running';
	`, s.table)
	_, err := s.pool.Exec(
		ctx,
		query,
		run.SessionID,
		run.MonitorID,
		run.ConfigCode,
		run.JobID,
		run.JobType,
		run.TestRun,
		string(store.RunRunning),
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun records the terminal outcome. Runs that already finished keep
// their first outcome.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	sessionID string,
	finishedAt time.Time,
	status store.RunStatus,
	errorCount int,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, error_count = $3, error_message = $4
		WHERE session_id = $5 AND finished_at IS NULL;
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, finishedAt, string(status), errorCount, errMsg, sessionID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// MarkActivated stamps activated_at on the run.
func (s *RunStore) MarkActivated(ctx context.Context, sessionID string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET activated_at = $1 WHERE session_id = $2;`, s.table)
	tag, err := s.pool.Exec(ctx, query, at, sessionID)
	if err != nil {
		return fmt.Errorf("mark run activated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark run %s activated: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

// AbandonRun closes out a run whose session ended before the job did.
func (s *RunStore) AbandonRun(ctx context.Context, sessionID string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2
		WHERE session_id = $3 AND status = 'running';
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, at, string(store.RunAbandoned), sessionID); err != nil {
		return fmt.Errorf("abandon run: %w", err)
	}
	return nil
}

const runColumns = `session_id, monitor_id, config_code, job_id, job_type, test_run, status,
	started_at, finished_at, error_count, error_message, activated_at`

// GetRun retrieves a single run by session id.
func (s *RunStore) GetRun(ctx context.Context, sessionID string) (store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE session_id = $1;`, runColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first with optional status and config filters.
func (s *RunStore) ListRuns(ctx context.Context, filter store.RunFilter, limit, offset int) ([]store.Run, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2 = '' OR config_code = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4;
	`, runColumns, s.table)
	var status any
	if filter.Status != nil {
		status = string(*filter.Status)
	}
	rows, err := s.pool.Query(ctx, query, status, filter.ConfigCode, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]store.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.SessionID,
		&run.MonitorID,
		&run.ConfigCode,
		&run.JobID,
		&run.JobType,
		&run.TestRun,
		&status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.ErrorCount,
		&run.ErrorMessage,
		&run.ActivatedAt,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
