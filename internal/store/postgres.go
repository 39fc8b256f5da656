package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/finscan/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, status, input_path, filename, query, cleanup, result, error_message, logs,
	duration_ms, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Status, &j.InputPath, &j.Filename, &j.Query, &j.Cleanup,
		&j.Result, &j.ErrorMessage, &j.Logs, &j.DurationMs, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, input_path, filename, query, cleanup, logs, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Status, job.InputPath, job.Filename, job.Query, job.Cleanup, job.Logs,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.JobSummary, int, error) {
	where := "TRUE"
	args := []any{}
	argIdx := 1
	if filter.Status != "" {
		where = fmt.Sprintf("status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := NormalizeLimit(filter.Limit)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	dataQuery := fmt.Sprintf(
		`SELECT id, status, filename, query, error_message, duration_ms, created_at, completed_at
		 FROM jobs WHERE %s ORDER BY created_at DESC, seq DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.JobSummary{}
	for rows.Next() {
		var j models.JobSummary
		if err := rows.Scan(&j.ID, &j.Status, &j.Filename, &j.Query, &j.ErrorMessage,
			&j.DurationMs, &j.CreatedAt, &j.CompletedAt); err != nil {
			return nil, 0, fmt.Errorf("scan job summary: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) CountJobs(ctx context.Context, statuses ...string) (int, error) {
	var n int
	var err error
	if len(statuses) == 0 {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = ANY($1)`, statuses).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// UpdateJobStatus locks the row, validates the edge against the current status, and
// applies the change in one transaction, so concurrent updates of the same job are
// serialized and a pending job is claimed at most once.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := NewJobUpdate(opts...)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update job status: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var currentStatus string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	if err := models.ValidateTransition(currentStatus, status); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if models.IsTerminal(status) {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.Result != nil {
		query += fmt.Sprintf(", result = $%d", argIdx)
		args = append(args, *params.Result)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Logs != nil {
		// logs only ever grow
		query += fmt.Sprintf(", logs = CASE WHEN length($%d::text) >= length(logs) THEN $%d::text ELSE logs END", argIdx, argIdx)
		args = append(args, *params.Logs)
		argIdx++
	}
	if params.DurationMs != nil {
		query += fmt.Sprintf(", duration_ms = $%d", argIdx)
		args = append(args, *params.DurationMs)
		argIdx++
	}

	query += " WHERE id = $1"

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateJobLogs(ctx context.Context, id uuid.UUID, logs string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET logs = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'running' AND length(logs) <= length($2)`, id, logs)
	if err != nil {
		return fmt.Errorf("update job logs: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fail job: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var currentStatus string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if models.IsTerminal(currentStatus) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, currentStatus, models.JobStatusFailed)
	}

	_, err = tx.Exec(ctx,
		`UPDATE jobs SET status = 'failed', result = NULL, error_message = $2,
		   completed_at = NOW(), updated_at = NOW(),
		   duration_ms = CASE WHEN started_at IS NULL THEN 0
		                      ELSE (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::bigint END
		 WHERE id = $1`, id, msg)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit fail job: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
