package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/permit-search/internal/domain"
)

// Schema creates the search_jobs table
const Schema = `
CREATE TABLE IF NOT EXISTS search_jobs (
	job_id        TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	progress      INTEGER NOT NULL DEFAULT 0,
	address       JSONB NOT NULL,
	result        JSONB,
	error_message TEXT,
	start_time    TIMESTAMPTZ NOT NULL,
	end_time      TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_search_jobs_status_start_time ON search_jobs (status, start_time);
`

const jobColumns = `job_id, status, progress, address, result, error_message, start_time, end_time`

// PostgresStore keeps jobs in PostgreSQL so the api-service and workers share them
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore instance
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the table when missing
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate search_jobs: %w", err)
	}
	return nil
}

type jobRow struct {
	JobID        string         `db:"job_id"`
	Status       string         `db:"status"`
	Progress     int            `db:"progress"`
	Address      []byte         `db:"address"`
	Result       []byte         `db:"result"`
	ErrorMessage sql.NullString `db:"error_message"`
	StartTime    time.Time      `db:"start_time"`
	EndTime      sql.NullTime   `db:"end_time"`
}

func (r jobRow) toJob() (*domain.SearchJob, error) {
	job := &domain.SearchJob{
		ID:        r.JobID,
		Status:    domain.JobStatus(r.Status),
		Progress:  r.Progress,
		Error:     r.ErrorMessage.String,
		StartTime: r.StartTime,
	}

	if err := json.Unmarshal(r.Address, &job.Address); err != nil {
		return nil, fmt.Errorf("failed to unmarshal address: %w", err)
	}
	if len(r.Result) > 0 {
		var result domain.SearchResponse
		if err := json.Unmarshal(r.Result, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		job.Result = &result
	}
	if r.EndTime.Valid {
		end := r.EndTime.Time
		job.EndTime = &end
	}

	return job, nil
}

// Create inserts a new job
func (s *PostgresStore) Create(ctx context.Context, job *domain.SearchJob) error {
	query := `
		INSERT INTO search_jobs (job_id, status, progress, address, start_time)
		VALUES ($1, $2, $3, $4, $5)
	`

	address, err := json.Marshal(job.Address)
	if err != nil {
		return fmt.Errorf("failed to marshal address: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, job.ID, string(job.Status), job.Progress, address, job.StartTime); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Get retrieves a job by its ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.SearchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM search_jobs WHERE job_id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toJob()
}

// Claim moves a pending job to running with optimistic locking
func (s *PostgresStore) Claim(ctx context.Context, id string) (*domain.SearchJob, error) {
	query := `
		UPDATE search_jobs
		SET status = $1,
		    progress = GREATEST(progress, $2),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		string(domain.JobStatusRunning), domain.ProgressStarted, id, string(domain.JobStatusPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if exists, existsErr := s.exists(ctx, id); existsErr != nil {
				return nil, existsErr
			} else if !exists {
				return nil, domain.ErrJobNotFound
			}
			s.logger.Warn("Failed to claim job - already claimed",
				slog.String("job_id", id),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return row.toJob()
}

// Update writes the mutable fields of a non-terminal job
func (s *PostgresStore) Update(ctx context.Context, job *domain.SearchJob) error {
	query := `
		UPDATE search_jobs
		SET status = $1,
		    progress = GREATEST(progress, $2),
		    result = $3,
		    error_message = $4,
		    end_time = $5,
		    updated_at = NOW()
		WHERE job_id = $6
		  AND status NOT IN ($7, $8)
	`

	// nil interface so the driver sends NULL
	var result interface{}
	if job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		result = data
	}

	var errorMessage sql.NullString
	if job.Error != "" {
		errorMessage = sql.NullString{String: job.Error, Valid: true}
	}

	var endTime sql.NullTime
	if job.EndTime != nil {
		endTime = sql.NullTime{Time: *job.EndTime, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, query,
		string(job.Status), job.Progress, result, errorMessage, endTime, job.ID,
		string(domain.JobStatusCompleted), string(domain.JobStatusFailed))
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		exists, err := s.exists(ctx, job.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrJobNotFound
		}
		return domain.ErrJobFinalized
	}

	return nil
}

// Delete removes a job
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_jobs WHERE job_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Count returns the number of stored jobs
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM search_jobs`); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// DeleteTerminalBefore removes finished jobs started before cutoff
func (s *PostgresStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM search_jobs
		WHERE status IN ($1, $2)
		  AND start_time < $3
	`

	res, err := s.db.ExecContext(ctx, query,
		string(domain.JobStatusCompleted), string(domain.JobStatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return removed, nil
}

// AbandonStaleBefore fails unfinished jobs started before cutoff
func (s *PostgresStore) AbandonStaleBefore(ctx context.Context, cutoff, now time.Time, message string) (int64, error) {
	query := `
		UPDATE search_jobs
		SET status = $1,
		    result = NULL,
		    error_message = $2,
		    end_time = $3,
		    updated_at = NOW()
		WHERE status IN ($4, $5)
		  AND start_time < $6
	`

	res, err := s.db.ExecContext(ctx, query,
		string(domain.JobStatusFailed), message, now,
		string(domain.JobStatusPending), string(domain.JobStatusRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon stale jobs: %w", err)
	}

	abandoned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if abandoned > 0 {
		s.logger.Warn("Stale jobs abandoned",
			slog.Int64("count", abandoned),
			slog.Time("cutoff", cutoff),
		)
	}
	return abandoned, nil
}

// Stats tallies jobs per status
func (s *PostgresStore) Stats(ctx context.Context) (domain.JobStats, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM search_jobs GROUP BY status`); err != nil {
		return domain.JobStats{}, fmt.Errorf("failed to get job stats: %w", err)
	}

	var stats domain.JobStats
	for _, r := range rows {
		stats.Add(domain.JobStatus(r.Status), r.Count)
	}
	return stats, nil
}

func (s *PostgresStore) exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM search_jobs WHERE job_id = $1)`, id); err != nil {
		return false, fmt.Errorf("failed to check job: %w", err)
	}
	return exists, nil
}
