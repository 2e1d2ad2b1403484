package search

import (
	"context"
	"time"

	"github.com/cuongbtq/permit-search/internal/domain"
)

// Store persists search jobs. Implementations return copies, never shared pointers.
type Store interface {
	// Create inserts a new job
	Create(ctx context.Context, job *domain.SearchJob) error

	// Get returns domain.ErrJobNotFound for missing or evicted jobs
	Get(ctx context.Context, id string) (*domain.SearchJob, error)

	// Claim atomically moves a pending job to running.
	// It returns domain.ErrJobAlreadyClaimed when the job is not pending.
	Claim(ctx context.Context, id string) (*domain.SearchJob, error)

	// Update writes status, progress, result, error and end time.
	// It returns domain.ErrJobFinalized when the stored job is already terminal.
	Update(ctx context.Context, job *domain.SearchJob) error

	// Delete removes a job
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored jobs
	Count(ctx context.Context) (int, error)

	// DeleteTerminalBefore removes completed and failed jobs started before cutoff
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// AbandonStaleBefore fails pending and running jobs started before cutoff,
	// recording message and now as their end time
	AbandonStaleBefore(ctx context.Context, cutoff, now time.Time, message string) (int64, error)

	// Stats tallies jobs per status
	Stats(ctx context.Context) (domain.JobStats, error)
}
