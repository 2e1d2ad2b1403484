package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	searchdomain "github.com/cuongbtq/permit-search/internal/domain"
	"github.com/cuongbtq/permit-search/internal/worker/domain"
)

const statusLookupTimeout = 5 * time.Second

// processJob runs one search job under the job timeout. A nil return means the
// job reached a terminal state and the message can be acknowledged.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
		slog.Bool("redelivered", msg.Redelivered),
	)

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if w.jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
	}
	defer cancel()

	err := w.runner.Run(jobCtx, msg.JobID)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, searchdomain.ErrJobAlreadyClaimed),
		errors.Is(err, searchdomain.ErrJobNotFound),
		errors.Is(err, searchdomain.ErrJobFinalized):
		// another worker owns it, or it was evicted
		return err
	}

	if msg.Redelivered {
		return fmt.Errorf("%w: %v", domain.ErrRedeliveryExhausted, err)
	}

	lookupCtx, lookupCancel := context.WithTimeout(context.WithoutCancel(ctx), statusLookupTimeout)
	defer lookupCancel()

	job, getErr := w.runner.GetJob(lookupCtx, msg.JobID)
	if getErr != nil {
		w.logger.Error("Failed to look up job after error",
			slog.String("job_id", msg.JobID),
			slog.String("error", getErr.Error()),
		)
		return domain.NewRetryableError(err)
	}

	if job.Status == searchdomain.JobStatusPending {
		return domain.NewRetryableError(err)
	}
	return err
}
