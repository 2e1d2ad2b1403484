package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// JobMessage is the queue payload announcing a job to workers
type JobMessage struct {
	JobID string `json:"job_id"`
}

// Dispatcher hands a created job to whatever executes it
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// JobRunner executes a job without reporting errors
type JobRunner interface {
	ExecuteJob(ctx context.Context, id string)
}

// InlineDispatcher runs each job in its own goroutine inside the api-service
type InlineDispatcher struct {
	base    context.Context
	runner  JobRunner
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewInlineDispatcher creates a dispatcher whose jobs stop when base is cancelled
func NewInlineDispatcher(base context.Context, runner JobRunner, timeout time.Duration) *InlineDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &InlineDispatcher{
		base:    base,
		runner:  runner,
		timeout: timeout,
	}
}

// Dispatch starts the job and returns immediately. The request context is not
// used for the job so it outlives the HTTP request.
func (d *InlineDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(d.base, d.timeout)
		defer cancel()

		d.runner.ExecuteJob(ctx, jobID)
	}()
	return nil
}

// Wait blocks until every dispatched job has returned
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// Publisher sends a message to the job queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// QueueDispatcher publishes job ids for the worker-service
type QueueDispatcher struct {
	publisher Publisher
}

// NewQueueDispatcher creates a QueueDispatcher instance
func NewQueueDispatcher(publisher Publisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher}
}

// Dispatch publishes {"job_id": ...}
func (d *QueueDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := d.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", jobID, err)
	}
	return nil
}
