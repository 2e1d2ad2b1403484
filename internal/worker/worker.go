package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	searchdomain "github.com/cuongbtq/permit-search/internal/domain"
	"github.com/cuongbtq/permit-search/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the queue side of the worker
type Broker interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
	Ack(deliveryTag uint64) error
	Nack(deliveryTag uint64, requeue bool) error
}

// JobRunner drives a claimed search job to a terminal state
type JobRunner interface {
	Run(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*searchdomain.SearchJob, error)
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Broker        Broker
	Runner        JobRunner
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
	WorkerID      string
}

// Worker consumes job announcements and runs them on a bounded pool
type Worker struct {
	logger        *slog.Logger
	broker        Broker
	runner        JobRunner
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	workerID      string
	jobsChan      chan *domain.JobMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
	stopOnce      sync.Once

	// runCtx outlives the Start context so a shutdown signal does not cancel
	// jobs already running; Stop cancels it once its own deadline passes
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	runCtx, cancelRuns := context.WithCancel(context.Background())

	return &Worker{
		logger:        cfg.Logger,
		broker:        cfg.Broker,
		runner:        cfg.Runner,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobTimeout:    cfg.JobTimeout,
		workerID:      workerID,
		jobsChan:      make(chan *domain.JobMessage),
		stopChan:      make(chan struct{}),
		runCtx:        runCtx,
		cancelRuns:    cancelRuns,
	}
}

// ErrDeliveriesClosed is returned by Start when the broker stops delivering
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Start consumes until ctx is cancelled or the delivery channel closes.
// Cancelling ctx only stops intake; jobs already handed to the pool keep running until Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool()

	if err := w.startMessageDispatcher(ctx, deliveries); err != nil {
		return err
	}

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop waits for in-flight jobs to finish. If ctx ends first, the jobs are
// cancelled, Stop waits for them to be settled and returns ctx.Err().
func (w *Worker) Stop(ctx context.Context) error {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancelRuns()
		w.logger.Info("Worker stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Shutdown deadline reached, cancelling in-flight jobs")
		w.cancelRuns()
		<-done
		return ctx.Err()
	}
}
