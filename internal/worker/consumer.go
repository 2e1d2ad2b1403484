package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	searchdomain "github.com/cuongbtq/permit-search/internal/domain"
	"github.com/cuongbtq/permit-search/internal/search"
	"github.com/cuongbtq/permit-search/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming with the configured prefetch window
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.broker.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// decodeMessage parses {"job_id": "..."} and checks the id format
func decodeMessage(delivery amqp.Delivery) (*domain.JobMessage, error) {
	var msg search.JobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	if !searchdomain.ValidJobID(msg.JobID) {
		return nil, fmt.Errorf("%w: malformed job_id %q", domain.ErrInvalidMessage, msg.JobID)
	}

	return &domain.JobMessage{
		JobID:       msg.JobID,
		DeliveryTag: delivery.DeliveryTag,
		Redelivered: delivery.Redelivered,
	}, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches jobs to worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return ErrDeliveriesClosed
			}

			jobMsg, err := decodeMessage(delivery)
			if err != nil {
				w.logger.Error("Rejecting invalid job message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages go to the DLQ, if one is configured
				if nackErr := w.broker.Nack(delivery.DeliveryTag, false); nackErr != nil {
					w.logger.Error("Failed to NACK invalid message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- jobMsg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", jobMsg.JobID),
					slog.Uint64("delivery_tag", jobMsg.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := w.broker.Nack(delivery.DeliveryTag, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return nil
			}
		}
	}
}
