package domain

import "errors"

var (
	// ErrInvalidMessage is returned when a queue message is not a usable job announcement
	ErrInvalidMessage = errors.New("invalid job message")

	// ErrRedeliveryExhausted is returned when a redelivered job fails again
	ErrRedeliveryExhausted = errors.New("job already redelivered once")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
