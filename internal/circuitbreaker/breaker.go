// Package circuitbreaker adapts sony/gobreaker to the error-only calls made by
// the search pipeline.
package circuitbreaker

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State of the breaker
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Errors returned without calling fn
var (
	ErrCircuitOpen     = gobreaker.ErrOpenState
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

// Config holds breaker thresholds; zero values take defaults
type Config struct {
	Name string

	// FailureThreshold consecutive failures open the breaker
	FailureThreshold uint32

	// SuccessThreshold is both the number of trial calls let through while
	// half-open and the consecutive successes needed to close again
	SuccessThreshold uint32

	ResetTimeout time.Duration

	// OnStateChange is called on every transition
	OnStateChange func(name string, from, to State)
}

// Stats are the counters of the current generation plus rejections since creation
type Stats struct {
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalSuccesses      uint32 `json:"total_successes"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	Rejected            uint64 `json:"rejected"`
}

// CircuitBreaker stops calling a failing dependency until it recovers
type CircuitBreaker struct {
	cb       *gobreaker.CircuitBreaker[struct{}]
	rejected atomic.Uint64
}

// New creates a closed breaker
func New(config Config) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 3
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = 60 * time.Second
	}

	threshold := config.FailureThreshold
	return &CircuitBreaker{
		cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        config.Name,
			MaxRequests: config.SuccessThreshold,
			Timeout:     config.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: config.OnStateChange,
		}),
	}
}

// Execute runs fn unless the breaker rejects the call
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
		b.rejected.Add(1)
	}
	return err
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports HalfOpen.
func (b *CircuitBreaker) State() State {
	return b.cb.State()
}

// IsOpen reports whether calls are currently being rejected outright
func (b *CircuitBreaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Name identifies the breaker in logs
func (b *CircuitBreaker) Name() string {
	return b.cb.Name()
}

// Stats returns a snapshot of the counters
func (b *CircuitBreaker) Stats() Stats {
	state := b.cb.State()
	counts := b.cb.Counts()
	return Stats{
		State:               state.String(),
		Requests:            counts.Requests,
		TotalSuccesses:      counts.TotalSuccesses,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		Rejected:            b.rejected.Load(),
	}
}
