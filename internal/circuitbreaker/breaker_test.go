package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

const testResetTimeout = 40 * time.Millisecond

func newTestBreaker(successThreshold uint32) *CircuitBreaker {
	return New(Config{
		Name:             "ai_extraction",
		FailureThreshold: 3,
		SuccessThreshold: successThreshold,
		ResetTimeout:     testResetTimeout,
	})
}

func trip(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	}
	require.Equal(t, StateOpen, cb.State())
}

func waitHalfOpen(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	require.Eventually(t, func() bool { return cb.State() == StateHalfOpen }, time.Second, 5*time.Millisecond)
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, ResetTimeout: time.Hour})

	trip(t, cb)
	assert.True(t, cb.IsOpen())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	stats := cb.Stats()
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, "open", stats.State)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(2)

	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errBoom })

	assert.Equal(t, StateClosed, cb.State())
	stats := cb.Stats()
	assert.Equal(t, uint32(4), stats.Requests)
	assert.Equal(t, uint32(3), stats.TotalFailures)
	assert.Equal(t, uint32(1), stats.ConsecutiveFailures)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := newTestBreaker(2)
	trip(t, cb)

	waitHalfOpen(t, cb)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(2)
	trip(t, cb)

	waitHalfOpen(t, cb)
	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)

	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenLimitsTrials(t *testing.T) {
	cb := newTestBreaker(1)
	trip(t, cb)
	waitHalfOpen(t, cb)

	var inner error
	err := cb.Execute(func() error {
		inner = cb.Execute(func() error { return nil })
		return nil
	})

	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrTooManyRequests)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint64(1), cb.Stats().Rejected)
}

func TestCircuitBreaker_StatsAgreeWithState(t *testing.T) {
	cb := newTestBreaker(2)
	trip(t, cb)
	assert.Equal(t, "open", cb.Stats().State)

	waitHalfOpen(t, cb)
	assert.Equal(t, cb.State().String(), cb.Stats().State)
	assert.Equal(t, "half-open", cb.Stats().State)
	assert.Zero(t, cb.Stats().Requests)
}

func TestCircuitBreaker_ReportsTransitions(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	cb := New(Config{
		Name:             "ai_extraction",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		ResetTimeout:     testResetTimeout,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(func() error { return errBoom })
	waitHalfOpen(t, cb)
	require.NoError(t, cb.Execute(func() error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"ai_extraction:closed->open",
		"ai_extraction:open->half-open",
		"ai_extraction:half-open->closed",
	}, transitions)
}

func TestNew_Defaults(t *testing.T) {
	cb := New(Config{})

	assert.Equal(t, "default", cb.Name())
	for i := 0; i < 4; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}
	assert.Equal(t, StateClosed, cb.State())
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())
}
