package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	secondWindow = time.Second
	minuteWindow = time.Minute

	// DefaultBuffer is added to every computed wait so the blocking
	// timestamp has actually left its window when the caller wakes up
	DefaultBuffer = 100 * time.Millisecond
)

// ErrRateLimitExceeded is returned when a slot cannot be obtained within MaxWait
var ErrRateLimitExceeded = errors.New("rate limit exceeded, try later")

// Config holds the ceilings of a limiter
type Config struct {
	Name              string
	RequestsPerSecond int
	RequestsPerMinute int
	Burst             int           // extra requests allowed inside the one-second window
	MaxWait           time.Duration // zero means wait until the context ends
	Buffer            time.Duration
}

// External is the conservative profile for third-party government sites
func External() Config {
	return Config{Name: "external", RequestsPerSecond: 1, RequestsPerMinute: 30, MaxWait: 2 * time.Minute, Buffer: DefaultBuffer}
}

// Internal is the looser profile for internal APIs
func Internal() Config {
	return Config{Name: "internal", RequestsPerSecond: 5, RequestsPerMinute: 100, MaxWait: 2 * time.Minute, Buffer: DefaultBuffer}
}

// Limiter is a sliding-window limiter with a per-second and a per-minute ceiling
type Limiter struct {
	mu         sync.Mutex
	cfg        Config
	timestamps []time.Time
	now        func() time.Time
}

// New creates a limiter; non-positive ceilings fall back to the external profile
func New(cfg Config) *Limiter {
	def := External()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.Burst < 0 {
		cfg.Burst = 0
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}

	return &Limiter{
		cfg: cfg,
		now: time.Now,
	}
}

// Name returns the configured limiter name
func (l *Limiter) Name() string {
	return l.cfg.Name
}

// WaitForSlot blocks until a request may proceed and records it.
// It gives up with ErrRateLimitExceeded once MaxWait would be overrun.
func (l *Limiter) WaitForSlot(ctx context.Context) error {
	start := l.now()

	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if l.canMakeRequest(now) {
			l.timestamps = append(l.timestamps, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.calculateWaitTime(now)
		l.mu.Unlock()

		if l.cfg.MaxWait > 0 && now.Sub(start)+wait > l.cfg.MaxWait {
			return fmt.Errorf("%w: %s limiter needs %s more", ErrRateLimitExceeded, l.cfg.Name, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// CanMakeRequest reports whether a request would be admitted right now
func (l *Limiter) CanMakeRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	return l.canMakeRequest(now)
}

// CalculateWaitTime returns how long a caller would wait for the next slot
func (l *Limiter) CalculateWaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if l.canMakeRequest(now) {
		return 0
	}
	return l.calculateWaitTime(now)
}

// prune drops timestamps that left the minute window. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-minuteWindow)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}

func (l *Limiter) perSecondCap() int {
	return l.cfg.RequestsPerSecond + l.cfg.Burst
}

// inSecondWindow returns the suffix of timestamps newer than one second
func (l *Limiter) inSecondWindow(now time.Time) []time.Time {
	cutoff := now.Add(-secondWindow)
	for i, ts := range l.timestamps {
		if ts.After(cutoff) {
			return l.timestamps[i:]
		}
	}
	return nil
}

func (l *Limiter) canMakeRequest(now time.Time) bool {
	return len(l.inSecondWindow(now)) < l.perSecondCap() &&
		len(l.timestamps) < l.cfg.RequestsPerMinute
}

func (l *Limiter) calculateWaitTime(now time.Time) time.Duration {
	var wait time.Duration

	if recent := l.inSecondWindow(now); len(recent) >= l.perSecondCap() {
		blocking := recent[len(recent)-l.perSecondCap()]
		if d := blocking.Add(secondWindow).Sub(now); d > wait {
			wait = d
		}
	}

	if len(l.timestamps) >= l.cfg.RequestsPerMinute {
		blocking := l.timestamps[len(l.timestamps)-l.cfg.RequestsPerMinute]
		if d := blocking.Add(minuteWindow).Sub(now); d > wait {
			wait = d
		}
	}

	return wait + l.cfg.Buffer
}
