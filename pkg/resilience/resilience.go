package resilience

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

type CircuitBreaker struct {
	maxFailures  uint32
	timeout      time.Duration
	state        State
	failures     uint32
	lastFailTime time.Time
	mu           sync.RWMutex
}

func NewCircuitBreaker(maxFailures uint32, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		state:       StateClosed,
	}
}

func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailTime) > cb.timeout {
			cb.state = StateHalfOpen
			cb.failures = 0
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailTime = time.Now()

		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}

		return err
	}

	if cb.state == StateHalfOpen {
		cb.state = StateClosed
	}

	cb.failures = 0
	return nil
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
}

// RetryConfig bounds the backoff applied to retryable failures. The wait for
// attempt n is drawn uniformly from [MinInterval, window] where the window
// starts at BaseInterval, doubles per attempt and is capped at MaxInterval.
type RetryConfig struct {
	MaxAttempts  int
	BaseInterval time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration
}

// DefaultRetryConfig matches the chat gateway's rate-limit policy: up to 10
// attempts, waits between 5s and 60s.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  10,
		BaseInterval: 1 * time.Second,
		MinInterval:  5 * time.Second,
		MaxInterval:  60 * time.Second,
	}
}

// ShouldRetry reports whether an attempt error is worth re-attempting.
type ShouldRetry func(error) bool

// WarnFunc is invoked once per retry, before the backoff sleep.
type WarnFunc func(attempt int, wait time.Duration, err error)

// RetryWithBackoff runs fn until it succeeds, returns a non-retryable error,
// or MaxAttempts is exhausted. Only the retrying caller sleeps; no shared
// lock is held across the wait.
func RetryWithBackoff(ctx context.Context, config *RetryConfig, retryable ShouldRetry, warn WarnFunc, fn func() error) error {
	var lastErr error
	window := config.BaseInterval

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !retryable(lastErr) || attempt == config.MaxAttempts {
			return lastErr
		}

		window *= 2
		upper := window
		if upper < config.MinInterval {
			upper = config.MinInterval
		}
		if upper > config.MaxInterval {
			upper = config.MaxInterval
		}

		wait := config.MinInterval
		if span := upper - config.MinInterval; span > 0 {
			wait += time.Duration(rand.Int63n(int64(span)))
		}

		if warn != nil {
			warn(attempt, wait, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return lastErr
}
