package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is the position of a CircuitBreaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "closed"
}

// CircuitBreaker stops calling a remote after threshold consecutive
// failures. After reset it lets one probe through: success closes it,
// failure opens it again.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	reset     time.Duration
	openedAt  time.Time
	probing   bool
	now       func() time.Time
}

// NewCircuitBreaker creates a closed breaker. Zero values default to 5
// failures and 30s.
func NewCircuitBreaker(threshold int, reset time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, reset: reset, now: time.Now}
}

// State reports the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// Allow reports whether a call may proceed. In half-open only one caller
// at a time gets through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	switch cb.state {
	case BreakerOpen:
		return false
	case BreakerHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
	}
	return true
}

// Done records the outcome of an allowed call.
func (cb *CircuitBreaker) Done(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err == nil {
		cb.state = BreakerClosed
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.state == BreakerHalfOpen || cb.failures >= cb.threshold {
		cb.state = BreakerOpen
		cb.openedAt = cb.now()
	}
}

// release forgets an allowed call without judging the remote.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

// advance moves an open breaker to half-open once reset has elapsed.
func (cb *CircuitBreaker) advance() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.reset {
		cb.state = BreakerHalfOpen
	}
}

// WithCircuitBreaker rejects calls with ErrCircuitOpen while cb is open.
// A cancelled caller does not count as a remote failure.
func WithCircuitBreaker(cb *CircuitBreaker, service string) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if !cb.Allow() {
				return nil, &ErrCircuitOpen{Service: service}
			}
			resp, err := next(ctx, payload)
			if err != nil && errors.Is(ctx.Err(), context.Canceled) {
				cb.release()
				return nil, err
			}
			cb.Done(err)
			return resp, err
		}
	}
}
