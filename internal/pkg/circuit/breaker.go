package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tiller/internal/logger"
)

// ErrOpen is returned when the breaker is open and no fallback was supplied.
var ErrOpen = errors.New("circuit breaker open: service unavailable")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// recoverySuccesses is how many consecutive half-open probes must succeed
// before the breaker closes again.
const recoverySuccesses = 3

// Snapshot is a read-only view of breaker state for observability.
type Snapshot struct {
	Name              string    `json:"name"`
	State             string    `json:"state"`
	Failures          int       `json:"failures"`
	HalfOpenSuccesses int       `json:"half_open_successes"`
	LastFailure       time.Time `json:"last_failure,omitempty"`
}

type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	halfOpenSuccess int
	threshold       int
	recoveryTimeout time.Duration
	lastFailure     time.Time
	name            string
	nowFn           func() time.Time
	onStateChange   func(name string, from, to State)
}

func NewCircuitBreaker(name string, threshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:            name,
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
		state:           StateClosed,
		nowFn:           time.Now,
	}
}

func (cb *CircuitBreaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

// Execute runs op under the breaker. While open, op is not invoked: the
// fallback runs instead if supplied, otherwise ErrOpen is returned. Once the
// recovery timeout has elapsed the next call is let through as a half-open
// probe.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error, fallback func(context.Context) error) error {
	if !cb.Allow() {
		if fallback != nil {
			return fallback(ctx)
		}
		return fmt.Errorf("%s: %w", cb.name, ErrOpen)
	}
	if err := op(ctx); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.nowFn().Sub(cb.lastFailure) > cb.recoveryTimeout {
			cb.transition(StateHalfOpen)
			cb.halfOpenSuccess = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= recoverySuccesses {
			cb.transition(StateClosed)
			cb.failures = 0
			cb.halfOpenSuccess = 0
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.nowFn()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.halfOpenSuccess = 0
		cb.transition(StateOpen)
	}
}

// Reset returns the breaker to CLOSED and zeroes all counters. Administrative
// use only.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
	cb.failures = 0
	cb.halfOpenSuccess = 0
	cb.lastFailure = time.Time{}
}

// State returns the current state without mutating it. A breaker that is OPEN
// but past its recovery timeout still reports OPEN until the next call probes.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:              cb.name,
		State:             cb.state.String(),
		Failures:          cb.failures,
		HalfOpenSuccesses: cb.halfOpenSuccess,
		LastFailure:       cb.lastFailure,
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to)
	} else {
		logger.Warnf("CircuitBreaker %s state change: %s -> %s (failures=%d/%d, recovery=%s)",
			cb.name, from, to, cb.failures, cb.threshold, cb.recoveryTimeout)
	}
}
