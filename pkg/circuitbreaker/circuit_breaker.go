package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
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

// Options configures a CircuitBreaker. Zero values fall back to defaults.
type Options struct {
	MaxFailures      uint32
	ResetTimeout     time.Duration
	HalfOpenMaxCalls uint32
	// IsFailure decides whether an error counts toward tripping. Errors it
	// rejects are returned to the caller without touching the breaker.
	IsFailure     func(error) bool
	OnStateChange func(name string, from, to State)
	Logger        *logrus.Logger
	Now           func() time.Time
}

// CircuitBreaker stops calling a failing upstream for ResetTimeout once
// MaxFailures consecutive counted failures have been seen.
type CircuitBreaker struct {
	name string
	opts Options

	mu              sync.Mutex
	state           State
	failures        uint32
	lastFailureTime time.Time
	halfOpenCalls   uint32
	successCount    uint32
	requestCount    uint64
	rejectedCount   uint64
}

// New creates a breaker that counts every error as a failure.
func New(name string, maxFailures uint32, timeout time.Duration) *CircuitBreaker {
	return NewWithOptions(name, Options{MaxFailures: maxFailures, ResetTimeout: timeout})
}

func NewWithOptions(name string, opts Options) *CircuitBreaker {
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 30 * time.Second
	}
	if opts.HalfOpenMaxCalls == 0 {
		opts.HalfOpenMaxCalls = 1
	}
	if opts.IsFailure == nil {
		opts.IsFailure = func(err error) bool { return err != nil }
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CircuitBreaker{name: name, opts: opts, state: StateClosed}
}

// Execute runs fn if the breaker allows it.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return &CircuitBreakerError{Name: cb.name, State: StateOpen}
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requestCount++
	cb.advance()

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.opts.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			return true
		}
	}
	cb.rejectedCount++
	return false
}

// advance moves an open breaker to half-open once the reset timeout passed.
// Callers hold mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.opts.Now().Sub(cb.lastFailureTime) >= cb.opts.ResetTimeout {
		cb.halfOpenCalls = 0
		cb.successCount = 0
		cb.transition(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.opts.IsFailure(err) {
		cb.failures++
		cb.lastFailureTime = cb.opts.Now()
		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.opts.MaxFailures {
				cb.transition(StateOpen)
			}
		case StateHalfOpen:
			cb.transition(StateOpen)
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.opts.HalfOpenMaxCalls {
			cb.failures = 0
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
	}
}

// transition changes state and reports it. Callers hold mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	entry := cb.opts.Logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"from":            from.String(),
		"state":           to.String(),
	})
	if to == StateOpen {
		entry.WithField("failures", cb.failures).Warn("Circuit breaker opened")
	} else {
		entry.Info("Circuit breaker state changed")
	}
	if cb.opts.OnStateChange != nil {
		cb.opts.OnStateChange(cb.name, from, to)
	}
}

// GetState returns the current state, applying any pending open to half-open move.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requestCount,
		Rejected:        cb.rejectedCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name            string    `json:"name"`
	State           State     `json:"-"`
	Failures        uint32    `json:"failures"`
	Requests        uint64    `json:"requests"`
	Rejected        uint64    `json:"rejected"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

// CircuitBreakerError is returned when the breaker rejects a call.
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
