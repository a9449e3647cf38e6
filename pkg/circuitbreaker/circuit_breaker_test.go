package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var errUpstream = errors.New("upstream down")

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func newTestBreaker(clock *fakeClock, opts Options) *CircuitBreaker {
	opts.Logger = quietLogger()
	opts.Now = clock.Now
	return NewWithOptions("graph", opts)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(999), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestNewWithOptions_Defaults(t *testing.T) {
	cb := NewWithOptions("graph", Options{})
	assert.Equal(t, uint32(5), cb.opts.MaxFailures)
	assert.Equal(t, 30*time.Second, cb.opts.ResetTimeout)
	assert.Equal(t, uint32(1), cb.opts.HalfOpenMaxCalls)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestExecute_TripsAfterMaxFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, Options{MaxFailures: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateClosed, cb.GetState())

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsCircuitBreakerError(err))
	assert.False(t, called)

	stats := cb.GetStats()
	assert.Equal(t, uint64(3), stats.Requests)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, uint32(2), stats.Failures)
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, Options{MaxFailures: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestExecute_IgnoresNonCountedErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	rejected := errors.New("template not found")
	cb := newTestBreaker(clock, Options{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, rejected) },
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func(context.Context) error { return rejected })
		assert.ErrorIs(t, err, rejected)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestRecovery_HalfOpenThenClosed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	cb := newTestBreaker(clock, Options{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Second,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
		},
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.GetState())

	clock.Advance(9 * time.Second)
	assert.Equal(t, StateOpen, cb.GetState())

	clock.Advance(time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestRecovery_FailureInHalfOpenReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, Options{MaxFailures: 1, ResetTimeout: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.GetState())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestHalfOpen_LimitsProbeCalls(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, Options{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(ctx, succeed)
	assert.True(t, IsCircuitBreakerError(err), "second probe must be rejected while the first is in flight")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestConcurrentExecute(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, Options{MaxFailures: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Execute(ctx, fail)
			} else {
				_ = cb.Execute(ctx, succeed)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(50), cb.GetStats().Requests)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestIsCircuitBreakerError(t *testing.T) {
	assert.True(t, IsCircuitBreakerError(&CircuitBreakerError{Name: "x", State: StateOpen}))
	assert.True(t, IsCircuitBreakerError(fmt.Errorf("wrapped: %w", &CircuitBreakerError{})))
	assert.False(t, IsCircuitBreakerError(errors.New("other")))
	assert.Equal(t, "circuit breaker 'x' is OPEN", (&CircuitBreakerError{Name: "x", State: StateOpen}).Error())
}
