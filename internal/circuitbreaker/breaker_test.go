package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDirectory = errors.New("directory unavailable")

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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock, *[]string) {
	clock := &fakeClock{now: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string

	cb := New(Config{
		Name:        "directory",
		MaxFailures: maxFailures,
		Timeout:     10 * time.Second,
		Now:         clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	return cb, clock, &transitions
}

func fail() error    { return errDirectory }
func succeed() error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _, transitions := newTestBreaker(3)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Call(fail), errDirectory)
	}
	require.NoError(t, cb.Call(succeed))
	assert.Equal(t, StateClosed, cb.State(), "a success resets the failure streak")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Call(fail), errDirectory)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"directory:closed->open"}, *transitions)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb, clock, transitions := newTestBreaker(1)

	require.Error(t, cb.Call(fail))
	clock.Advance(9 * time.Second)
	assert.ErrorIs(t, cb.Call(succeed), ErrCircuitOpen)

	clock.Advance(time.Second)
	require.ErrorIs(t, cb.Call(fail), errDirectory)
	assert.Equal(t, StateOpen, cb.State(), "a failed probe reopens the breaker")

	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Call(succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{
		"directory:closed->open",
		"directory:open->half-open",
		"directory:half-open->open",
		"directory:open->half-open",
		"directory:half-open->closed",
	}, *transitions)
}

func TestBreakerAllowsSingleProbe(t *testing.T) {
	cb, clock, _ := newTestBreaker(1)

	require.Error(t, cb.Call(fail))
	clock.Advance(10 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Call(func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Call(succeed), ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Call(succeed))
}

func TestBreakerIgnoresCanceledCalls(t *testing.T) {
	cb, _, transitions := newTestBreaker(2)

	for i := 0; i < 5; i++ {
		err := cb.Call(func() error { return fmt.Errorf("find key: %w", context.Canceled) })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Snapshot().FailureCount)
	assert.Empty(t, *transitions)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Call(func() error { return context.DeadlineExceeded }), context.DeadlineExceeded)
	}
	assert.Equal(t, StateOpen, cb.State(), "timeouts count against the dependency")
}

func TestBreakerCanceledProbeKeepsHalfOpen(t *testing.T) {
	cb, clock, _ := newTestBreaker(1)

	require.Error(t, cb.Call(fail))
	clock.Advance(10 * time.Second)

	assert.ErrorIs(t, cb.Call(func() error { return context.Canceled }), context.Canceled)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Call(succeed), "the next caller gets to probe")
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerCustomFailureClassifier(t *testing.T) {
	errNotFound := errors.New("record not found")
	cb := New(Config{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, errNotFound) },
	})

	require.ErrorIs(t, cb.Call(func() error { return errNotFound }), errNotFound)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerOnlyProbeDecidesHalfOpen(t *testing.T) {
	cb, clock, _ := newTestBreaker(1)

	staleRelease := make(chan struct{})
	staleStarted := make(chan struct{})
	staleDone := make(chan error)
	go func() {
		staleDone <- cb.Call(func() error {
			close(staleStarted)
			<-staleRelease
			return nil
		})
	}()
	<-staleStarted

	require.Error(t, cb.Call(fail))
	require.Equal(t, StateOpen, cb.State())
	clock.Advance(10 * time.Second)

	probeRelease := make(chan struct{})
	probeStarted := make(chan struct{})
	probeDone := make(chan error)
	go func() {
		probeDone <- cb.Call(func() error {
			close(probeStarted)
			<-probeRelease
			return errDirectory
		})
	}()
	<-probeStarted

	close(staleRelease)
	require.NoError(t, <-staleDone)
	assert.Equal(t, StateHalfOpen, cb.State(), "a call admitted while closed must not close a half-open breaker")

	close(probeRelease)
	assert.ErrorIs(t, <-probeDone, errDirectory)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerResetAndSnapshot(t *testing.T) {
	cb, clock, _ := newTestBreaker(2)

	require.Error(t, cb.Call(fail))
	snap := cb.Snapshot()
	assert.Equal(t, "directory", snap.Name)
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 1, snap.FailureCount)

	require.Error(t, cb.Call(fail))
	snap = cb.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, clock.Now(), snap.OpenedAt)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Call(succeed))
}

func TestStateMarshalText(t *testing.T) {
	text, err := StateHalfOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "half-open", string(text))
	assert.Equal(t, "unknown", State(42).String())
}
