package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned without calling the guarded function
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreaker stops calling a failing dependency for a cool-down period.
// The gateway puts one in front of the durable directory so that a dead
// database turns into fast rejections instead of requests piling up on
// connection timeouts.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	state        State
	failureCount int
	successCount int
	probing      bool
	openedAt     time.Time
	changedAt    time.Time

	// Configuration
	maxFailures     int
	timeout         time.Duration
	halfOpenSuccess int
	now             func() time.Time
	isFailure       func(error) bool
	onStateChange   func(name string, from, to State)
}

type Config struct {
	Name            string
	MaxFailures     int           // Consecutive failures before opening. Default: 5
	Timeout         time.Duration // How long to stay open. Default: 30 seconds
	HalfOpenSuccess int           // Successes needed in half-open to close. Default: 1

	// OnStateChange is called with the breaker lock held; it must not call
	// back into the breaker.
	OnStateChange func(name string, from, to State)
	Now           func() time.Time

	// IsFailure decides whether an error counts against the dependency.
	// Errors it rejects leave the breaker untouched. Default: everything
	// except context.Canceled, which means the caller went away.
	IsFailure func(error) bool
}

// IgnoreCanceled is the default failure classifier.
func IgnoreCanceled(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenSuccess <= 0 {
		cfg.HalfOpenSuccess = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = IgnoreCanceled
	}

	return &CircuitBreaker{
		name:            cfg.Name,
		state:           StateClosed,
		maxFailures:     cfg.MaxFailures,
		timeout:         cfg.Timeout,
		halfOpenSuccess: cfg.HalfOpenSuccess,
		now:             cfg.Now,
		isFailure:       cfg.IsFailure,
		onStateChange:   cfg.OnStateChange,
		changedAt:       cfg.Now(),
	}
}

// Call runs fn unless the breaker is open. While half-open only one probe is
// let through at a time; concurrent callers are rejected until it finishes.
func (cb *CircuitBreaker) Call(fn func() error) error {
	probe, err := cb.before()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	// Calls admitted before the breaker went half-open say nothing about
	// the dependency's recovery; only the probe decides.
	if !probe && cb.state == StateHalfOpen {
		return err
	}
	if err != nil {
		if cb.isFailure(err) {
			cb.onFailure()
		}
		return err
	}

	cb.onSuccess()
	return nil
}

// before reports whether the call is the half-open probe.
func (cb *CircuitBreaker) before() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.timeout {
			return false, ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.successCount = 0
		cb.failureCount = 0
	}

	if cb.probing {
		return false, ErrCircuitOpen
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++

	switch cb.state {
	case StateHalfOpen:
		cb.trip()
	case StateClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenSuccess {
			cb.setState(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.successCount = 0
	cb.setState(StateOpen)
}

func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	from := cb.state
	cb.state = newState
	cb.changedAt = cb.now()

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, newState)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker regardless of its history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
}

// Snapshot returns the breaker's current counters, for the health endpoint.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Snapshot{
		Name:         cb.name,
		State:        cb.state,
		FailureCount: cb.failureCount,
		OpenedAt:     cb.openedAt,
		ChangedAt:    cb.changedAt,
	}
}

type Snapshot struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	FailureCount int       `json:"failure_count"`
	OpenedAt     time.Time `json:"opened_at,omitempty"`
	ChangedAt    time.Time `json:"changed_at"`
}
