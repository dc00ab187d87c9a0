// Package resilience provides circuit breaking and backend failover for the
// inference path.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] gives every backend its own breaker and tries them in
// order, and [InferenceFallback] exposes a group as an
// [inference.Provider].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. All of them
	// succeeding closes the breaker; any failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls in half-open. Default: 1.
	HalfOpenMax int

	// Ignore reports errors that say nothing about the backend's health.
	// They are returned but not counted. Default: context cancellation.
	Ignore func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// IsCancellation reports whether err comes from a cancelled context. A client
// hanging up mid-call must not trip the breaker.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	ignore       func(error) bool
	onChange     func(name string, from, to State)
	now          func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probes       int
	probeSuccess int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Ignore == nil {
		cfg.Ignore = IsCancellation
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		ignore:       cfg.Ignore,
		onChange:     cfg.OnStateChange,
		now:          cfg.Now,
	}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, transition, err := cb.admit()
	cb.notify(transition)
	if err != nil {
		return err
	}

	err = fn()

	cb.notify(cb.record(probe, err))
	return err
}

type stateChange struct {
	from, to State
	changed  bool
}

func (cb *CircuitBreaker) admit() (probe bool, tr stateChange, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, tr, ErrCircuitOpen
		}
		tr = cb.setState(StateHalfOpen)
		cb.probes, cb.probeSuccess = 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			return false, tr, ErrCircuitOpen
		}
		cb.probes++
		return true, tr, nil
	}
	return false, tr, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) stateChange {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err != nil && cb.ignore(err):
		if probe {
			// Give the probe slot back; the call told us nothing.
			cb.probes--
		}
		return stateChange{}

	case err != nil:
		if probe || cb.state == StateHalfOpen {
			cb.openedAt = cb.now()
			return cb.setState(StateOpen)
		}
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.maxFailures {
			cb.openedAt = cb.now()
			return cb.setState(StateOpen)
		}
		return stateChange{}

	case probe:
		cb.probeSuccess++
		if cb.state == StateHalfOpen && cb.probeSuccess >= cb.halfOpenMax {
			cb.failures = 0
			return cb.setState(StateClosed)
		}
		return stateChange{}

	default:
		cb.failures = 0
		return stateChange{}
	}
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) stateChange {
	from := cb.state
	cb.state = to
	return stateChange{from: from, to: to, changed: from != to}
}

func (cb *CircuitBreaker) notify(tr stateChange) {
	if !tr.changed {
		return
	}
	level := slog.LevelInfo
	if tr.to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state changed",
		"name", cb.name, "from", tr.from.String(), "to", tr.to.String())
	if cb.onChange != nil {
		cb.onChange(cb.name, tr.from, tr.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.setState(StateClosed)
	cb.failures, cb.probes, cb.probeSuccess = 0, 0, 0
	cb.mu.Unlock()
	cb.notify(tr)
}
