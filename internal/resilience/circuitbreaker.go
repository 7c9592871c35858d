// Package resilience keeps a flaky speech or language backend from dragging
// the whole server down with it. [Breaker] is a three-state circuit breaker
// (closed → open → half-open) that stops hammering a backend once it fails
// repeatedly; [FallbackGroup] chains same-typed providers behind per-entry
// breakers, and [ASRFallback], [LLMFallback] and [TTSFallback] wrap the
// chains as drop-in providers so the rest of the server never knows failover
// happened.
//
// Aborts are not failures. Sessions cancel provider calls all the time —
// barge-in interrupts a reply mid-synthesis, a device disconnects mid-turn —
// and none of that says anything about backend health, so outcomes caused by
// context cancellation leave every breaker counter untouched.
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

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker is open
// and the reset timeout has not elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure reopens it.
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

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages, normally the provider name
	// from the configuration. No behavioural effect.
	Name string

	// MaxFailures is how many consecutive failures trip a closed breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before letting probes
	// through. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is both the probe budget of the half-open state and the
	// number of successes that close the breaker again. Default 3.
	HalfOpenProbes int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name           string
	maxFailures    int
	resetTimeout   time.Duration
	halfOpenProbes int

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// NewBreaker creates a breaker, filling zero config fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}
	return &Breaker{
		name:           cfg.Name,
		maxFailures:    cfg.MaxFailures,
		resetTimeout:   cfg.ResetTimeout,
		halfOpenProbes: cfg.HalfOpenProbes,
		state:          StateClosed,
	}
}

// Execute runs fn unless the breaker rejects it, and settles the outcome
// into the breaker's accounting. fn's error is returned as-is; only an open
// breaker substitutes [ErrCircuitOpen].
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it counts as a
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenFails = 0
		slog.Info("resilience: breaker half-open", "name", b.name)
		b.halfOpenCalls++
		return true, nil

	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenProbes {
			return false, ErrCircuitOpen
		}
		b.halfOpenCalls++
		return true, nil

	default:
		return false, nil
	}
}

// settle folds one call outcome into the breaker state.
func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A cancelled call is the session's doing, not the backend's: it counts
	// neither way, and a cancelled probe hands its slot back.
	if err != nil && errors.Is(err, context.Canceled) {
		if probe && b.halfOpenCalls > 0 {
			b.halfOpenCalls--
		}
		return
	}

	if err != nil {
		b.fail(probe)
		return
	}
	b.succeed(probe)
}

func (b *Breaker) fail(probe bool) {
	b.lastFailure = time.Now()

	if probe && b.state == StateHalfOpen {
		b.halfOpenFails++
		b.state = StateOpen
		b.consecutiveFail = b.maxFailures
		slog.Warn("resilience: breaker reopened by failed probe", "name", b.name)
		return
	}

	b.consecutiveFail++
	if b.state == StateClosed && b.consecutiveFail >= b.maxFailures {
		b.state = StateOpen
		slog.Warn("resilience: breaker opened",
			"name", b.name, "consecutive_failures", b.consecutiveFail)
	}
}

func (b *Breaker) succeed(probe bool) {
	if probe && b.state == StateHalfOpen {
		if b.halfOpenCalls-b.halfOpenFails >= b.halfOpenProbes {
			b.state = StateClosed
			b.consecutiveFail = 0
			b.halfOpenCalls = 0
			b.halfOpenFails = 0
			slog.Info("resilience: breaker closed after successful probes",
				"name", b.name)
		}
		return
	}
	b.consecutiveFail = 0
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports half-open; the stored transition happens on the next
// Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastFailure) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFail = 0
	b.halfOpenCalls = 0
	b.halfOpenFails = 0
}
