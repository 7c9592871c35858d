package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// sat behind an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures the per-entry breaker of every provider in a
// [FallbackGroup].
type FallbackConfig struct {
	Breaker BreakerConfig
}

// entry pairs one provider with its dedicated breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup chains a primary provider with zero or more fallbacks of the
// same type. Calls go to the first entry whose breaker admits them and that
// does not fail; entries are tried in registration order.
//
// FallbackGroup is safe for concurrent use once assembled. AddFallback is
// for wiring time, not for concurrent mutation.
type FallbackGroup[T any] struct {
	entries []entry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](name string, primary T, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.add(name, primary)
	return g
}

// AddFallback appends one fallback provider. Fallbacks are tried in the
// order they were added, after the primary.
func (g *FallbackGroup[T]) AddFallback(name string, fallback T) {
	g.add(name, fallback)
}

func (g *FallbackGroup[T]) add(name string, value T) {
	cfg := g.cfg.Breaker
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Primary returns the first entry's provider, for metadata queries that must
// not fail over (a fallback model's capabilities are not the primary's).
func (g *FallbackGroup[T]) Primary() T {
	return g.entries[0].value
}

// Execute tries fn against each entry in order until one succeeds. Entries
// behind an open breaker are skipped. When ctx is done after a failure the
// chain stops and that failure is returned as-is: retrying a barge-in abort
// against the next backend would only waste its breaker budget. If every
// entry fails the last error is wrapped in [ErrAllFailed].
func (g *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	var last error
	for i := range g.entries {
		e := &g.entries[i]
		err := e.breaker.Execute(func() error { return fn(e.value) })
		if err == nil {
			return nil
		}
		last = err
		if ctx.Err() != nil {
			return err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider, circuit open", "provider", e.name)
		} else {
			slog.Warn("resilience: provider failed, trying next",
				"provider", e.name, "err", err)
		}
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, last)
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that return a
// value. It is a package function because methods cannot add type
// parameters.
func ExecuteWithResult[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		last error
		zero R
	)
	for i := range g.entries {
		e := &g.entries[i]
		var result R
		err := e.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(e.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		last = err
		if ctx.Err() != nil {
			return zero, err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider, circuit open", "provider", e.name)
		} else {
			slog.Warn("resilience: provider failed, trying next",
				"provider", e.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, last)
}
