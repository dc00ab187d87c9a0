package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures the breaker created for each entry of a
// [FallbackGroup]. Name is overwritten per entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallback backends of the
// same type, each behind its own [CircuitBreaker]. Calls go to the first
// entry whose breaker admits them; on failure the next entry is tried in
// registration order.
//
// Register all entries with [FallbackGroup.AddFallback] before the group is
// shared. After that the group is safe for concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend. Fallbacks are tried after the primary in the
// order they were added.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of entries, primary included.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Names returns the entry names in call order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// States returns each entry's breaker state keyed by entry name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Each calls fn for every entry in order, stopping at the first error.
func (fg *FallbackGroup[T]) Each(fn func(name string, v T) error) error {
	for _, e := range fg.entries {
		if err := fn(e.name, e.value); err != nil {
			return err
		}
	}
	return nil
}

// Execute tries fn against each entry until one succeeds. See
// [ExecuteWithResult] for the failover rules.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry of fg until one succeeds and
// returns its result. Entries with an open breaker are skipped. Failover
// stops as soon as ctx is done, and the context error is returned unwrapped.
// When every entry fails the error wraps both [ErrAllFailed] and the last
// backend error.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(ctx, entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend, circuit open", "backend", entry.name)
			continue
		}
		if i < len(fg.entries)-1 {
			slog.Warn("backend failed, trying next", "backend", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
