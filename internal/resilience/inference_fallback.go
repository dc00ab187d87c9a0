package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxgate/pkg/provider/inference"
)

var _ inference.Provider = (*InferenceFallback)(nil)

// InferenceFallback is an [inference.Provider] that fails over across a
// primary and fallback backends.
type InferenceFallback struct {
	group *FallbackGroup[inference.Provider]
}

// NewInferenceFallback creates an InferenceFallback with primary as the
// first backend.
func NewInferenceFallback(primary inference.Provider, name string, cfg FallbackConfig) *InferenceFallback {
	return &InferenceFallback{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback appends a backend tried after the primary.
func (f *InferenceFallback) AddFallback(name string, p inference.Provider) {
	f.group.AddFallback(name, p)
}

// Group exposes the underlying group for inspection.
func (f *InferenceFallback) Group() *FallbackGroup[inference.Provider] { return f.group }

// Infer sends req to the first backend that answers. Breaker rejections and
// exhausted failover are reported as [inference.ErrInference] so callers see
// a single error class for backend trouble.
func (f *InferenceFallback) Infer(ctx context.Context, req inference.Request) (*inference.Response, error) {
	resp, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, p inference.Provider) (*inference.Response, error) {
		return p.Infer(ctx, req)
	})
	if err != nil && !errors.Is(err, inference.ErrInference) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %w", inference.ErrInference, err)
	}
	return resp, err
}

// Ready succeeds when at least one backend is ready. Otherwise it returns
// every backend's error.
func (f *InferenceFallback) Ready(ctx context.Context) error {
	var errs []error
	err := f.group.Each(func(name string, p inference.Provider) error {
		err := p.Ready(ctx)
		if err == nil {
			return errReady
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		return nil
	})
	if errors.Is(err, errReady) {
		return nil
	}
	return fmt.Errorf("resilience: no inference backend ready: %w", errors.Join(errs...))
}

var errReady = errors.New("ready")
