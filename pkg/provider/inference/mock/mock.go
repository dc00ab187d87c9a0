// Package mock provides a test double for the inference.Provider interface.
//
// Provider records every request, tracks how many Infer calls run at the same
// time and can hold calls open until the test releases them. This makes it
// the instrument for single-flight and disconnect tests.
//
// Example:
//
//	p := &mock.Provider{
//	    Response: &inference.Response{Text: "Hello!", Audio: pcm, SampleRate: 24000},
//	    Release:  make(chan struct{}),
//	}
//	// ... trigger inference, then:
//	close(p.Release)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxgate/pkg/provider/inference"
)

// Call records a single invocation of Infer.
type Call struct {
	// Req is the Request passed to Infer.
	Req inference.Request
}

// Provider is a mock implementation of inference.Provider.
// A nil Response echoes the request audio back with an empty transcript.
type Provider struct {
	mu sync.Mutex

	// Response is returned by Infer.
	Response *inference.Response

	// Err, if non-nil, is returned as the error from Infer.
	Err error

	// ReadyErr, if non-nil, is returned from Ready.
	ReadyErr error

	// Started, if non-nil, receives one value each time an Infer call begins.
	// The send gives up when the call's context ends.
	Started chan struct{}

	// Release, if non-nil, blocks every Infer call until it is closed or
	// receives a value, or the call's context ends.
	Release chan struct{}

	// Calls records every invocation of Infer in order.
	Calls []Call

	// ReadyCallCount is the number of times Ready was called.
	ReadyCallCount int

	inFlight    int
	maxInFlight int
}

// Infer records the call, optionally waits for Release and returns the
// configured response.
func (p *Provider) Infer(ctx context.Context, req inference.Request) (*inference.Response, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Req: req})
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	started, release := p.Started, p.Release
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if started != nil {
		select {
		case started <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Response != nil {
		r := *p.Response
		return &r, nil
	}
	return &inference.Response{Audio: req.Audio, SampleRate: req.SampleRate}, nil
}

// Ready records the call and returns ReadyErr.
func (p *Provider) Ready(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadyCallCount++
	return p.ReadyErr
}

// CallCount returns the number of Infer calls so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// InFlight returns the number of Infer calls currently running. Thread-safe.
func (p *Provider) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// MaxInFlight returns the highest number of Infer calls that ran at the same
// time. Thread-safe.
func (p *Provider) MaxInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

// Reset clears all recorded calls and counters. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.ReadyCallCount = 0
	p.maxInFlight = p.inFlight
}

var _ inference.Provider = (*Provider)(nil)
