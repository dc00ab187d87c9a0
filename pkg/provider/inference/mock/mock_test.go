package mock_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/voxgate/pkg/provider/inference"
	"github.com/MrWong99/voxgate/pkg/provider/inference/mock"
)

func TestProvider_Echo(t *testing.T) {
	p := &mock.Provider{}
	resp, err := p.Infer(context.Background(), inference.Request{Audio: []float32{1}, SampleRate: 8000})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(resp.Audio) != 1 || resp.SampleRate != 8000 {
		t.Errorf("resp = %+v", resp)
	}
	if p.CallCount() != 1 {
		t.Errorf("CallCount = %d", p.CallCount())
	}
}

func TestProvider_Err(t *testing.T) {
	want := errors.New("boom")
	p := &mock.Provider{Err: want}
	if _, err := p.Infer(context.Background(), inference.Request{}); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}

func TestProvider_ReleaseTracksConcurrency(t *testing.T) {
	p := &mock.Provider{Started: make(chan struct{}), Release: make(chan struct{})}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Infer(context.Background(), inference.Request{})
		}()
	}
	for range 3 {
		<-p.Started
	}
	if got := p.InFlight(); got != 3 {
		t.Errorf("InFlight = %d, want 3", got)
	}
	close(p.Release)
	wg.Wait()

	if got := p.MaxInFlight(); got != 3 {
		t.Errorf("MaxInFlight = %d, want 3", got)
	}
	if got := p.InFlight(); got != 0 {
		t.Errorf("InFlight after release = %d, want 0", got)
	}
}

func TestProvider_ContextCancel(t *testing.T) {
	p := &mock.Provider{Release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Infer(ctx, inference.Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
