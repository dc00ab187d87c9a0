package webrtc_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/voxgate/pkg/provider/vad"
	"github.com/MrWong99/voxgate/pkg/provider/vad/webrtc"
)

func TestNew_Modes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []webrtc.Option
		want    int
		wantErr bool
	}{
		{name: "default", want: webrtc.DefaultMode},
		{name: "quality", opts: []webrtc.Option{webrtc.WithMode(webrtc.ModeQuality)}, want: 0},
		{name: "aggressive", opts: []webrtc.Option{webrtc.WithMode(webrtc.ModeAggressive)}, want: 2},
		{name: "negative", opts: []webrtc.Option{webrtc.WithMode(-1)}, wantErr: true},
		{name: "too high", opts: []webrtc.Option{webrtc.WithMode(4)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := webrtc.New(tt.opts...)
			if tt.wantErr {
				if !errors.Is(err, webrtc.ErrMode) {
					t.Fatalf("err = %v, want ErrMode", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if c.Mode() != tt.want {
				t.Errorf("Mode = %d, want %d", c.Mode(), tt.want)
			}
		})
	}
}

func TestIsSpeech_Silence(t *testing.T) {
	t.Parallel()
	c, err := webrtc.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, rate := range []int{8000, 16000, 32000, 48000} {
		got, err := c.IsSpeech(make([]int16, vad.WindowSamples(rate, 30)), rate)
		if err != nil {
			t.Fatalf("IsSpeech at %d Hz: %v", rate, err)
		}
		if got {
			t.Errorf("silence at %d Hz classified as speech", rate)
		}
	}
}

func TestIsSpeech_InvalidWindow(t *testing.T) {
	t.Parallel()
	c, err := webrtc.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.IsSpeech(make([]int16, 100), 16000); !errors.Is(err, vad.ErrWindowSize) {
		t.Errorf("short window: err = %v, want ErrWindowSize", err)
	}
	if _, err := c.IsSpeech(nil, 16000); !errors.Is(err, vad.ErrWindowSize) {
		t.Errorf("empty window: err = %v, want ErrWindowSize", err)
	}
	if _, err := c.IsSpeech(make([]int16, 480), 44100); !errors.Is(err, vad.ErrSampleRate) {
		t.Errorf("bad rate: err = %v, want ErrSampleRate", err)
	}
}

func TestIsSpeech_Concurrent(t *testing.T) {
	t.Parallel()
	c, err := webrtc.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			window := make([]int16, 480)
			for range 50 {
				if _, err := c.IsSpeech(window, 16000); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("IsSpeech: %v", err)
	}
}
