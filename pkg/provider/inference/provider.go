// Package inference defines the Provider interface for speech-to-speech
// inference backends.
//
// A backend receives one complete user utterance as mono PCM together with
// the selected voice and the conversation so far, and answers with the
// assistant's reply as text plus synthesised PCM. The call is batch: one
// request per utterance, typically taking seconds.
//
// Implementations must be safe for concurrent use. Different clients run
// inference in parallel; the caller guarantees at most one call per client.
package inference

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/voxgate/pkg/types"
)

// ErrInference marks every failure that originates in a backend: transport
// errors, timeouts, non-success replies and malformed model output. Backends
// wrap their errors with it so callers can match on one sentinel.
var ErrInference = errors.New("inference: backend failure")

// Request is the input for one inference call.
type Request struct {
	// Audio is the user's utterance as mono samples in [-1, 1].
	Audio []float32

	// SampleRate is the rate of Audio in Hz.
	SampleRate int

	// Voice selects the synthesised speaker.
	Voice types.Voice

	// History is the conversation so far, oldest first. It does not include
	// the current utterance.
	History []types.Message

	// SystemPrompt, if non-empty, is sent as the system instruction.
	SystemPrompt string
}

// Duration returns the length of the request audio.
func (r Request) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(r.Audio)) * time.Second / time.Duration(r.SampleRate)
}

// Response is the output of one inference call.
type Response struct {
	// Text is the assistant's reply transcript.
	Text string

	// Audio is the synthesised reply as mono samples in [-1, 1].
	Audio []float32

	// SampleRate is the rate of Audio in Hz.
	SampleRate int
}

// Provider is the interface implemented by every inference backend.
type Provider interface {
	// Infer runs one utterance through the model. Errors wrap [ErrInference].
	Infer(ctx context.Context, req Request) (*Response, error)

	// Ready reports whether the backend is reachable and able to serve
	// requests. It is called once at startup and by the readiness probe.
	Ready(ctx context.Context) error
}
