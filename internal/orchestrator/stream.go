package orchestrator

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxgate/internal/segmenter"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/types"
)

// Stream is the per-connection audio pipeline. It is owned by the
// connection's receive loop and must not be shared between goroutines.
type Stream struct {
	o        *Orchestrator
	clientID string
	seg      *segmenter.Segmenter
}

// NewStream creates the pipeline for one audio connection of clientID.
func (o *Orchestrator) NewStream(clientID string) *Stream {
	return &Stream{
		o:        o,
		clientID: clientID,
		seg:      segmenter.New(o.vad, o.segCfg),
	}
}

// ClientID returns the client the stream belongs to.
func (s *Stream) ClientID() string { return s.clientID }

// Segmenter exposes the stream's segmenter for inspection.
func (s *Stream) Segmenter() *segmenter.Segmenter { return s.seg }

// HandleAudio consumes one binary chunk of little-endian float32 PCM. A
// chunk that does not decode returns an error wrapping [ErrValidation] and
// leaves the segmenter untouched.
func (s *Stream) HandleAudio(ctx context.Context, data []byte) (Outcome, error) {
	s.o.metrics.FramesReceived.Add(ctx, 1)

	samples, err := audio.BytesToFloat32(data)
	if err != nil {
		return OutcomeBuffered, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	seg, flushed := s.seg.Push(types.Frame(samples))
	if !flushed {
		return OutcomeBuffered, nil
	}
	return s.o.HandleSegment(ctx, s.clientID, seg), nil
}

// Close discards any partially buffered utterance.
func (s *Stream) Close() {
	s.seg.Reset()
}
