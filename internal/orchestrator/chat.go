package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/inference"
	"github.com/MrWong99/voxgate/pkg/types"
)

// DefaultChatFormat is assumed when a chat request names no container.
const DefaultChatFormat = audio.FormatWebM

// ChatRequest is one request/response utterance.
type ChatRequest struct {
	ClientID string
	Voice    types.Voice

	// Audio is the base64-encoded container.
	Audio string

	// Format names the container, e.g. "webm" or "wav". Default: webm.
	Format string
}

// ChatResponse is the reply to a [ChatRequest].
type ChatResponse struct {
	Transcript string

	// Audio is the base64-encoded WAV reply.
	Audio string
}

// Chat decodes a whole recorded utterance, runs inference and returns the
// reply. It does not pass through the session gate. When the client has a
// session its history is sent along and the reply appended to it.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx, span := observe.StartClientSpan(ctx, "orchestrator.chat", req.ClientID)
	defer span.End()

	if req.Audio == "" {
		return ChatResponse{}, fmt.Errorf("%w: audio is required", ErrValidation)
	}
	raw, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: audio is not base64: %w", ErrValidation, err)
	}
	format := strings.ToLower(req.Format)
	if format == "" {
		format = DefaultChatFormat
	}

	start := time.Now()
	pcm, err := o.codec.Decode(ctx, raw, format)
	o.metrics.DecodeDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("format", format)))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("orchestrator: decode chat audio: %w", err)
	}

	voices := o.sessions.Voices()
	ireq := inference.Request{
		Audio:        pcm.Samples,
		SampleRate:   pcm.SampleRate,
		Voice:        voices.Resolve(req.Voice),
		SystemPrompt: o.SystemPrompt(),
	}
	hasSession := req.ClientID != "" && o.sessions.Exists(req.ClientID)
	if hasSession {
		ireq.History = o.sessions.History(req.ClientID)
	}

	resp, err := o.infer(ctx, "chat", ireq)
	if err != nil {
		return ChatResponse{}, err
	}
	if hasSession {
		o.sessions.AppendMessage(req.ClientID, resp.Text, false)
	}

	wav, err := audio.EncodeWAV(audio.PCM{Samples: resp.Audio, SampleRate: o.replyRate(resp)})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("orchestrator: encode reply: %w", err)
	}
	return ChatResponse{
		Transcript: resp.Text,
		Audio:      base64.StdEncoding.EncodeToString(wav),
	}, nil
}
