// Package orchestrator turns inbound audio into spoken replies.
//
// Every audio connection owns a [Stream] that runs the segmenter. A flushed
// segment passes the session gate ([session.Store.TryBeginProcessing]) and,
// when it wins, is handed to the inference backend on its own goroutine so the
// receive loop never blocks. Segments that arrive while the client is paused
// or already has a reply in flight are dropped. The reply goes back to the
// client as one ordered burst: speak start, transcript, WAV audio, speak end.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voxgate/internal/connection"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/segmenter"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/inference"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
	"github.com/MrWong99/voxgate/pkg/types"
)

var (
	// ErrValidation is returned for malformed client payloads.
	ErrValidation = errors.New("orchestrator: invalid request")

	// ErrSessionNotFound is returned when a control request names a client
	// without a session.
	ErrSessionNotFound = errors.New("orchestrator: session not found")
)

// Outcome describes what happened to one inbound chunk.
type Outcome int

const (
	// OutcomeBuffered means the chunk did not complete a segment.
	OutcomeBuffered Outcome = iota
	// OutcomeStarted means a segment was flushed and inference started.
	OutcomeStarted
	// OutcomePaused means the flushed segment was dropped because the
	// session is paused.
	OutcomePaused
	// OutcomeBusy means the flushed segment was dropped because a reply is
	// already in flight.
	OutcomeBusy
	// OutcomeNoSession means the flushed segment was dropped because the
	// client has no session.
	OutcomeNoSession
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBuffered:
		return "buffered"
	case OutcomeStarted:
		return "started"
	case OutcomePaused:
		return "paused"
	case OutcomeBusy:
		return "busy"
	case OutcomeNoSession:
		return "no_session"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSystemPrompt sets the instruction sent with every inference request.
func WithSystemPrompt(p string) Option {
	return func(o *Orchestrator) { o.systemPrompt.Store(&p) }
}

// WithInferenceTimeout bounds each inference call. Zero means no bound.
func WithInferenceTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithSegmenterConfig sets the configuration of every new [Stream].
func WithSegmenterConfig(cfg segmenter.Config) Option {
	return func(o *Orchestrator) { o.segCfg = cfg }
}

// WithCodec sets the codec used by [Orchestrator.Chat]. Default:
// audio.NewCodec with zero config.
func WithCodec(c *audio.Codec) Option {
	return func(o *Orchestrator) { o.codec = c }
}

// Orchestrator wires the session store, the connection registry and the
// inference backend together. All methods are safe for concurrent use.
type Orchestrator struct {
	sessions *session.Store
	conns    *connection.Registry
	backend  inference.Provider
	vad      vad.Classifier

	codec        *audio.Codec
	metrics      *observe.Metrics
	systemPrompt atomic.Pointer[string]
	timeout      time.Duration
	segCfg       segmenter.Config

	wg sync.WaitGroup
}

// New creates an Orchestrator.
func New(sessions *session.Store, conns *connection.Registry, backend inference.Provider, cls vad.Classifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		conns:    conns,
		backend:  backend,
		vad:      cls,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.codec == nil {
		o.codec = audio.NewCodec(audio.CodecConfig{})
	}
	return o
}

// Sessions returns the session store.
func (o *Orchestrator) Sessions() *session.Store { return o.sessions }

// Connections returns the connection registry.
func (o *Orchestrator) Connections() *connection.Registry { return o.conns }

// SystemPrompt returns the instruction sent with inference requests.
func (o *Orchestrator) SystemPrompt() string {
	if p := o.systemPrompt.Load(); p != nil {
		return *p
	}
	return ""
}

// SetSystemPrompt replaces the instruction for subsequent requests.
func (o *Orchestrator) SetSystemPrompt(p string) { o.systemPrompt.Store(&p) }

// Wait blocks until every in-flight inference has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// HandleSegment runs a flushed segment through the session gate. When the
// gate opens, inference runs in the background and HandleSegment returns
// [OutcomeStarted] immediately.
func (o *Orchestrator) HandleSegment(ctx context.Context, clientID string, seg types.Segment) Outcome {
	o.metrics.SegmentsFlushed.Add(ctx, 1)
	o.metrics.SegmentAudio.Record(ctx, seg.Duration().Seconds())

	gate := o.sessions.TryBeginProcessing(clientID)
	if gate == session.GateAbsent && o.conns.IsRegistered(clientID) {
		// Ended or expired under a live socket; the socket still implies a
		// session, the same way connecting does.
		o.sessions.CreateOrUpdate(clientID, session.Update{Voice: o.conns.GetVoice(clientID)})
		slog.Info("session recreated for connected client", "client_id", clientID)
		gate = o.sessions.TryBeginProcessing(clientID)
	}

	switch gate {
	case session.GatePaused:
		o.metrics.RecordSegmentDropped(ctx, observe.DropPaused)
		return OutcomePaused
	case session.GateBusy:
		slog.Info("dropping segment, reply in flight", "client_id", clientID, "frames", seg.Len())
		o.metrics.RecordSegmentDropped(ctx, observe.DropBusy)
		return OutcomeBusy
	case session.GateAbsent:
		slog.Debug("dropping segment, no session", "client_id", clientID)
		o.metrics.RecordSegmentDropped(ctx, observe.DropNoSession)
		return OutcomeNoSession
	}

	req := inference.Request{
		Audio:        seg.Samples(),
		SampleRate:   seg.SampleRate,
		Voice:        o.sessions.ResolveVoice(clientID),
		History:      o.sessions.History(clientID),
		SystemPrompt: o.SystemPrompt(),
	}

	// The reply outlives the request context: a client that disconnects
	// mid-inference still has its processing flag cleared by respond.
	rctx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go o.respond(rctx, clientID, req)
	return OutcomeStarted
}

func (o *Orchestrator) respond(ctx context.Context, clientID string, req inference.Request) {
	defer o.wg.Done()

	// Cleared exactly once: a second clear could release a slot that a
	// newer segment already took.
	cleared := false
	finish := func() {
		if !cleared {
			cleared = true
			o.sessions.SetProcessing(clientID, false)
		}
	}
	defer finish()

	ctx, span := observe.StartClientSpan(ctx, "orchestrator.respond", clientID)
	defer span.End()
	log := observe.ClientLogger(ctx, clientID)

	resp, err := o.infer(ctx, "stream", req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference failed")
		log.Warn("inference failed", "err", err)
		finish()
		o.sendError(ctx, clientID, err.Error())
		return
	}
	span.SetAttributes(attribute.Int("voxgate.reply_samples", len(resp.Audio)))

	o.sessions.AppendMessage(clientID, resp.Text, false)

	if !o.conns.IsRegistered(clientID) {
		log.Info("client gone, discarding reply")
		o.metrics.RecordSegmentDropped(ctx, observe.DropDisconnected)
		return
	}

	wav, err := audio.EncodeWAV(audio.PCM{Samples: resp.Audio, SampleRate: o.replyRate(resp)})
	if err != nil {
		log.Warn("encode reply failed", "err", err)
		finish()
		o.sendError(ctx, clientID, err.Error())
		return
	}
	burst, err := replyBurst(resp.Text, wav)
	if err != nil {
		log.Warn("build reply failed", "err", err)
		return
	}
	if err := o.conns.SendOrdered(ctx, clientID, burst...); err != nil {
		log.Info("reply not delivered", "err", err)
		o.metrics.RecordSegmentDropped(ctx, observe.DropDisconnected)
		return
	}
	log.Debug("reply sent", "text_len", len(resp.Text), "audio_bytes", len(wav))
}

// infer calls the backend with the configured timeout and records metrics.
func (o *Orchestrator) infer(ctx context.Context, path string, req inference.Request) (*inference.Response, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := o.backend.Infer(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordInference(ctx, path, status, time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, inference.ErrInference) {
			err = fmt.Errorf("%w: %w", inference.ErrInference, err)
		}
		return nil, err
	}
	return resp, nil
}

func (o *Orchestrator) sendError(ctx context.Context, clientID, msg string) {
	if !o.conns.IsRegistered(clientID) {
		return
	}
	f, err := errorFrame(msg)
	if err != nil {
		return
	}
	if err := o.conns.SendOrdered(ctx, clientID, f); err != nil {
		slog.Debug("error frame not delivered", "client_id", clientID, "err", err)
	}
}

func (o *Orchestrator) replyRate(resp *inference.Response) int {
	if resp.SampleRate > 0 {
		return resp.SampleRate
	}
	return o.codec.SampleRate()
}
