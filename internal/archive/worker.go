package archive

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/session"
)

// Write outcomes recorded on the archive metric.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusDropped = "dropped"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 10 * time.Second
	drainTimeout        = 5 * time.Second
)

// WorkerConfig configures a [Worker].
type WorkerConfig struct {
	// QueueSize bounds the number of sessions waiting to be written.
	// Default: 64.
	QueueSize int

	// WriteTimeout bounds each write. Default: 10s.
	WriteTimeout time.Duration

	// Metrics receives write outcomes. Nil disables recording.
	Metrics *observe.Metrics
}

// Worker writes finished sessions on a single goroutine. Enqueue never
// blocks: a full queue drops the session with a warning.
//
// Write failures are logged and swallowed. [Worker.Degraded] reports whether
// the most recent write failed.
type Worker struct {
	w            Writer
	queue        chan session.Session
	writeTimeout time.Duration
	metrics      *observe.Metrics
	degraded     atomic.Bool
}

// NewWorker creates a Worker writing through w. Call [Worker.Run] to start it.
func NewWorker(w Writer, cfg WorkerConfig) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Worker{
		w:            w,
		queue:        make(chan session.Session, cfg.QueueSize),
		writeTimeout: cfg.WriteTimeout,
		metrics:      cfg.Metrics,
	}
}

// Enqueue schedules s for archiving. Sessions without messages are ignored.
// It reports whether s was queued. Suitable as a session evict hook.
func (wk *Worker) Enqueue(s session.Session) bool {
	if len(s.History) == 0 {
		return false
	}
	select {
	case wk.queue <- s:
		return true
	default:
		slog.Warn("archive: queue full, dropping session",
			"client_id", s.ClientID, "messages", len(s.History))
		wk.record(context.Background(), StatusDropped)
		return false
	}
}

// Pending returns the number of queued sessions.
func (wk *Worker) Pending() int { return len(wk.queue) }

// Degraded reports whether the most recent write failed.
func (wk *Worker) Degraded() bool { return wk.degraded.Load() }

// Run writes queued sessions until ctx is cancelled, then drains what is
// already queued within a short grace period. A write in progress when ctx is
// cancelled runs to completion. It always returns nil.
func (wk *Worker) Run(ctx context.Context) error {
	for {
		select {
		case s := <-wk.queue:
			wk.write(context.WithoutCancel(ctx), s)
		case <-ctx.Done():
			wk.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (wk *Worker) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	for {
		select {
		case s := <-wk.queue:
			wk.write(ctx, s)
		default:
			return
		}
	}
}

func (wk *Worker) write(ctx context.Context, s session.Session) {
	ctx, cancel := context.WithTimeout(ctx, wk.writeTimeout)
	defer cancel()

	if err := wk.w.WriteSession(ctx, s); err != nil {
		wk.degraded.Store(true)
		slog.Warn("archive: write failed", "client_id", s.ClientID, "err", err)
		wk.record(ctx, StatusError)
		return
	}
	wk.degraded.Store(false)
	slog.Debug("archive: session written", "client_id", s.ClientID, "messages", len(s.History))
	wk.record(ctx, StatusOK)
}

func (wk *Worker) record(ctx context.Context, status string) {
	if wk.metrics != nil {
		wk.metrics.RecordArchiveWrite(ctx, status)
	}
}
