package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Defaults for [WSHandle].
const (
	DefaultQueueSize    = 16
	DefaultWriteTimeout = 10 * time.Second
	pingTimeout         = 10 * time.Second
)

// Compile-time interface assertion.
var _ Handle = (*WSHandle)(nil)

// WSOption is a functional option for [NewWSHandle].
type WSOption func(*WSHandle)

// WithQueueSize sets the number of bursts the outbound queue holds.
func WithQueueSize(n int) WSOption {
	return func(h *WSHandle) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) WSOption {
	return func(h *WSHandle) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WSHandle is a [Handle] over a coder/websocket connection. One writer
// goroutine drains the outbound queue, so bursts never interleave.
type WSHandle struct {
	id           string
	conn         *websocket.Conn
	queueSize    int
	writeTimeout time.Duration

	out       chan []Frame
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWSHandle wraps conn and starts its writer goroutine.
func NewWSHandle(conn *websocket.Conn, opts ...WSOption) *WSHandle {
	h := &WSHandle{
		id:           uuid.NewString(),
		conn:         conn,
		queueSize:    DefaultQueueSize,
		writeTimeout: DefaultWriteTimeout,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.out = make(chan []Frame, h.queueSize)

	h.wg.Add(1)
	go h.writeLoop()
	return h
}

// ID implements [Handle].
func (h *WSHandle) ID() string { return h.id }

// Done implements [Handle].
func (h *WSHandle) Done() <-chan struct{} { return h.done }

// Enqueue implements [Handle].
func (h *WSHandle) Enqueue(ctx context.Context, burst []Frame) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.out <- burst:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read returns the next inbound message. It must be called from a single
// goroutine; reading is also what processes ping replies.
func (h *WSHandle) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	return h.conn.Read(ctx)
}

// Close implements [Handle]. It stops the writer and closes the socket with a
// normal closure status.
func (h *WSHandle) Close(reason string) {
	h.closeWith(websocket.StatusNormalClosure, reason)
}

// Wait blocks until the writer goroutine has exited.
func (h *WSHandle) Wait() { h.wg.Wait() }

// KeepAlive pings the peer every interval until the handle closes or ctx
// ends. A failed ping closes the handle.
func (h *WSHandle) KeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := h.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("websocket ping failed", "conn_id", h.id, "err", err)
				h.closeWith(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (h *WSHandle) closeWith(code websocket.StatusCode, reason string) {
	h.closeOnce.Do(func() {
		close(h.done)
		_ = h.conn.Close(code, reason)
	})
}

func (h *WSHandle) writeLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case burst := <-h.out:
			for _, f := range burst {
				if err := h.write(f); err != nil {
					slog.Debug("websocket write failed", "conn_id", h.id, "err", err)
					h.closeWith(websocket.StatusInternalError, "write failed")
					return
				}
			}
		}
	}
}

func (h *WSHandle) write(f Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()
	typ := websocket.MessageText
	if f.Binary {
		typ = websocket.MessageBinary
	}
	return h.conn.Write(ctx, typ, f.Data)
}
