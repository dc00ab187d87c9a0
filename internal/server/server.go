// Package server exposes the gateway over HTTP and WebSocket.
//
// Routes:
//
//	POST /api/config          create or update a session
//	POST /api/chat            one-shot recorded utterance
//	POST /api/pause           pause or resume a session
//	POST /api/end             delete a session
//	GET  /ws/{clientId}        streaming audio socket
//	GET  /ws/{clientId}/config voice selection socket
//	GET  /, /healthz, /readyz  status and probes
//	GET  /metrics              Prometheus scrape endpoint
package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/MrWong99/voxgate/internal/connection"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/orchestrator"
)

const (
	// maxControlBody bounds JSON bodies of the control endpoints.
	maxControlBody = 64 << 10
	// maxChatBody bounds /api/chat bodies, which carry base64 audio.
	maxChatBody = 32 << 20
	// maxAudioMessage bounds one inbound WebSocket message.
	maxAudioMessage = 1 << 20
)

// Config holds transport settings.
type Config struct {
	// HeartbeatInterval is the ping period on audio sockets. Zero disables
	// pings.
	HeartbeatInterval time.Duration

	// OutboundQueue is the number of reply bursts buffered per socket.
	OutboundQueue int

	// WriteTimeout bounds a single WebSocket frame write.
	WriteTimeout time.Duration

	// CORSOrigins lists allowed origins. "*" allows any. Empty means "*".
	CORSOrigins []string
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts the status and probe endpoints.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server routes HTTP and WebSocket traffic to the orchestrator.
type Server struct {
	orch           *orchestrator.Orchestrator
	cfg            Config
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler

	// closing is closed by Close to end every open socket.
	closing   chan struct{}
	closeOnce sync.Once
	sockets   sync.WaitGroup
}

// New creates a Server.
func New(orch *orchestrator.Orchestrator, cfg Config, opts ...Option) *Server {
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = connection.DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = connection.DefaultWriteTimeout
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	s := &Server{
		orch:    orch,
		cfg:     cfg,
		closing: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the complete HTTP handler: routes wrapped in tracing and
// metrics middleware, wrapped in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/pause", s.handlePause)
	mux.HandleFunc("POST /api/end", s.handleEnd)
	mux.HandleFunc("GET /ws/{clientId}", s.handleAudioSocket)
	mux.HandleFunc("GET /ws/{clientId}/config", s.handleConfigSocket)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(observe.Middleware(s.metrics)(mux))
}

// Close ends every open WebSocket and waits for their handlers to return.
// http.Server.Shutdown does not track upgraded connections, so call Close
// alongside it.
func (s *Server) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	done := make(chan struct{})
	go func() {
		s.sockets.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// socketContext derives a context that ends with parent or with Close.
func (s *Server) socketContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// originPatterns converts CORS origins to the host patterns the WebSocket
// handshake checks.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}
