// Package app wires the voxgate subsystems into a running gateway.
//
// The App struct owns the full lifecycle: New builds the stores, the
// orchestrator and the HTTP server from config, Run serves until the context
// ends, and Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithListener,
// WithArchiveWriter, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxgate/internal/archive"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/connection"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/orchestrator"
	"github.com/MrWong99/voxgate/internal/server"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/inference"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

const readHeaderTimeout = 10 * time.Second

// Providers holds the backends built by main.go via the config registry.
type Providers struct {
	Inference inference.Provider
	VAD       vad.Classifier
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics    *observe.Metrics
	telemetry  *observe.Telemetry
	logLevel   *slog.LevelVar
	configPath string

	sessions *session.Store
	conns    *connection.Registry
	orch     *orchestrator.Orchestrator
	sweeper  *session.Sweeper
	writer   archive.Writer
	worker   *archive.Worker
	watcher  *config.Watcher
	srv      *server.Server

	httpServer *http.Server
	listener   net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry mounts the telemetry's Prometheus handler on /metrics.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithLogLevel lets config reloads change the level of the installed logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithConfigPath enables hot reload of path when server.watch_config is set.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithArchiveWriter injects the archive writer instead of connecting to
// archive.postgres_dsn.
func WithArchiveWriter(w archive.Writer) Option {
	return func(a *App) { a.writer = w }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go. New performs all initialisation synchronously, including the
// archive connection and migration.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Inference == nil || providers.VAD == nil {
		return nil, errors.New("app: inference and vad providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 2. Stores ────────────────────────────────────────────────────────
	a.initStores()

	// ── 3. Orchestrator ──────────────────────────────────────────────────
	a.orch = orchestrator.New(a.sessions, a.conns, providers.Inference, providers.VAD,
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithSystemPrompt(cfg.Inference.SystemPrompt),
		orchestrator.WithInferenceTimeout(cfg.Inference.Timeout),
		orchestrator.WithSegmenterConfig(cfg.Segmenter.Segmenter(cfg.VAD.ClassifyRate)),
		orchestrator.WithCodec(audio.NewCodec(audio.CodecConfig{
			SampleRate:    cfg.Codec.SampleRate,
			FFmpegPath:    cfg.Codec.FFmpegPath,
			FFmpegTimeout: cfg.Codec.FFmpegTimeout,
		})),
	)

	// ── 4. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	// ── 5. Config watcher ────────────────────────────────────────────────
	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initArchive connects the transcript archive when a DSN is configured or a
// writer was injected.
func (a *App) initArchive(ctx context.Context) error {
	if a.writer == nil && a.cfg.Archive.PostgresDSN != "" {
		store, err := archive.NewStore(ctx, a.cfg.Archive.PostgresDSN)
		if err != nil {
			return err
		}
		a.writer = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}
	if a.writer != nil {
		a.worker = archive.NewWorker(a.writer, archive.WorkerConfig{
			QueueSize: a.cfg.Archive.QueueSize,
			Metrics:   a.metrics,
		})
	}
	return nil
}

func (a *App) initStores() {
	voices := a.cfg.Voices.VoiceSet()
	storeOpts := []session.Option{session.WithVoices(voices)}
	if a.worker != nil {
		storeOpts = append(storeOpts, session.WithEvictHook(func(s session.Session) {
			a.worker.Enqueue(s)
		}))
	}
	a.sessions = session.NewStore(storeOpts...)
	a.conns = connection.NewRegistry(voices, 0)

	if err := a.metrics.ObserveSessions(a.sessions.Len); err != nil {
		slog.Warn("app: session gauge not registered", "err", err)
	}

	a.sweeper = session.NewSweeper(session.SweeperConfig{
		Store:    a.sessions,
		Interval: a.cfg.Session.SweepInterval,
		Timeout:  a.cfg.Session.Timeout,
		OnExpired: func(n int) {
			a.metrics.SessionsExpired.Add(context.Background(), int64(n))
		},
	})
}

func (a *App) initServer() {
	checkers := []health.Checker{
		health.CheckerFor("inference", a.providers.Inference.Ready),
	}
	if p, ok := a.writer.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.CheckerFor("archive", p.Ping))
	}

	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithHealth(health.New(a.modelName(), checkers...)),
	}
	if a.telemetry != nil {
		opts = append(opts, server.WithMetricsHandler(a.telemetry.Handler()))
	}
	a.srv = server.New(a.orch, server.Config{
		HeartbeatInterval: a.cfg.Server.HeartbeatInterval,
		OutboundQueue:     a.cfg.Server.OutboundQueue,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
	}, opts...)

	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}
}

func (a *App) initWatcher() error {
	if a.configPath == "" || !a.cfg.Server.WatchConfig {
		return nil
	}
	w, err := config.NewWatcher(a.configPath, a.applyConfig)
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// modelName is reported on GET /.
func (a *App) modelName() string {
	if m := a.cfg.Inference.Primary.Model; m != "" {
		return m
	}
	return a.cfg.Inference.Primary.Name
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the wired orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Sessions returns the session store.
func (a *App) Sessions() *session.Store { return a.sessions }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.httpServer.Handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and runs the background loops (expiry sweep, archive
// worker, config watcher) until ctx is cancelled or the listener fails. It
// returns ctx.Err() on a normal stop.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error { return a.sweeper.Run(gctx) })
	if a.worker != nil {
		g.Go(func() error { return a.worker.Run(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		// Serve only returns once the server is shut down.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), readHeaderTimeout)
		defer cancel()
		return a.stopHTTP(shutdownCtx)
	})

	slog.Info("app running", "addr", ln.Addr().String(), "archive", a.worker != nil, "watch_config", a.watcher != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) stopHTTP(ctx context.Context) error {
	err := a.httpServer.Shutdown(ctx)
	if cerr := a.srv.Close(ctx); err == nil {
		err = cerr
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("app: stop http: %w", err)
	}
	return nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// applyConfig applies the hot-reloadable part of a config change.
func (a *App) applyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.SessionTimeoutChanged {
		a.sweeper.SetTimeout(d.NewSessionTimeout)
		slog.Info("config reload: session timeout changed", "timeout", d.NewSessionTimeout)
	}
	if d.SystemPromptChanged {
		a.orch.SetSystemPrompt(d.NewSystemPrompt)
		slog.Info("config reload: system prompt changed")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes need a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config log level to a slog level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, closes open sockets, waits for in-flight
// inference and then runs the closers. It respects the context deadline: if
// ctx expires first, the remaining steps are skipped and the context error
// is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.stopHTTP(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		a.sweeper.Stop()

		inflight := make(chan struct{})
		go func() {
			a.orch.Wait()
			close(inflight)
		}()
		select {
		case <-inflight:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded waiting for inference")
			shutdownErr = ctx.Err()
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
