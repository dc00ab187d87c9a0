// Command voxgate is the entry point for the voxgate voice-chat gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/pkg/provider/inference"
	"github.com/MrWong99/voxgate/pkg/provider/inference/httpapi"
	inferencemock "github.com/MrWong99/voxgate/pkg/provider/inference/mock"
	oainference "github.com/MrWong99/voxgate/pkg/provider/inference/openai"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
	"github.com/MrWong99/voxgate/pkg/provider/vad/energy"
	webrtcvad "github.com/MrWong99/voxgate/pkg/provider/vad/webrtc"
)

// version is set at build time via -ldflags.
var version = "dev"

const (
	shutdownTimeout = 15 * time.Second
	readyTimeout    = 30 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgate: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, level))

	slog.Info("voxgate starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Global:         true,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// The inference backend must be reachable before we accept clients.
	readyCtx, cancelReady := context.WithTimeout(ctx, readyTimeout)
	err = providers.Inference.Ready(readyCtx)
	cancelReady()
	if err != nil {
		slog.Error("inference backend not ready", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(os.Stdout, cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithTelemetry(tel),
		app.WithLogLevel(level),
		app.WithConfigPath(*configPath),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exitCode := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exitCode = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exitCode
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in backend factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Inference ─────────────────────────────────────────────────────────────

	reg.RegisterInference("openai", func(entry config.ProviderEntry) (inference.Provider, error) {
		opts := []oainference.Option{
			oainference.WithOutputSampleRate(entry.OptInt("output_sample_rate", oainference.DefaultOutputSampleRate)),
		}
		if entry.APIKey != "" {
			opts = append(opts, oainference.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oainference.WithBaseURL(entry.BaseURL))
		}
		timeout, err := entry.OptDuration("timeout", 0)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, oainference.WithTimeout(timeout))
		}
		if n := entry.OptInt("max_retries", -1); n >= 0 {
			opts = append(opts, oainference.WithMaxRetries(n))
		}
		return oainference.New(entry.Model, opts...)
	})

	reg.RegisterInference("http", func(entry config.ProviderEntry) (inference.Provider, error) {
		var opts []httpapi.Option
		if entry.APIKey != "" {
			opts = append(opts, httpapi.WithAPIKey(entry.APIKey))
		}
		timeout, err := entry.OptDuration("timeout", 0)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, httpapi.WithTimeout(timeout))
		}
		return httpapi.New(entry.BaseURL, opts...)
	})

	// mock echoes the request audio back; useful for load tests and demos.
	reg.RegisterInference("mock", func(config.ProviderEntry) (inference.Provider, error) {
		return &inferencemock.Provider{}, nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(c config.VADConfig) (vad.Classifier, error) {
		return webrtcvad.New(webrtcvad.WithMode(c.WebRTCMode()))
	})

	// energy needs no cgo; pick it for builds without a C toolchain.
	reg.RegisterVAD("energy", func(c config.VADConfig) (vad.Classifier, error) {
		return energy.New(energy.WithThreshold(c.EnergyThreshold)), nil
	})

	for _, name := range reg.InferenceNames() {
		slog.Debug("registered provider", "kind", "inference", "name", name)
	}
}

// buildProviders instantiates the configured backends. The primary and every
// fallback are wrapped in one failover group with a circuit breaker each.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	primary, err := reg.CreateInference(cfg.Inference.Primary)
	if err != nil {
		return nil, fmt.Errorf("create inference provider %q: %w", cfg.Inference.Primary.Name, err)
	}
	slog.Info("provider created", "kind", "inference", "name", cfg.Inference.Primary.Name, "model", cfg.Inference.Primary.Model)

	cb := cfg.Inference.CircuitBreaker
	group := resilience.NewInferenceFallback(primary, cfg.Inference.Primary.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
		},
	})
	for i, entry := range cfg.Inference.Fallbacks {
		p, err := reg.CreateInference(entry)
		if err != nil {
			return nil, fmt.Errorf("create inference fallback %d (%q): %w", i, entry.Name, err)
		}
		group.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), p)
		slog.Info("provider created", "kind", "inference-fallback", "name", entry.Name, "model", entry.Model)
	}

	cls, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", cfg.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.VAD.Name)

	return &app.Providers{Inference: group, VAD: cls}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         voxgate: startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Inference", summaryValue(cfg.Inference.Primary.Name, cfg.Inference.Primary.Model))
	printRow(w, "Fallbacks", fmt.Sprint(len(cfg.Inference.Fallbacks)))
	printRow(w, "VAD", cfg.VAD.Name)
	printRow(w, "Voices", strings.Join(cfg.Voices.Available, ","))
	printRow(w, "Session TTL", cfg.Session.Timeout.String())
	if cfg.Archive.PostgresDSN != "" {
		printRow(w, "Archive", "postgres")
	} else {
		printRow(w, "Archive", "(disabled)")
	}
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func summaryValue(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model != "" {
		return name + " / " + model
	}
	return name
}

func printRow(w io.Writer, label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
