package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/pkg/provider/inference"
	inferencemock "github.com/MrWong99/voxgate/pkg/provider/inference/mock"
	vadmock "github.com/MrWong99/voxgate/pkg/provider/vad/mock"
)

const reloadBase = `
server:
  log_level: info
  watch_config: true
session:
  timeout: 2h
inference:
  system_prompt: "first"
`

const reloadNext = `
server:
  log_level: debug
  watch_config: true
  listen_addr: ":9000"
session:
  timeout: 30m
inference:
  system_prompt: "second"
`

func writeConfig(t *testing.T, path, body string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestApplyConfig_HotReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxgate.yaml")
	start := time.Now().Add(-time.Hour)
	writeConfig(t, path, reloadBase, start)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	lv := new(slog.LevelVar)
	providers := &Providers{
		Inference: &inferencemock.Provider{Response: &inference.Response{}},
		VAD:       &vadmock.Classifier{},
	}
	a, err := New(context.Background(), cfg, providers, WithConfigPath(path), WithLogLevel(lv))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.watcher == nil {
		t.Fatal("watcher not created although watch_config is set")
	}
	if got := a.orch.SystemPrompt(); got != "first" {
		t.Fatalf("SystemPrompt = %q, want first", got)
	}

	writeConfig(t, path, reloadNext, start.Add(time.Minute))
	a.watcher.Check()

	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	if got := a.sweeper.Timeout(); got != 30*time.Minute {
		t.Errorf("session timeout = %v, want 30m", got)
	}
	if got := a.orch.SystemPrompt(); got != "second" {
		t.Errorf("SystemPrompt = %q, want second", got)
	}
	// listen_addr needs a restart and is not applied.
	if a.httpServer.Addr == ":9000" {
		t.Error("listen_addr applied without restart")
	}
}

func TestNew_NoWatcherWithoutFlag(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	providers := &Providers{Inference: &inferencemock.Provider{}, VAD: &vadmock.Classifier{}}
	a, err := New(context.Background(), cfg, providers, WithConfigPath("/does/not/matter.yaml"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.watcher != nil {
		t.Error("watcher created without server.watch_config")
	}
}
