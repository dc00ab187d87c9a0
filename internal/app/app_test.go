package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/pkg/provider/inference"
	inferencemock "github.com/MrWong99/voxgate/pkg/provider/inference/mock"
	vadmock "github.com/MrWong99/voxgate/pkg/provider/vad/mock"
)

// testConfig returns a fully defaulted config for tests.
func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		Inference: &inferencemock.Provider{Response: &inference.Response{Text: "ok", SampleRate: 24000}},
		VAD:       &vadmock.Classifier{},
	}
}

// recordingWriter is an archive.Writer that keeps every written session.
type recordingWriter struct {
	mu      sync.Mutex
	written []session.Session
}

func (w *recordingWriter) WriteSession(_ context.Context, s session.Session) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, s)
	return nil
}

func (w *recordingWriter) Written() []session.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]session.Session(nil), w.written...)
}

// startApp runs application on a loopback listener and returns its base URL.
// The app is stopped when the test ends.
func startApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	opts = append(opts, app.WithListener(ln))
	application, err := app.New(context.Background(), cfg, testProviders(), opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- application.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("Run() returned unexpected error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run() did not return within 5s after cancellation")
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			t.Errorf("Shutdown() error: %v", err)
		}
	})
	return application, "http://" + ln.Addr().String()
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		providers *app.Providers
	}{
		{name: "nil", providers: nil},
		{name: "no inference", providers: &app.Providers{VAD: &vadmock.Classifier{}}},
		{name: "no vad", providers: &app.Providers{Inference: &inferencemock.Provider{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(context.Background(), testConfig(), tt.providers); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestApp_ServesAPI(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	application, base := startApp(t, cfg)

	resp, err := http.Get(base + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	var status map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if status["status"] != "running" || status["model"] != config.DefaultModel {
		t.Errorf("GET / = %v", status)
	}

	resp, err = http.Post(base+"/api/config", "application/json", strings.NewReader(`{"clientId":"c1","voiceType":"Ethan"}`))
	if err != nil {
		t.Fatalf("POST /api/config: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/config = %d", resp.StatusCode)
	}
	if sess, ok := application.Sessions().Get("c1"); !ok || sess.Voice != "Ethan" {
		t.Errorf("session = %+v, ok = %v", sess, ok)
	}

	resp, err = http.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /readyz = %d, want 200", resp.StatusCode)
	}
}

func TestApp_ArchivesEndedSessions(t *testing.T) {
	t.Parallel()
	w := &recordingWriter{}
	application, base := startApp(t, testConfig(), app.WithArchiveWriter(w))

	sessions := application.Sessions()
	sessions.CreateOrUpdate("c1", session.Update{})
	sessions.AppendMessage("c1", "hello", false)

	resp, err := http.Post(base+"/api/end", "application/json", strings.NewReader(`{"clientId":"c1"}`))
	if err != nil {
		t.Fatalf("POST /api/end: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(w.Written()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ended session was never archived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := w.Written()[0]
	if got.ClientID != "c1" || len(got.History) != 1 || got.History[0].Text != "hello" {
		t.Errorf("archived = %+v", got)
	}
}

func TestApp_ShutdownWithoutRun(t *testing.T) {
	t.Parallel()
	application, err := app.New(context.Background(), testConfig(), testProviders())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	// Second call is a no-op.
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in).String(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
