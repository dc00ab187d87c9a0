package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/inference"
	"github.com/MrWong99/voxgate/pkg/provider/inference/openai"
	"github.com/MrWong99/voxgate/pkg/types"
)

func TestNew_MissingModel(t *testing.T) {
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_Model(t *testing.T) {
	p, err := openai.New("qwen-omni", openai.WithAPIKey("k"), openai.WithOutputSampleRate(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Model() != "qwen-omni" {
		t.Errorf("Model = %q", p.Model())
	}
}

// completionServer answers chat completions with the given pcm16 samples and
// records the last request body.
func completionServer(t *testing.T, pcm []int16, transcript string, got *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "cmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   "qwen-omni",
				"choices": []any{map[string]any{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": "",
						"audio": map[string]any{
							"id":         "a1",
							"expires_at": 0,
							"data":       base64.StdEncoding.EncodeToString(audio.Int16ToBytes(pcm)),
							"transcript": transcript,
						},
					},
				}},
			})
		case strings.HasSuffix(r.URL.Path, "/models"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"qwen-omni","object":"model","created":1,"owned_by":"me"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestInfer(t *testing.T) {
	var body map[string]any
	srv := completionServer(t, []int16{0, 16384, -16384}, " Hello there ", &body)
	defer srv.Close()

	p, err := openai.New("qwen-omni", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Infer(context.Background(), inference.Request{
		Audio:        []float32{0.1, 0.2},
		SampleRate:   24000,
		Voice:        types.VoiceEthan,
		History:      []types.Message{{Text: "hi", IsUser: true}, {Text: "hello", IsUser: false}},
		SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if resp.Text != "Hello there" {
		t.Errorf("Text = %q, want %q", resp.Text, "Hello there")
	}
	if resp.SampleRate != openai.DefaultOutputSampleRate {
		t.Errorf("SampleRate = %d", resp.SampleRate)
	}
	if len(resp.Audio) != 3 || resp.Audio[1] != 0.5 || resp.Audio[2] != -0.5 {
		t.Errorf("Audio = %v", resp.Audio)
	}

	if body["model"] != "qwen-omni" {
		t.Errorf("model = %v", body["model"])
	}
	a, _ := body["audio"].(map[string]any)
	if a["voice"] != "Ethan" || a["format"] != "pcm16" {
		t.Errorf("audio params = %v", a)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4 (system, 2 history, audio)", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("first role = %v, want system", first["role"])
	}
	last, _ := msgs[3].(map[string]any)
	if last["role"] != "user" {
		t.Errorf("last role = %v, want user", last["role"])
	}
}

func TestInfer_NoAudio(t *testing.T) {
	var body map[string]any
	srv := completionServer(t, nil, "text only", &body)
	defer srv.Close()

	p, _ := openai.New("qwen-omni", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithMaxRetries(0))
	_, err := p.Infer(context.Background(), inference.Request{Audio: []float32{0}, SampleRate: 16000})
	if !errors.Is(err, inference.ErrInference) {
		t.Fatalf("err = %v, want ErrInference", err)
	}
}

func TestInfer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := openai.New("qwen-omni", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithMaxRetries(0))
	_, err := p.Infer(context.Background(), inference.Request{Audio: []float32{0}, SampleRate: 16000})
	if !errors.Is(err, inference.ErrInference) {
		t.Fatalf("err = %v, want ErrInference", err)
	}
	if err := p.Ready(context.Background()); !errors.Is(err, inference.ErrInference) {
		t.Fatalf("Ready err = %v, want ErrInference", err)
	}
}

func TestInfer_CancelledKeepsContextError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	p, _ := openai.New("qwen-omni", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithMaxRetries(0))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := p.Infer(ctx, inference.Request{Audio: []float32{0}, SampleRate: 16000})
	if !errors.Is(err, inference.ErrInference) {
		t.Fatalf("err = %v, want ErrInference", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want it to wrap context.Canceled", err)
	}
}

func TestInfer_InvalidSampleRate(t *testing.T) {
	p, _ := openai.New("qwen-omni")
	_, err := p.Infer(context.Background(), inference.Request{Audio: []float32{0}})
	if !errors.Is(err, inference.ErrInference) {
		t.Fatalf("err = %v, want ErrInference", err)
	}
}

func TestReady(t *testing.T) {
	var body map[string]any
	srv := completionServer(t, nil, "", &body)
	defer srv.Close()

	p, _ := openai.New("qwen-omni", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithMaxRetries(0))
	if err := p.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}
}
