// Package httpapi provides an inference backend that talks to a self-hosted
// model server over a small JSON contract.
//
// Endpoints:
//
//   - POST /v1/infer takes {audio, sample_rate, voice, history,
//     system_prompt} where audio is base64 little-endian PCM16, and answers
//     {text, audio, sample_rate} in the same encoding.
//   - GET /health answers 200 once the model is loaded.
//
// Non-2xx replies carry {"error": "..."}.
package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/inference"
)

// Compile-time interface assertion.
var _ inference.Provider = (*Provider)(nil)

const (
	defaultTimeout = 120 * time.Second
	inferEndpoint  = "/v1/infer"
	healthEndpoint = "/health"

	// maxErrorBody bounds how much of an error reply is read into the error.
	maxErrorBody = 4096
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Default: 120s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// Provider implements inference.Provider against a JSON model server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider targeting serverURL (e.g. "http://localhost:9000").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("httpapi: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ── wire types ───────────────────────────────────────────────────────────────

type historyEntry struct {
	Text   string `json:"text"`
	IsUser bool   `json:"isUser"`
}

type inferRequest struct {
	Audio        string         `json:"audio"`
	SampleRate   int            `json:"sample_rate"`
	Voice        string         `json:"voice"`
	History      []historyEntry `json:"history"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
}

type inferResponse struct {
	Text       string `json:"text"`
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ── Provider ─────────────────────────────────────────────────────────────────

// Infer implements inference.Provider.
func (p *Provider) Infer(ctx context.Context, req inference.Request) (*inference.Response, error) {
	body := inferRequest{
		Audio:        base64.StdEncoding.EncodeToString(audio.Int16ToBytes(audio.ToInt16(req.Audio))),
		SampleRate:   req.SampleRate,
		Voice:        string(req.Voice),
		History:      make([]historyEntry, 0, len(req.History)),
		SystemPrompt: req.SystemPrompt,
	}
	for _, m := range req.History {
		body.History = append(body.History, historyEntry{Text: m.Text, IsUser: m.IsUser})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: httpapi: marshal request: %w", inference.ErrInference, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+inferEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: httpapi: build request: %w", inference.ErrInference, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.authorize(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: httpapi: request: %w", inference.ErrInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: httpapi: %s", inference.ErrInference, readError(resp))
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: httpapi: decode response: %w", inference.ErrInference, err)
	}
	if out.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: httpapi: response sample rate %d", inference.ErrInference, out.SampleRate)
	}
	raw, err := base64.StdEncoding.DecodeString(out.Audio)
	if err != nil {
		return nil, fmt.Errorf("%w: httpapi: decode audio: %w", inference.ErrInference, err)
	}

	return &inference.Response{
		Text:       strings.TrimSpace(out.Text),
		Audio:      audio.FromInt16(audio.BytesToInt16(raw)),
		SampleRate: out.SampleRate,
	}, nil
}

// Ready implements inference.Provider.
func (p *Provider) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: httpapi: build health request: %w", inference.ErrInference, err)
	}
	p.authorize(req)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: httpapi: health: %w", inference.ErrInference, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: httpapi: health: %s", inference.ErrInference, readError(resp))
	}
	return nil
}

func (p *Provider) authorize(r *http.Request) {
	if p.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// readError renders a non-success reply as "status: message".
func readError(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return fmt.Sprintf("%s: %s", resp.Status, e.Error)
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return fmt.Sprintf("%s: %s", resp.Status, msg)
	}
	return resp.Status
}
