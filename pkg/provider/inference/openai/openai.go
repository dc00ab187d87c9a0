// Package openai provides an inference backend for OpenAI-compatible chat
// completion servers that accept audio input and return audio output.
//
// The user utterance is sent as a WAV input_audio content part; the reply is
// requested with modalities ["text", "audio"] in pcm16 format. This works
// against OpenAI audio models as well as vLLM serving Qwen2.5-Omni, whose
// speakers ("Chelsie", "Ethan") are passed through as the voice name.
//
// Typical usage:
//
//	p, err := openai.New("Qwen/Qwen2.5-Omni-7B",
//	    openai.WithBaseURL("http://localhost:8000/v1"),
//	)
//	resp, err := p.Infer(ctx, inference.Request{...})
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/inference"
	"github.com/MrWong99/voxgate/pkg/types"
)

// DefaultOutputSampleRate is the rate of pcm16 audio returned by the chat
// completions API.
const DefaultOutputSampleRate = 24000

// Ensure Provider implements the inference.Provider interface.
var _ inference.Provider = (*Provider)(nil)

// Provider implements inference.Provider using the chat completions API.
type Provider struct {
	client     oai.Client
	model      string
	outputRate int
}

type config struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	outputRate int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithAPIKey sets the bearer token. Local servers usually need none.
func WithAPIKey(key string) Option {
	return func(c *config) {
		c.apiKey = key
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries failed requests.
// Default: 2 (the SDK default).
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithOutputSampleRate declares the rate of the returned pcm16 audio.
// Default: 24000.
func WithOutputSampleRate(rate int) Option {
	return func(c *config) {
		c.outputRate = rate
	}
}

// New constructs a Provider for the given model.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("openai inference: model must not be empty")
	}

	cfg := &config{maxRetries: -1, outputRate: DefaultOutputSampleRate}
	for _, o := range opts {
		o(cfg)
	}

	// Servers such as vLLM accept any token; the SDK still needs one set to
	// avoid reading OPENAI_API_KEY from the environment.
	apiKey := cfg.apiKey
	if apiKey == "" {
		apiKey = "EMPTY"
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	if cfg.outputRate <= 0 {
		cfg.outputRate = DefaultOutputSampleRate
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		outputRate: cfg.outputRate,
	}, nil
}

// Model returns the configured model identifier.
func (p *Provider) Model() string { return p.model }

// Infer implements inference.Provider.
func (p *Provider) Infer(ctx context.Context, req inference.Request) (*inference.Response, error) {
	wav, err := audio.EncodeWAV(audio.PCM{Samples: req.Audio, SampleRate: req.SampleRate})
	if err != nil {
		return nil, fmt.Errorf("%w: openai: encode input: %w", inference.ErrInference, err)
	}

	params := oai.ChatCompletionNewParams{
		Model:      p.model,
		Messages:   buildMessages(req, base64.StdEncoding.EncodeToString(wav)),
		Modalities: []string{"text", "audio"},
		Audio: oai.ChatCompletionAudioParam{
			Voice:  oai.ChatCompletionAudioParamVoice(req.Voice),
			Format: oai.ChatCompletionAudioParamFormatPcm16,
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: chat completion: %w", inference.ErrInference, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai: empty response", inference.ErrInference)
	}

	msg := resp.Choices[0].Message
	text := strings.TrimSpace(msg.Audio.Transcript)
	if text == "" {
		text = strings.TrimSpace(msg.Content)
	}
	if msg.Audio.Data == "" {
		return nil, fmt.Errorf("%w: openai: response carries no audio", inference.ErrInference)
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Audio.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: decode audio: %w", inference.ErrInference, err)
	}

	return &inference.Response{
		Text:       text,
		Audio:      audio.FromInt16(audio.BytesToInt16(raw)),
		SampleRate: p.outputRate,
	}, nil
}

// Ready implements inference.Provider by listing the server's models.
func (p *Provider) Ready(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return fmt.Errorf("%w: openai: list models: %w", inference.ErrInference, err)
	}
	return nil
}

// buildMessages converts the request into chat messages: optional system
// prompt, prior turns as text, then the current utterance as audio.
func buildMessages(req inference.Request, wavB64 string) []oai.ChatCompletionMessageParamUnion {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.History {
		msgs = append(msgs, historyMessage(m))
	}
	msgs = append(msgs, oai.ChatCompletionMessageParamUnion{
		OfUser: &oai.ChatCompletionUserMessageParam{
			Content: oai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: []oai.ChatCompletionContentPartUnionParam{
					oai.InputAudioContentPart(oai.ChatCompletionContentPartInputAudioInputAudioParam{
						Data:   wavB64,
						Format: "wav",
					}),
				},
			},
		},
	})
	return msgs
}

func historyMessage(m types.Message) oai.ChatCompletionMessageParamUnion {
	if m.IsUser {
		return oai.UserMessage(m.Text)
	}
	return oai.ChatCompletionMessageParamUnion{
		OfAssistant: &oai.ChatCompletionAssistantMessageParam{
			Content: oai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: param.NewOpt(m.Text),
			},
		},
	}
}
