// Package genai provides GenAI-enhanced operations using the OpenAI API: chat
// completions (free text or a single JSON object), speech-to-text and text-to-speech.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Default model settings.
const (
	DefaultModel              = "gpt-4o-mini"
	DefaultTemperature        = 0.7
	DefaultMaxTokens          = 2048
	DefaultTranscriptionModel = "whisper-1"
	DefaultSpeechModel        = "tts-1"
)

// Errors returned by the client.
var (
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrMissingAPIKey     = errors.New("OPENAI_API_KEY not set")
)

// CompletionRequest describes one chat completion call. An empty Model, a nil
// Temperature and a zero MaxTokens fall back to the client defaults.
type CompletionRequest struct {
	Messages []openai.ChatCompletionMessageParamUnion
	Model    string
	// Temperature is a pointer so that 0 can be requested explicitly.
	Temperature *float64
	MaxTokens   int
	// JSONObject constrains the model output to a single JSON object.
	JSONObject bool
}

// ClientInterface is the chat completion surface used by the interview chains.
type ClientInterface interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openAIChatService adapts the SDK completion service to chatService.
type openAIChatService struct {
	svc *openai.ChatCompletionService
}

func (s openAIChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int

	// Transcription may target a different OpenAI-compatible endpoint.
	TranscriptionAPIKey  string
	TranscriptionBaseURL string
	TranscriptionModel   string

	SpeechModel string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the default chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// WithMaxTokens sets the default completion token cap.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithTranscription configures the speech-to-text endpoint. Empty values fall back to
// the chat endpoint settings.
func WithTranscription(baseURL, apiKey, model string) Option {
	return func(o *Opts) {
		o.TranscriptionBaseURL = baseURL
		o.TranscriptionAPIKey = apiKey
		o.TranscriptionModel = model
	}
}

// WithSpeechModel sets the text-to-speech model.
func WithSpeechModel(model string) Option {
	return func(o *Opts) { o.SpeechModel = model }
}

// Client wraps the OpenAI services used by the interview.
type Client struct {
	chat          chatService
	speech        speechService
	transcription transcriptionService

	model              string
	temperature        float64
	maxTokens          int
	speechModel        string
	transcriptionModel string
}

// NewClient initializes a new GenAI client. The API key comes from WithAPIKey or the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:              DefaultModel,
		Temperature:        DefaultTemperature,
		MaxTokens:          DefaultMaxTokens,
		TranscriptionModel: DefaultTranscriptionModel,
		SpeechModel:        DefaultSpeechModel,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		slog.Error("GenAI.NewClient: API key not set")
		return nil, ErrMissingAPIKey
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	transcriptionCli := cli
	if cfg.TranscriptionBaseURL != "" || cfg.TranscriptionAPIKey != "" {
		key := cfg.TranscriptionAPIKey
		if key == "" {
			key = cfg.APIKey
		}
		tOpts := []option.RequestOption{option.WithAPIKey(key)}
		if cfg.TranscriptionBaseURL != "" {
			tOpts = append(tOpts, option.WithBaseURL(cfg.TranscriptionBaseURL))
		}
		transcriptionCli = openai.NewClient(tOpts...)
	}

	slog.Debug("GenAI.NewClient: client created",
		"model", cfg.Model,
		"temperature", cfg.Temperature,
		"maxTokens", cfg.MaxTokens,
		"baseURL_set", cfg.BaseURL != "",
		"transcriptionModel", cfg.TranscriptionModel,
		"transcriptionBaseURL_set", cfg.TranscriptionBaseURL != "",
		"speechModel", cfg.SpeechModel)

	return &Client{
		chat:               openAIChatService{svc: &cli.Chat.Completions},
		speech:             openAISpeechService{svc: &cli.Audio.Speech},
		transcription:      openAITranscriptionService{svc: &transcriptionCli.Audio.Transcriptions},
		model:              cfg.Model,
		temperature:        cfg.Temperature,
		maxTokens:          cfg.MaxTokens,
		speechModel:        cfg.SpeechModel,
		transcriptionModel: cfg.TranscriptionModel,
	}, nil
}

// Complete runs a chat completion and returns the content of the first choice.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	params := c.buildParams(req)
	slog.Debug("GenAI.Complete: sending request",
		"model", params.Model,
		"messages", len(req.Messages),
		"jsonObject", req.JSONObject)

	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI.Complete: request failed", "error", err, "model", params.Model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("GenAI.Complete: no choices returned", "model", params.Model)
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("GenAI.Complete: response received", "model", params.Model, "contentLength", len(content))
	return content, nil
}

func (c *Client) buildParams(req CompletionRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    req.Messages,
		Temperature: openai.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if req.JSONObject {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}
