package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"
	// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
	GroqBaseURL = "https://api.groq.com/openai/v1"
)

// Config holds OpenAI provider configuration
type Config struct {
	// Name identifies the provider in errors and logs. Defaults to "openai".
	Name         string
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	Temperature  float64
	DisableTools bool
}

// DefaultConfig returns default OpenAI configuration
func DefaultConfig() *Config {
	return &Config{
		Name:  "openai",
		Model: DefaultModel,
	}
}

// Driver talks to the OpenAI chat completions API or any compatible endpoint.
type Driver struct {
	config Config
	client openai.Client
}

// New creates a new OpenAI driver using the official SDK. An API key is required.
func New(config Config) (*Driver, error) {
	if config.Name == "" {
		config.Name = "openai"
	}
	if config.APIKey == "" {
		return nil, &errorskg.ConfigurationError{Driver: config.Name, Field: "api_key", Message: "is required"}
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Driver{
		config: config,
		client: openai.NewClient(options...),
	}, nil
}

// Factory returns an llm.Factory for this driver. defaultBaseURL applies when
// the driver configuration has no base URL of its own.
func Factory(name, defaultBaseURL string) llm.Factory {
	return func(_ context.Context, cfg llm.DriverConfig) (llm.Driver, error) {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		return New(Config{
			Name:         name,
			APIKey:       cfg.APIKey,
			BaseURL:      baseURL,
			Model:        cfg.Model,
			MaxTokens:    int64(cfg.MaxTokens),
			Temperature:  cfg.Temperature,
			DisableTools: cfg.DisableTools,
		})
	}
}

func (d *Driver) Name() string { return d.config.Name }

// Model returns the configured model.
func (d *Driver) Model() string { return d.config.Model }

func (d *Driver) SupportsToolCalling() bool { return !d.config.DisableTools }

// WithModel returns a copy of d bound to model. The HTTP client is shared.
func (d *Driver) WithModel(model string) llm.Driver {
	clone := *d
	clone.config.Model = model
	return &clone
}

// Chat performs a blocking completion.
func (d *Driver) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params, err := d.buildParams(req)
	if err != nil {
		return nil, err
	}

	completion, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, d.providerError(err)
	}

	if len(completion.Choices) == 0 {
		return nil, &errorskg.InvalidResponseError{Provider: d.config.Name, Reason: "no choices returned"}
	}

	choice := completion.Choices[0]
	resp := &llm.Response{
		Content:      choice.Message.Content,
		FinishReason: normalizeFinishReason(choice.FinishReason),
		Usage:        convertUsage(completion.Usage),
	}

	for _, tc := range choice.Message.ToolCalls {
		args, err := message.ParseArguments(tc.Function.Arguments)
		if err != nil {
			return nil, &errorskg.InvalidResponseError{
				Provider: d.config.Name,
				Reason:   fmt.Sprintf("tool call %s arguments", tc.Function.Name),
				Err:      err,
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, message.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	resp.FinishReason = llm.InferFinishReason(resp.FinishReason, len(resp.ToolCalls) > 0)

	return resp, nil
}

func (d *Driver) buildParams(req *llm.Request) (openai.ChatCompletionNewParams, error) {
	if req == nil {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("chat request cannot be nil")
	}

	params := openai.ChatCompletionNewParams{
		Messages: encodeMessages(req.Messages),
		Model:    openai.ChatModel(d.config.Model),
	}

	if d.config.Temperature > 0 {
		params.Temperature = param.NewOpt(d.config.Temperature)
	}
	if d.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(d.config.MaxTokens)
	}
	if len(req.Tools) > 0 && d.SupportsToolCalling() {
		params.Tools = encodeTools(req.Tools)
	}
	return params, nil
}

func (d *Driver) providerError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := &errorskg.ProviderError{Provider: d.config.Name, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
	}
	return pe
}

var (
	_ llm.Driver      = (*Driver)(nil)
	_ llm.ModelCloner = (*Driver)(nil)
)
