package claude

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxTokens is sent when no limit is configured; the API requires one.
	DefaultMaxTokens = 4096
)

// MessagesClient is the subset of the Anthropic SDK used by the driver.
// *sdk.MessageService satisfies it.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Config holds Claude provider configuration
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	Temperature  float64
	DisableTools bool
}

// DefaultConfig returns default Claude configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:    apiKey,
		Model:     DefaultModel,
		MaxTokens: DefaultMaxTokens,
	}
}

// Driver talks to the Anthropic messages API.
type Driver struct {
	config Config
	msg    MessagesClient
}

// New creates a Claude driver using the official SDK. An API key is required.
func New(config Config) (*Driver, error) {
	if config.APIKey == "" {
		return nil, &errorskg.ConfigurationError{Driver: "anthropic", Field: "api_key", Message: "is required"}
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	client := sdk.NewClient(options...)
	return NewWithClient(&client.Messages, config), nil
}

// NewWithClient builds a driver around an existing messages client.
func NewWithClient(msg MessagesClient, config Config) *Driver {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	return &Driver{config: config, msg: msg}
}

// Factory builds Claude drivers from manager configuration.
func Factory(_ context.Context, cfg llm.DriverConfig) (llm.Driver, error) {
	return New(Config{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		MaxTokens:    int64(cfg.MaxTokens),
		Temperature:  cfg.Temperature,
		DisableTools: cfg.DisableTools,
	})
}

func (d *Driver) Name() string { return "anthropic" }

// Model returns the configured model.
func (d *Driver) Model() string { return d.config.Model }

func (d *Driver) SupportsToolCalling() bool { return !d.config.DisableTools }

// WithModel returns a copy of d bound to model.
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

	msg, err := d.msg.New(ctx, params)
	if err != nil {
		return nil, d.providerError(err)
	}
	if msg == nil {
		return nil, &errorskg.InvalidResponseError{Provider: d.Name(), Reason: "empty message"}
	}

	resp := &llm.Response{FinishReason: normalizeStopReason(string(msg.StopReason))}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "thinking":
			resp.Thinking += block.Thinking
		case "tool_use":
			args, err := message.ParseArguments(string(block.Input))
			if err != nil {
				return nil, &errorskg.InvalidResponseError{
					Provider: d.Name(),
					Reason:   fmt.Sprintf("tool call %s input", block.Name),
					Err:      err,
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, message.ToolCall{ID: block.ID, Name: block.Name, Args: args})
		}
	}
	resp.FinishReason = llm.InferFinishReason(resp.FinishReason, len(resp.ToolCalls) > 0)
	resp.Usage = convertUsage(msg.Usage.InputTokens, msg.Usage.OutputTokens)
	return resp, nil
}

func (d *Driver) buildParams(req *llm.Request) (sdk.MessageNewParams, error) {
	if req == nil {
		return sdk.MessageNewParams{}, fmt.Errorf("chat request cannot be nil")
	}

	msgs, system := encodeMessages(req.Messages)
	params := sdk.MessageNewParams{
		MaxTokens: d.config.MaxTokens,
		Messages:  msgs,
		Model:     sdk.Model(d.config.Model),
	}
	if len(system) > 0 {
		params.System = system
	}
	if d.config.Temperature > 0 {
		params.Temperature = sdk.Float(d.config.Temperature)
	}
	if len(req.Tools) > 0 && d.SupportsToolCalling() {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return sdk.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func (d *Driver) providerError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := &errorskg.ProviderError{Provider: d.Name(), Err: err}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
	}
	return pe
}

var (
	_ llm.Driver      = (*Driver)(nil)
	_ llm.ModelCloner = (*Driver)(nil)
)
