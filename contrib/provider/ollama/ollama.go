package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
)

const (
	// DefaultBaseURL is the local Ollama server.
	DefaultBaseURL = "http://localhost:11434"
	// DefaultModel is used when no model is configured.
	DefaultModel = "llama3.1"
)

// Config holds Ollama provider configuration
type Config struct {
	BaseURL      string
	Model        string
	MaxTokens    int
	Temperature  float64
	DisableTools bool
	// Think asks reasoning models to return their thinking separately.
	Think bool
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
}

// Driver talks to the native Ollama chat API. No credentials are needed.
type Driver struct {
	config Config
	client *api.Client
}

// New creates a new Ollama driver
func New(config Config) (*Driver, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = DefaultModel
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, &errorskg.ConfigurationError{Driver: "ollama", Field: "base_url", Message: err.Error()}
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Driver{config: config, client: api.NewClient(base, httpClient)}, nil
}

// Factory builds Ollama drivers from manager configuration.
func Factory(_ context.Context, cfg llm.DriverConfig) (llm.Driver, error) {
	d, err := New(Config{
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		DisableTools: cfg.DisableTools,
		Think:        cfg.Think,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) Name() string { return "ollama" }

// Model returns the configured model.
func (d *Driver) Model() string { return d.config.Model }

func (d *Driver) SupportsToolCalling() bool { return !d.config.DisableTools }

// WithModel returns a copy of d bound to model. The copy shares the client.
func (d *Driver) WithModel(model string) llm.Driver {
	clone := *d
	clone.config.Model = model
	return &clone
}

// Chat performs a blocking completion.
func (d *Driver) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	chatReq, err := d.newRequest(req, false)
	if err != nil {
		return nil, err
	}

	var final *api.ChatResponse
	err = d.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		final = &resp
		return nil
	})
	if err != nil {
		return nil, d.wrapError(ctx, err)
	}
	if final == nil {
		return nil, &errorskg.InvalidResponseError{Provider: d.Name(), Reason: "empty response"}
	}

	calls := decodeToolCalls(final.Message.ToolCalls)
	return &llm.Response{
		Content:      final.Message.Content,
		Thinking:     final.Message.Thinking,
		ToolCalls:    calls,
		FinishReason: finishReason(final.DoneReason, len(calls) > 0),
		Usage:        usage(final.Metrics),
	}, nil
}

func (d *Driver) newRequest(req *llm.Request, stream bool) (*api.ChatRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("chat request cannot be nil")
	}

	chatReq := &api.ChatRequest{
		Model:    d.config.Model,
		Messages: encodeMessages(req.Messages),
		Stream:   &stream,
	}
	if d.config.Think {
		chatReq.Think = &api.ThinkValue{Value: true}
	}
	if len(req.Tools) > 0 && d.SupportsToolCalling() {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		chatReq.Tools = tools
	}
	opts := map[string]any{}
	if d.config.Temperature > 0 {
		opts["temperature"] = d.config.Temperature
	}
	if d.config.MaxTokens > 0 {
		opts["num_predict"] = d.config.MaxTokens
	}
	if len(opts) > 0 {
		chatReq.Options = opts
	}
	return chatReq, nil
}

// wrapError maps client failures onto the error taxonomy. Payloads the client
// cannot decode, such as non-object tool arguments, are invalid responses.
func (d *Driver) wrapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var status api.StatusError
	if errors.As(err, &status) {
		msg := status.ErrorMessage
		if msg == "" {
			msg = status.Status
		}
		return &errorskg.ProviderError{Provider: d.Name(), StatusCode: status.StatusCode, Err: errors.New(msg)}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &errorskg.InvalidResponseError{Provider: d.Name(), Reason: "decode response", Err: err}
	}
	return &errorskg.ProviderError{Provider: d.Name(), Err: err}
}

var (
	_ llm.Driver      = (*Driver)(nil)
	_ llm.ModelCloner = (*Driver)(nil)
)
