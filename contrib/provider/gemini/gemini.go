package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// Config holds Gemini provider configuration
type Config struct {
	APIKey       string
	Model        string
	MaxTokens    int
	Temperature  float64
	DisableTools bool
}

// Driver talks to the Gemini API through the generative-ai-go client.
type Driver struct {
	config Config
	client *genai.Client
}

// New creates a new Gemini driver. An API key is required.
func New(ctx context.Context, config Config) (*Driver, error) {
	if config.APIKey == "" {
		return nil, &errorskg.ConfigurationError{Driver: "gemini", Field: "api_key", Message: "is required"}
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, &errorskg.ConfigurationError{Driver: "gemini", Message: err.Error()}
	}
	return &Driver{config: config, client: client}, nil
}

// Factory builds Gemini drivers from manager configuration.
func Factory(ctx context.Context, cfg llm.DriverConfig) (llm.Driver, error) {
	return New(ctx, Config{
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		DisableTools: cfg.DisableTools,
	})
}

func (d *Driver) Name() string { return "gemini" }

// Model returns the configured model.
func (d *Driver) Model() string { return d.config.Model }

func (d *Driver) SupportsToolCalling() bool { return !d.config.DisableTools }

// WithModel returns a copy of d bound to model. The client is shared.
func (d *Driver) WithModel(model string) llm.Driver {
	clone := *d
	clone.config.Model = model
	return &clone
}

// Close releases the underlying client.
func (d *Driver) Close() error {
	return d.client.Close()
}

// Chat performs a blocking completion.
func (d *Driver) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	session, parts, err := d.prepare(req)
	if err != nil {
		return nil, err
	}
	resp, err := session.SendMessage(ctx, parts...)
	if err != nil {
		return nil, d.providerError(err)
	}

	out := &llm.Response{}
	if err := decodeResponse(resp, out); err != nil {
		return nil, &errorskg.InvalidResponseError{Provider: d.Name(), Reason: err.Error()}
	}
	out.FinishReason = llm.InferFinishReason(out.FinishReason, len(out.ToolCalls) > 0)
	return out, nil
}

// Stream performs a streaming completion. Gemini delivers function calls
// whole, so they are yielded as they arrive.
func (d *Driver) Stream(ctx context.Context, req *llm.Request) iter.Seq2[*llm.StreamChunk, error] {
	return func(yield func(*llm.StreamChunk, error) bool) {
		session, parts, err := d.prepare(req)
		if err != nil {
			yield(nil, err)
			return
		}
		it := session.SendMessageStream(ctx, parts...)

		var (
			finish   llm.FinishReason
			usage    *llm.Usage
			sawCalls bool
		)
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				yield(nil, d.providerError(err))
				return
			}

			var turn llm.Response
			if err := decodeResponse(resp, &turn); err != nil {
				yield(nil, &errorskg.InvalidResponseError{Provider: d.Name(), Reason: err.Error()})
				return
			}
			if turn.FinishReason != "" {
				finish = turn.FinishReason
			}
			if turn.Usage != nil {
				usage = turn.Usage
			}
			if len(turn.ToolCalls) > 0 {
				sawCalls = true
			}
			chunk := &llm.StreamChunk{Content: turn.Content, ToolCalls: turn.ToolCalls}
			if !chunk.IsEmpty() && !yield(chunk, nil) {
				return
			}
		}

		if sawCalls && finish == llm.FinishStop {
			finish = llm.FinishToolCalls
		}
		yield(&llm.StreamChunk{
			FinishReason: llm.InferFinishReason(finish, sawCalls),
			Usage:        usage,
		}, nil)
	}
}

// prepare builds a chat session holding every message but the last, which is
// returned as the parts to send.
func (d *Driver) prepare(req *llm.Request) (*genai.ChatSession, []genai.Part, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("chat request cannot be nil")
	}

	model := d.client.GenerativeModel(d.config.Model)
	if d.config.Temperature > 0 {
		model.SetTemperature(float32(d.config.Temperature))
	}
	if d.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(d.config.MaxTokens))
	}
	if len(req.Tools) > 0 && d.SupportsToolCalling() {
		model.Tools = encodeTools(req.Tools)
	}

	system, contents := encodeMessages(req.Messages)
	if system != nil {
		model.SystemInstruction = system
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("chat request has no messages")
	}

	session := model.StartChat()
	last := contents[len(contents)-1]
	session.History = contents[:len(contents)-1]
	return session, last.Parts, nil
}

func (d *Driver) providerError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := &errorskg.ProviderError{Provider: d.Name(), Err: err}
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.HTTPCode(); code > 0 {
			pe.StatusCode = code
		}
	}
	return pe
}

var (
	_ llm.Driver      = (*Driver)(nil)
	_ llm.ModelCloner = (*Driver)(nil)
)
