package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
	"github.com/sweetpotato0/askdb/middleware"
	"github.com/sweetpotato0/askdb/pkg/logging"
	"github.com/sweetpotato0/askdb/pkg/telemetry"
	"github.com/sweetpotato0/askdb/prompt"
	"github.com/sweetpotato0/askdb/tool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxIterations bounds the model turns of one run.
const DefaultMaxIterations = 10

// Agent is the shared, immutable configuration of a question-answering
// agent. It is safe for concurrent use; every run gets its own Orchestrator.
type Agent struct {
	name          string
	driver        llm.Driver
	tools         *tool.Registry
	promptText    string
	promptVars    map[string]any
	systemPrompt  string
	maxIterations int
	validator     QueryValidator
	middlewares   *middleware.Chain
	logger        *slog.Logger
	counter       llm.TokenCounter
	tracer        trace.Tracer
	meter         metric.Meter
	instruments   *telemetry.Instruments
}

// Option is a function that configures an Agent
type Option func(*Agent)

// WithName sets the agent name
func WithName(name string) Option {
	return func(a *Agent) {
		a.name = name
	}
}

// WithDriver sets the LLM driver. An *llm.Manager can be passed to use the
// configured default driver.
func WithDriver(d llm.Driver) Option {
	return func(a *Agent) {
		a.driver = d
	}
}

// WithTools registers tools, replacing any registered under the same name.
func WithTools(tools ...*tool.Tool) Option {
	return func(a *Agent) {
		for _, t := range tools {
			if t != nil {
				_ = a.tools.Upsert(t)
			}
		}
	}
}

// WithRegistry uses an existing registry. Tools added later with WithTools
// go into it.
func WithRegistry(r *tool.Registry) Option {
	return func(a *Agent) {
		if r != nil {
			a.tools = r
		}
	}
}

// WithSystemPrompt sets the system prompt template. It is rendered once with
// the variables from WithPromptVars.
func WithSystemPrompt(text string) Option {
	return func(a *Agent) {
		a.promptText = text
	}
}

// WithPromptVars sets the variables the system prompt is rendered with.
func WithPromptVars(vars map[string]any) Option {
	return func(a *Agent) {
		for k, v := range vars {
			a.promptVars[k] = v
		}
	}
}

// WithMaxIterations sets the maximum number of model turns per run
func WithMaxIterations(max int) Option {
	return func(a *Agent) {
		a.maxIterations = max
	}
}

// WithQueryValidator gates every query a SQL tool is about to run.
func WithQueryValidator(v QueryValidator) Option {
	return func(a *Agent) {
		a.validator = v
	}
}

// WithMiddleware adds a middleware to the agent
func WithMiddleware(m middleware.Middleware) Option {
	return func(a *Agent) {
		a.middlewares.Add(m)
	}
}

// WithMiddlewares replaces the middleware chain
func WithMiddlewares(middlewares ...middleware.Middleware) Option {
	return func(a *Agent) {
		a.middlewares = middleware.NewChain(middlewares...)
	}
}

// WithLogger sets the logger. Defaults to the process logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// WithTokenCounter estimates usage for turns whose provider reports none.
func WithTokenCounter(c llm.TokenCounter) Option {
	return func(a *Agent) {
		a.counter = c
	}
}

// WithTracer sets the tracer used for run, turn and tool spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Agent) {
		a.tracer = t
	}
}

// WithMeter sets the meter the agent counters are created on.
func WithMeter(m metric.Meter) Option {
	return func(a *Agent) {
		a.meter = m
	}
}

// New creates an agent. A driver is required.
func New(opts ...Option) (*Agent, error) {
	a := &Agent{
		name:          "askdb",
		tools:         tool.NewRegistry(),
		promptText:    prompt.DefaultSystemPrompt,
		promptVars:    make(map[string]any),
		maxIterations: DefaultMaxIterations,
		middlewares:   middleware.NewChain(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.driver == nil {
		return nil, &errorskg.ConfigurationError{Field: "driver", Message: "an LLM driver is required"}
	}
	if a.maxIterations <= 0 {
		return nil, &errorskg.ConfigurationError{Field: "max_iterations", Message: fmt.Sprintf("must be positive, got %d", a.maxIterations)}
	}
	if a.logger == nil {
		a.logger = logging.WithComponent("agent")
	}
	if a.tracer == nil {
		a.tracer = telemetry.Tracer()
	}

	if a.promptText != "" {
		tmpl, err := prompt.NewTemplate("system", a.promptText)
		if err != nil {
			return nil, &errorskg.ConfigurationError{Field: "system_prompt", Message: err.Error()}
		}
		rendered, err := tmpl.Render(a.promptVars)
		if err != nil {
			return nil, &errorskg.ConfigurationError{Field: "system_prompt", Message: err.Error()}
		}
		a.systemPrompt = rendered
	}

	instruments, err := telemetry.NewInstruments(a.meter)
	if err != nil {
		a.logger.Warn("metrics disabled", "error", err)
	} else {
		a.instruments = instruments
	}
	return a, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Driver returns the LLM driver.
func (a *Agent) Driver() llm.Driver { return a.driver }

// Tools returns the tool registry.
func (a *Agent) Tools() *tool.Registry { return a.tools }

// SystemPrompt returns the rendered system prompt.
func (a *Agent) SystemPrompt() string { return a.systemPrompt }

// MaxIterations returns the model turn limit.
func (a *Agent) MaxIterations() int { return a.maxIterations }

// Orchestrator returns a fresh orchestrator for one conversational turn.
func (a *Agent) Orchestrator() *Orchestrator {
	return newOrchestrator(a)
}

// Run answers question on a fresh orchestrator.
func (a *Agent) Run(ctx context.Context, question string, history []*message.Message) *Response {
	return a.Orchestrator().Run(ctx, question, history)
}

// Stream answers question incrementally on a fresh orchestrator.
func (a *Agent) Stream(ctx context.Context, question string, history []*message.Message) iter.Seq2[*llm.StreamChunk, error] {
	return a.Orchestrator().Stream(ctx, question, history)
}
