package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
	"github.com/sweetpotato0/askdb/middleware"
	"github.com/sweetpotato0/askdb/pkg/telemetry"
	"github.com/sweetpotato0/askdb/tool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// answerSeparator joins the content of consecutive model turns.
const answerSeparator = "\n\n"

// errStopped is returned by a stream turn when the consumer stops ranging.
var errStopped = errors.New("agent: stream consumer stopped")

// turnFunc performs one model call. sep is the text that must precede the
// turn's content in the answer; stream turns emit it ahead of the first
// content chunk.
type turnFunc func(ctx context.Context, req *llm.Request, sep string) (*llm.Response, error)

// Orchestrator runs the tool-use loop for a single conversational turn. It
// owns the accumulators of that turn and can be run once.
type Orchestrator struct {
	agent *Agent
	used  atomic.Bool

	// messages is owned by the loop goroutine.
	messages []*message.Message

	mu          sync.Mutex
	status      Status
	answer      string
	thinking    string
	queries     []tool.Query
	toolCalls   []message.ToolCall
	iterations  []Iteration
	lastRequest *llm.Request
	usage       llm.Usage
	finish      llm.FinishReason
	truncated   bool
	err         error
}

func newOrchestrator(a *Agent) *Orchestrator {
	return &Orchestrator{
		agent:   a,
		status:  StatusPlanning,
		queries: []tool.Query{},
	}
}

// Run drives the loop with blocking model calls and returns the result.
// Failures are reported in the Response, never as a panic or separate error.
func (o *Orchestrator) Run(ctx context.Context, question string, history []*message.Message) *Response {
	if !o.used.CompareAndSwap(false, true) {
		return &Response{
			Error:   ErrOrchestratorUsed.Error(),
			Err:     ErrOrchestratorUsed,
			Queries: []tool.Query{},
			Status:  StatusFailed,
		}
	}

	mctx := o.execute(ctx, question, history, false, o.chatTurn)
	resp := o.response()
	if mctx.Response != nil && resp.Status == StatusDone {
		resp.Answer = mctx.Response.Text()
	}
	return resp
}

func (o *Orchestrator) chatTurn(ctx context.Context, req *llm.Request, _ string) (*llm.Response, error) {
	resp, err := o.agent.driver.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &errorskg.InvalidResponseError{Provider: o.agent.driver.Name(), Reason: "empty response"}
	}
	return resp, nil
}

// execute wraps the loop in the middleware chain and the run span.
func (o *Orchestrator) execute(ctx context.Context, question string, history []*message.Message, streaming bool, turn turnFunc) *middleware.Context {
	a := o.agent
	ctx, span := a.tracer.Start(ctx, "askdb.agent.run", trace.WithAttributes(
		attribute.String("agent.name", a.name),
		attribute.String("llm.driver", a.driver.Name()),
		attribute.Bool("agent.streaming", streaming),
	))

	mctx := middleware.NewContext(ctx)
	mctx.Input = question
	mctx.Messages = message.CloneMessages(history)
	mctx.Set(middleware.MetaStreaming, streaming)

	err := a.middlewares.Execute(mctx, func(mc *middleware.Context) error {
		o.seed(mc.Input, mc.Messages)
		o.loop(mc.Context(), turn)

		mc.Response = message.NewMessage(message.RoleAssistant, o.Answer())
		mc.Set(middleware.MetaQueries, o.Queries())
		mc.Set(middleware.MetaStatus, string(o.Status()))
		mc.Set(middleware.MetaIterations, len(o.Iterations()))
		if o.Status() == StatusFailed {
			mc.Error = o.Err()
			return mc.Error
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		o.cancel(ctx, err)
	default:
		o.fail(err)
	}

	o.mu.Lock()
	if !o.status.IsTerminal() {
		// A middleware answered without calling the rest of the chain.
		o.status = StatusDone
	}
	status, usage, runErr := o.status, o.usage, o.err
	o.mu.Unlock()

	span.SetAttributes(
		attribute.String("agent.status", string(status)),
		attribute.Int("llm.usage.prompt_tokens", usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", usage.CompletionTokens),
	)
	if status == StatusFailed {
		a.logger.ErrorContext(ctx, "run failed", "agent", a.name, "error", runErr)
		telemetry.End(span, runErr)
	} else {
		telemetry.End(span, nil)
	}
	return mctx
}

func (o *Orchestrator) seed(question string, history []*message.Message) {
	msgs := make([]*message.Message, 0, len(history)+2)
	if o.agent.systemPrompt != "" {
		msgs = append(msgs, message.NewMessage(message.RoleSystem, o.agent.systemPrompt))
	}
	msgs = append(msgs, message.CloneMessages(history)...)
	msgs = append(msgs, message.NewMessage(message.RoleUser, question))
	o.messages = msgs
}

// loop runs model turns until the model stops calling tools, the iteration
// cap is reached, the run is cancelled or a fatal error occurs. It always
// leaves the orchestrator in a terminal status.
func (o *Orchestrator) loop(ctx context.Context, turn turnFunc) {
	a := o.agent
	var defs []llm.ToolDefinition
	if a.driver.SupportsToolCalling() {
		defs = a.tools.Definitions()
	}

	for i := 0; i < a.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			o.cancel(ctx, err)
			return
		}

		req := &llm.Request{Messages: message.CloneMessages(o.messages), Tools: defs}
		o.mu.Lock()
		o.lastRequest = req.Clone()
		o.status = StatusAwaitingModel
		sep := ""
		if o.answer != "" {
			sep = answerSeparator
		}
		o.mu.Unlock()

		resp, err := o.callModel(ctx, i, req, sep, turn)
		if err != nil {
			if errors.Is(err, errStopped) {
				o.cancel(ctx, context.Canceled)
				return
			}
			if cerr := ctx.Err(); cerr != nil {
				o.cancel(ctx, cerr)
				return
			}
			o.fail(err)
			return
		}

		it := Iteration{
			Index:        i,
			Request:      req,
			Content:      resp.Content,
			Thinking:     resp.Thinking,
			ToolCalls:    resp.ToolCalls,
			FinishReason: resp.FinishReason,
			Usage:        resp.Usage,
		}
		o.messages = append(o.messages, message.NewToolCallMessage(resp.Content, resp.ToolCalls))

		o.mu.Lock()
		o.answer += sepFor(o.answer, resp.Content) + resp.Content
		if resp.Thinking != "" {
			o.thinking += sepFor(o.thinking, resp.Thinking) + resp.Thinking
		}
		for _, tc := range resp.ToolCalls {
			o.toolCalls = append(o.toolCalls, tc.Clone())
		}
		o.usage.Add(resp.Usage)
		if len(resp.ToolCalls) > 0 {
			o.status = StatusExecutingTools
		}
		o.mu.Unlock()

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				o.record(it)
				o.cancel(ctx, err)
				return
			}
			outcome := o.executeTool(ctx, i, call)
			it.ToolResults = append(it.ToolResults, outcome)
			o.messages = append(o.messages, toolMessage(outcome))
			if outcome.Success && outcome.Query != nil {
				o.mu.Lock()
				o.queries = append(o.queries, *outcome.Query)
				o.mu.Unlock()
			}
		}
		o.record(it)

		if len(resp.ToolCalls) == 0 {
			o.mu.Lock()
			o.finish = resp.FinishReason
			o.truncated = resp.FinishReason == llm.FinishLength
			o.status = StatusDone
			o.mu.Unlock()
			return
		}
	}

	a.logger.WarnContext(ctx, "iteration limit reached", "agent", a.name, "max_iterations", a.maxIterations)
	o.mu.Lock()
	o.finish = llm.FinishMaxIterations
	o.truncated = true
	o.status = StatusDone
	o.mu.Unlock()
}

func sepFor(acc, next string) string {
	if acc == "" || next == "" {
		return ""
	}
	return answerSeparator
}

// callModel performs one turn under its own span and normalizes the result.
func (o *Orchestrator) callModel(ctx context.Context, index int, req *llm.Request, sep string, turn turnFunc) (*llm.Response, error) {
	a := o.agent
	attrs := []attribute.KeyValue{
		attribute.String("llm.driver", a.driver.Name()),
		attribute.Int("agent.iteration", index),
	}
	ctx, span := a.tracer.Start(ctx, "askdb.agent.turn", trace.WithAttributes(attrs...))
	if a.instruments != nil {
		a.instruments.ModelTurns.Add(ctx, 1, metric.WithAttributes(attrs[0]))
	}

	start := time.Now()
	resp, err := turn(ctx, req, sep)
	if err != nil {
		if errors.Is(err, errStopped) || ctx.Err() != nil {
			telemetry.End(span, nil)
		} else {
			telemetry.End(span, err)
		}
		return nil, err
	}

	resp.FinishReason = llm.InferFinishReason(resp.FinishReason, len(resp.ToolCalls) > 0)
	if resp.Usage == nil {
		resp.Usage = o.estimateUsage(req, resp)
	}
	a.logger.DebugContext(ctx, "model turn completed",
		"agent", a.name,
		"iteration", index,
		"finish_reason", resp.FinishReason,
		"tool_calls", len(resp.ToolCalls),
		"duration", time.Since(start))

	span.SetAttributes(
		attribute.String("llm.finish_reason", string(resp.FinishReason)),
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
	)
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
		)
		if a.instruments != nil {
			a.instruments.Tokens.Add(ctx, int64(resp.Usage.PromptTokens+resp.Usage.CompletionTokens), metric.WithAttributes(attrs[0]))
		}
	}
	telemetry.End(span, nil)
	return resp, nil
}

// estimateUsage counts tokens locally when the provider reported none.
func (o *Orchestrator) estimateUsage(req *llm.Request, resp *llm.Response) *llm.Usage {
	counter := o.agent.counter
	if counter == nil {
		return nil
	}
	prompt := 0
	for _, msg := range req.Messages {
		prompt += counter.CountTokens(msg.Text())
		for _, tc := range msg.ToolCalls {
			prompt += counter.CountTokens(tc.Name) + counter.CountTokens(tc.Args.String())
		}
	}
	completion := counter.CountTokens(resp.Content) + counter.CountTokens(resp.Thinking)
	for _, tc := range resp.ToolCalls {
		completion += counter.CountTokens(tc.Name) + counter.CountTokens(tc.Args.String())
	}
	return &llm.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		Estimated:        true,
	}
}

// executeTool runs one call. Every failure is absorbed into the outcome.
func (o *Orchestrator) executeTool(ctx context.Context, index int, call message.ToolCall) ToolOutcome {
	a := o.agent
	attrs := []attribute.KeyValue{
		attribute.String("tool.name", call.Name),
		attribute.Int("agent.iteration", index),
	}
	ctx, span := a.tracer.Start(ctx, "askdb.agent.tool", trace.WithAttributes(attrs...))

	start := time.Now()
	outcome := ToolOutcome{CallID: call.ID, Name: call.Name, Args: call.Args.Clone()}
	err := o.runTool(ctx, call, &outcome)
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.Success = false
		outcome.Error = err.Error()
		a.logger.WarnContext(ctx, "tool call failed", "agent", a.name, "tool", call.Name, "call_id", call.ID, "error", err)
	} else {
		a.logger.DebugContext(ctx, "tool call completed", "agent", a.name, "tool", call.Name, "call_id", call.ID, "duration", outcome.Duration)
	}

	span.SetAttributes(attribute.Bool("tool.success", outcome.Success))
	telemetry.End(span, err)
	if a.instruments != nil {
		a.instruments.ToolCalls.Add(ctx, 1, metric.WithAttributes(attrs[0], attribute.Bool("tool.success", outcome.Success)))
	}
	return outcome
}

func (o *Orchestrator) runTool(ctx context.Context, call message.ToolCall, out *ToolOutcome) error {
	t, err := o.agent.tools.Get(call.Name)
	if err != nil {
		return err
	}

	args := map[string]any(call.Args.Clone())
	query, isSQL := t.Query(args)
	if t.ExecutesSQL() && o.agent.validator != nil {
		if !isSQL {
			return fmt.Errorf("%w: no SQL statement in arguments", errorskg.ErrQueryRejected)
		}
		if err := o.agent.validator.Validate(ctx, query); err != nil {
			if errors.Is(err, errorskg.ErrQueryRejected) {
				return err
			}
			return fmt.Errorf("%w: %w", errorskg.ErrQueryRejected, err)
		}
	}

	res, err := t.Execute(ctx, args)
	if err != nil {
		return err
	}
	out.Output = res.Content
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = res.Content
		}
		return &errorskg.ToolExecutionError{Tool: t.Name, Err: errors.New(msg)}
	}

	out.Success = true
	switch {
	case res.Query != nil:
		q := *res.Query
		out.Query = &q
	case isSQL:
		out.Query = &query
	}
	return nil
}

func toolMessage(outcome ToolOutcome) *message.Message {
	if outcome.Success {
		return message.NewToolResponseMessage(outcome.CallID, outcome.Name, outcome.Output, false)
	}
	return message.NewToolResponseMessage(outcome.CallID, outcome.Name, "Error: "+outcome.Error, true)
}

func (o *Orchestrator) record(it Iteration) {
	o.mu.Lock()
	o.iterations = append(o.iterations, it.clone())
	o.mu.Unlock()
}

func (o *Orchestrator) cancel(ctx context.Context, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.IsTerminal() {
		return
	}
	o.status = StatusCancelled
	o.err = cause
	o.agent.logger.InfoContext(ctx, "run cancelled", "agent", o.agent.name, "cause", cause)
}

func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == StatusFailed {
		return
	}
	o.status = StatusFailed
	o.err = err
}

func (o *Orchestrator) response() *Response {
	o.mu.Lock()
	defer o.mu.Unlock()
	resp := &Response{
		Answer:       o.answer,
		Thinking:     o.thinking,
		Queries:      append([]tool.Query{}, o.queries...),
		ToolCalls:    cloneCalls(o.toolCalls),
		Iterations:   cloneIterations(o.iterations),
		Err:          o.err,
		Usage:        o.usage,
		FinishReason: o.finish,
		Truncated:    o.truncated,
		Status:       o.status,
	}
	if o.status == StatusFailed {
		resp.Error = o.err.Error()
	}
	return resp
}

// Result returns the run's outcome in the shape Run reports it. It is used
// after ranging Stream.
func (o *Orchestrator) Result() *Response {
	return o.response()
}

// Queries returns the SQL queries successfully executed so far, in order.
func (o *Orchestrator) Queries() []tool.Query {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]tool.Query{}, o.queries...)
}

// Iterations returns copies of the recorded iterations.
func (o *Orchestrator) Iterations() []Iteration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneIterations(o.iterations)
}

// LastRequest returns a copy of the most recent model request, or nil.
func (o *Orchestrator) LastRequest() *llm.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRequest.Clone()
}

// Usage returns the accumulated token usage.
func (o *Orchestrator) Usage() llm.Usage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.usage
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Truncated reports whether the answer was cut short by the token limit or
// the iteration cap.
func (o *Orchestrator) Truncated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.truncated
}

// Answer returns the answer accumulated so far.
func (o *Orchestrator) Answer() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.answer
}

// Err returns the error that failed or cancelled the run.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func cloneCalls(calls []message.ToolCall) []message.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]message.ToolCall, len(calls))
	for i, tc := range calls {
		out[i] = tc.Clone()
	}
	return out
}

func cloneIterations(its []Iteration) []Iteration {
	out := make([]Iteration, len(its))
	for i, it := range its {
		out[i] = it.clone()
	}
	return out
}
