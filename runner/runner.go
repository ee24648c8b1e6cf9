package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sweetpotato0/askdb/agent"
	convctx "github.com/sweetpotato0/askdb/context"
	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/memory"
	"github.com/sweetpotato0/askdb/message"
	"github.com/sweetpotato0/askdb/pkg/logging"
	"github.com/sweetpotato0/askdb/session"
)

// DefaultMaxConcurrency bounds concurrent runs when no limit is configured.
const DefaultMaxConcurrency = 10

// Request is one question within a conversation. An empty ConversationID
// runs without history.
type Request struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Question       string `json:"question"`
}

// StreamCallback receives every chunk of a streamed run. Returning an error
// stops the run.
type StreamCallback func(*llm.StreamChunk) error

// Runner hosts an agent: it bounds concurrency, creates a fresh orchestrator
// per request and persists what each run produced.
type Runner struct {
	agent         *agent.Agent
	semaphore     chan struct{}
	sessions      session.Store
	knowledge     memory.MemoryStore
	historyWindow int
	historyTokens int
	counter       llm.TokenCounter
	logger        *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxConcurrency bounds the number of runs in flight.
func WithMaxConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.semaphore = make(chan struct{}, n)
		}
	}
}

// WithSessionStore loads and persists conversation history.
func WithSessionStore(s session.Store) Option {
	return func(r *Runner) {
		r.sessions = s
	}
}

// WithKnowledgeStore records answered questions and their SQL.
func WithKnowledgeStore(k memory.MemoryStore) Option {
	return func(r *Runner) {
		r.knowledge = k
	}
}

// WithHistoryWindow limits the history passed to the agent to the most recent
// n messages. Zero passes the whole history.
func WithHistoryWindow(n int) Option {
	return func(r *Runner) {
		r.historyWindow = n
	}
}

// WithHistoryTokenBudget additionally limits the history passed to the agent
// to budget tokens as measured by counter.
func WithHistoryTokenBudget(counter llm.TokenCounter, budget int) Option {
	return func(r *Runner) {
		r.counter = counter
		r.historyTokens = budget
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// New creates a runner for ag.
func New(ag *agent.Agent, opts ...Option) (*Runner, error) {
	if ag == nil {
		return nil, &errorskg.ConfigurationError{Field: "agent", Message: "is required"}
	}
	r := &Runner{
		agent:     ag,
		semaphore: make(chan struct{}, DefaultMaxConcurrency),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.WithComponent("runner")
	}
	return r, nil
}

// Ask answers a question. The error is non-nil only when the request could
// not be served (no slot before ctx ended, history unavailable); run
// failures are reported in the Response.
func (r *Runner) Ask(ctx context.Context, req Request) (*agent.Response, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	history, err := r.history(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	resp := r.agent.Orchestrator().Run(ctx, req.Question, history)
	r.persist(ctx, req, resp)
	return resp, nil
}

// Stream answers a question, passing every chunk to callback. It returns the
// final response once the stream ends, and the error that ended it early.
func (r *Runner) Stream(ctx context.Context, req Request, callback StreamCallback) (*agent.Response, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	history, err := r.history(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	orch := r.agent.Orchestrator()
	var streamErr error
	for chunk, err := range orch.Stream(ctx, req.Question, history) {
		if err != nil {
			streamErr = err
			break
		}
		if callback == nil {
			continue
		}
		if err := callback(chunk); err != nil {
			streamErr = fmt.Errorf("stream callback: %w", err)
			break
		}
	}

	resp := orch.Result()
	r.persist(ctx, req, resp)
	return resp, streamErr
}

func (r *Runner) acquire(ctx context.Context) (func(), error) {
	select {
	case r.semaphore <- struct{}{}:
		return func() { <-r.semaphore }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Runner) history(ctx context.Context, conversationID string) ([]*message.Message, error) {
	if r.sessions == nil || conversationID == "" {
		return nil, nil
	}
	msgs, err := r.sessions.History(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", conversationID, err)
	}
	var opts []convctx.Option
	if r.counter != nil && r.historyTokens > 0 {
		opts = append(opts, convctx.WithTokenBudget(r.counter, r.historyTokens))
	}
	window := convctx.NewWithMaxSize(r.historyWindow, opts...)
	window.AddMessages(msgs...)
	return window.GetMessages(), nil
}

// persist stores the exchange of a completed run and, when SQL grounded the
// answer, a knowledge entry. Storage failures are logged, not returned.
func (r *Runner) persist(ctx context.Context, req Request, resp *agent.Response) {
	if resp == nil || resp.Status != agent.StatusDone {
		return
	}
	if r.sessions != nil && req.ConversationID != "" {
		err := r.sessions.Append(ctx, req.ConversationID,
			message.NewMessage(message.RoleUser, req.Question),
			message.NewMessage(message.RoleAssistant, resp.Answer),
		)
		if err != nil {
			r.logger.WarnContext(ctx, "failed to persist history", "conversation_id", req.ConversationID, "error", err)
		}
	}
	if r.knowledge != nil && len(resp.Queries) > 0 {
		entry := memory.NewKnowledge(req.Question, resp.Answer, resp.Queries)
		if err := r.knowledge.AddMemory(ctx, entry); err != nil {
			r.logger.WarnContext(ctx, "failed to record knowledge", "error", err)
		}
	}
}

// Result is the outcome of one request of a batch.
type Result struct {
	Request  Request
	Response *agent.Response
	Err      error
}

// AskAll answers requests concurrently, bounded by the runner's concurrency
// limit. Results are in request order.
func (r *Runner) AskAll(ctx context.Context, reqs []Request) []*Result {
	results := make([]*Result, len(reqs))
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func(index int, req Request) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					results[index] = &Result{
						Request: req,
						Err:     fmt.Errorf("panic answering %q: %v", req.Question, p),
					}
				}
			}()

			resp, err := r.Ask(ctx, req)
			results[index] = &Result{Request: req, Response: resp, Err: err}
		}(i, req)
	}

	wg.Wait()
	return results
}
