package agent

import (
	"context"
	"iter"

	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
)

// Stream runs the same loop as Run but forwards content, thinking and
// assembled tool calls as they arrive. The last event is either a terminal
// chunk carrying the run's finish reason and usage, or (nil, err) when the
// run failed or its context was cancelled. Consumer stops cancel the run.
func (o *Orchestrator) Stream(ctx context.Context, question string, history []*message.Message) iter.Seq2[*llm.StreamChunk, error] {
	return func(yield func(*llm.StreamChunk, error) bool) {
		if !o.used.CompareAndSwap(false, true) {
			yield(nil, ErrOrchestratorUsed)
			return
		}

		e := &emitter{yield: yield}
		o.execute(ctx, question, history, true, o.streamTurn(e))
		if e.stopped {
			return
		}

		o.mu.Lock()
		status, finish, runErr := o.status, o.finish, o.err
		usage := o.usage
		o.mu.Unlock()

		switch status {
		case StatusFailed, StatusCancelled:
			e.emit(nil, runErr)
		default:
			e.emit(&llm.StreamChunk{FinishReason: finish, Usage: &usage}, nil)
		}
	}
}

// emitter guards yield so it is never called again after returning false.
type emitter struct {
	yield   func(*llm.StreamChunk, error) bool
	stopped bool
}

func (e *emitter) emit(chunk *llm.StreamChunk, err error) bool {
	if e.stopped {
		return false
	}
	if !e.yield(chunk, err) {
		e.stopped = true
	}
	return !e.stopped
}

// streamTurn ranges the driver stream, forwarding everything but finish
// reason and usage, and assembles the logical turn. It stops at the first
// terminal chunk.
func (o *Orchestrator) streamTurn(e *emitter) turnFunc {
	return func(ctx context.Context, req *llm.Request, sep string) (*llm.Response, error) {
		resp := &llm.Response{}
		for chunk, err := range o.agent.driver.Stream(ctx, req) {
			if err != nil {
				return nil, err
			}
			if chunk == nil {
				continue
			}
			if chunk.Content != "" && sep != "" {
				if !e.emit(&llm.StreamChunk{Content: sep}, nil) {
					return nil, errStopped
				}
				sep = ""
			}

			resp.Content += chunk.Content
			resp.Thinking += chunk.Thinking
			resp.ToolCalls = append(resp.ToolCalls, cloneCalls(chunk.ToolCalls)...)
			if chunk.Usage != nil {
				resp.Usage = chunk.Usage.Clone()
			}

			out := &llm.StreamChunk{
				Content:   chunk.Content,
				Thinking:  chunk.Thinking,
				ToolCalls: cloneCalls(chunk.ToolCalls),
			}
			if !out.IsEmpty() && !e.emit(out, nil) {
				return nil, errStopped
			}
			if chunk.IsTerminal() {
				resp.FinishReason = chunk.FinishReason
				break
			}
		}
		return resp, nil
	}
}
