package llm

import (
	"context"
	"iter"
)

// Driver is a provider adapter. Chat blocks for a whole turn; Stream yields
// the same turn incrementally. Drivers never retry.
type Driver interface {
	Name() string
	Chat(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) iter.Seq2[*StreamChunk, error]
	SupportsToolCalling() bool
}

// ModelCloner is implemented by drivers that can produce a copy bound to a
// different model while sharing transport configuration.
type ModelCloner interface {
	WithModel(model string) Driver
}

// TokenCounter estimates token counts for text.
type TokenCounter interface {
	CountTokens(text string) int
}

// Collect drains a stream into a Response. It is used by callers that need a
// blocking result from a streaming-only code path and by driver tests.
func Collect(seq iter.Seq2[*StreamChunk, error]) (*Response, error) {
	resp := &Response{}
	for chunk, err := range seq {
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		resp.Content += chunk.Content
		resp.Thinking += chunk.Thinking
		resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		if chunk.Usage != nil {
			resp.Usage = chunk.Usage.Clone()
		}
		if chunk.IsTerminal() {
			resp.FinishReason = chunk.FinishReason
			break
		}
	}
	return resp, nil
}

// InferFinishReason fills a missing finish reason from the turn contents.
func InferFinishReason(reason FinishReason, hasToolCalls bool) FinishReason {
	if reason != "" {
		return reason
	}
	if hasToolCalls {
		return FinishToolCalls
	}
	return FinishStop
}
