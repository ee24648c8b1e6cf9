package ollama

import (
	"context"
	"errors"
	"iter"

	"github.com/ollama/ollama/api"

	"github.com/sweetpotato0/askdb/llm"
)

// errConsumerStopped ends the client's response loop when the consumer stops ranging.
var errConsumerStopped = errors.New("ollama: consumer stopped")

// Stream performs a streaming completion. Ollama sends each tool call whole,
// so calls are yielded as soon as they arrive.
func (d *Driver) Stream(ctx context.Context, req *llm.Request) iter.Seq2[*llm.StreamChunk, error] {
	return func(yield func(*llm.StreamChunk, error) bool) {
		chatReq, err := d.newRequest(req, true)
		if err != nil {
			yield(nil, err)
			return
		}

		sawCalls, done := false, false
		err = d.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			chunk := &llm.StreamChunk{
				Content:  resp.Message.Content,
				Thinking: resp.Message.Thinking,
			}
			if calls := decodeToolCalls(resp.Message.ToolCalls); len(calls) > 0 {
				sawCalls = true
				chunk.ToolCalls = calls
			}
			if !chunk.IsEmpty() && !yield(chunk, nil) {
				return errConsumerStopped
			}
			if resp.Done {
				done = true
				if !yield(&llm.StreamChunk{
					FinishReason: finishReason(resp.DoneReason, sawCalls),
					Usage:        usage(resp.Metrics),
				}, nil) {
					return errConsumerStopped
				}
			}
			return nil
		})
		switch {
		case errors.Is(err, errConsumerStopped):
		case err != nil:
			yield(nil, d.wrapError(ctx, err))
		case !done:
			// Body ended without a done line.
			yield(&llm.StreamChunk{FinishReason: finishReason("", sawCalls)}, nil)
		}
	}
}
