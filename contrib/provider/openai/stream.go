package openai

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
)

// pendingCall accumulates the deltas of one streamed tool call.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// Stream performs a streaming completion. Content deltas are yielded as they
// arrive; tool calls are yielded once the stream has ended and their argument
// fragments decode; the terminal chunk comes last and carries usage.
func (d *Driver) Stream(ctx context.Context, req *llm.Request) iter.Seq2[*llm.StreamChunk, error] {
	return func(yield func(*llm.StreamChunk, error) bool) {
		params, err := d.buildParams(req)
		if err != nil {
			yield(nil, err)
			return
		}
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}

		stream := d.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		pending := make(map[int64]*pendingCall)
		var finish llm.FinishReason
		var usage *llm.Usage

		for stream.Next() {
			chunk := stream.Current()
			if u := convertUsage(chunk.Usage); u != nil {
				usage = u
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				if !yield(&llm.StreamChunk{Content: choice.Delta.Content}, nil) {
					return
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				call, ok := pending[tc.Index]
				if !ok {
					call = &pendingCall{}
					pending[tc.Index] = call
				}
				if tc.ID != "" {
					call.id = tc.ID
				}
				if tc.Function.Name != "" {
					call.name = tc.Function.Name
				}
				call.args.WriteString(tc.Function.Arguments)
			}

			if choice.FinishReason != "" {
				finish = normalizeFinishReason(choice.FinishReason)
			}
		}

		if err := stream.Err(); err != nil {
			yield(nil, d.providerError(err))
			return
		}

		calls, err := d.assembleCalls(pending)
		if err != nil {
			yield(nil, err)
			return
		}
		if len(calls) > 0 {
			if !yield(&llm.StreamChunk{ToolCalls: calls}, nil) {
				return
			}
		}

		yield(&llm.StreamChunk{
			FinishReason: llm.InferFinishReason(finish, len(calls) > 0),
			Usage:        usage,
		}, nil)
	}
}

func (d *Driver) assembleCalls(pending map[int64]*pendingCall) ([]message.ToolCall, error) {
	if len(pending) == 0 {
		return nil, nil
	}
	indexes := make([]int64, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	calls := make([]message.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		p := pending[idx]
		args, err := message.ParseArguments(p.args.String())
		if err != nil {
			return nil, &errorskg.InvalidResponseError{
				Provider: d.config.Name,
				Reason:   fmt.Sprintf("tool call %s arguments", p.name),
				Err:      err,
			}
		}
		calls = append(calls, message.ToolCall{ID: p.id, Name: p.name, Args: args})
	}
	return calls, nil
}
