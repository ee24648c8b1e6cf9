package claude

import (
	"context"
	"fmt"
	"iter"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
)

type toolBuffer struct {
	id   string
	name string
	json strings.Builder
}

// Stream performs a streaming completion. Text and thinking deltas are yielded
// as they arrive. A tool call is yielded when its content block stops.
func (d *Driver) Stream(ctx context.Context, req *llm.Request) iter.Seq2[*llm.StreamChunk, error] {
	return func(yield func(*llm.StreamChunk, error) bool) {
		params, err := d.buildParams(req)
		if err != nil {
			yield(nil, err)
			return
		}

		stream := d.msg.NewStreaming(ctx, params)
		defer stream.Close()

		tools := make(map[int64]*toolBuffer)
		var (
			stop          llm.FinishReason
			input, output int64
			sawCalls      bool
		)

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.MessageStartEvent:
				input = ev.Message.Usage.InputTokens
			case sdk.ContentBlockStartEvent:
				if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					tools[ev.Index] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
				}
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text != "" && !yield(&llm.StreamChunk{Content: delta.Text}, nil) {
						return
					}
				case sdk.ThinkingDelta:
					if delta.Thinking != "" && !yield(&llm.StreamChunk{Thinking: delta.Thinking}, nil) {
						return
					}
				case sdk.InputJSONDelta:
					if tb, ok := tools[ev.Index]; ok {
						tb.json.WriteString(delta.PartialJSON)
					}
				}
			case sdk.ContentBlockStopEvent:
				tb, ok := tools[ev.Index]
				if !ok {
					continue
				}
				delete(tools, ev.Index)
				args, err := message.ParseArguments(tb.json.String())
				if err != nil {
					yield(nil, &errorskg.InvalidResponseError{
						Provider: d.Name(),
						Reason:   fmt.Sprintf("tool call %s input", tb.name),
						Err:      err,
					})
					return
				}
				sawCalls = true
				call := message.ToolCall{ID: tb.id, Name: tb.name, Args: args}
				if !yield(&llm.StreamChunk{ToolCalls: []message.ToolCall{call}}, nil) {
					return
				}
			case sdk.MessageDeltaEvent:
				if ev.Delta.StopReason != "" {
					stop = normalizeStopReason(string(ev.Delta.StopReason))
				}
				if ev.Usage.OutputTokens > 0 {
					output = ev.Usage.OutputTokens
				}
				if ev.Usage.InputTokens > 0 {
					input = ev.Usage.InputTokens
				}
			}
		}

		if err := stream.Err(); err != nil {
			yield(nil, d.providerError(err))
			return
		}

		yield(&llm.StreamChunk{
			FinishReason: llm.InferFinishReason(stop, sawCalls),
			Usage:        convertUsage(input, output),
		}, nil)
	}
}
