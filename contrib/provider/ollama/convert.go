package ollama

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
)

func encodeMessages(msgs []*message.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		am := api.Message{Role: string(msg.Role), Content: msg.Text()}
		switch msg.Role {
		case message.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				am.ToolCalls = append(am.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: encodeArguments(tc.Args),
					},
				})
			}
		case message.RoleTool:
			am.ToolName = msg.ToolName
		}
		out = append(out, am)
	}
	return out
}

// encodeArguments never returns nil, so an empty set goes out as {}.
func encodeArguments(args message.Arguments) api.ToolCallFunctionArguments {
	out := make(api.ToolCallFunctionArguments, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// encodeTools decodes each JSON-schema definition into the client's tool type.
func encodeTools(defs []llm.ToolDefinition) (api.Tools, error) {
	tools := make(api.Tools, 0, len(defs))
	for _, def := range defs {
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		raw, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  params,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("encode tool %s: %w", def.Name, err)
		}
		var tool api.Tool
		if err := json.Unmarshal(raw, &tool); err != nil {
			return nil, fmt.Errorf("encode tool %s: %w", def.Name, err)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// decodeToolCalls converts the client's calls. Ollama does not assign call
// ids, so one is generated per call.
func decodeToolCalls(wire []api.ToolCall) []message.ToolCall {
	if len(wire) == 0 {
		return nil
	}
	calls := make([]message.ToolCall, 0, len(wire))
	for _, tc := range wire {
		args := make(message.Arguments, len(tc.Function.Arguments))
		for k, v := range tc.Function.Arguments {
			args[k] = v
		}
		calls = append(calls, message.ToolCall{
			ID:   "call_" + uuid.NewString(),
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return calls
}

func usage(m api.Metrics) *llm.Usage {
	if m.PromptEvalCount == 0 && m.EvalCount == 0 {
		return nil
	}
	return &llm.Usage{
		PromptTokens:     m.PromptEvalCount,
		CompletionTokens: m.EvalCount,
		TotalTokens:      m.PromptEvalCount + m.EvalCount,
	}
}

// finishReason maps done_reason. Ollama reports "stop" for turns that end in
// tool calls.
func finishReason(reason string, hasToolCalls bool) llm.FinishReason {
	switch reason {
	case "length":
		return llm.FinishLength
	case "", "stop":
		if hasToolCalls {
			return llm.FinishToolCalls
		}
		return llm.FinishStop
	}
	return llm.InferFinishReason(llm.FinishReason(reason), hasToolCalls)
}
