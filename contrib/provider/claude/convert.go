package claude

import (
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
)

// encodeMessages hoists system messages into the system prompt and folds
// consecutive tool results into a single user turn.
func encodeMessages(msgs []*message.Message) ([]sdk.MessageParam, []sdk.TextBlockParam) {
	var system []sdk.TextBlockParam
	out := make([]sdk.MessageParam, 0, len(msgs))
	var results []sdk.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			out = append(out, sdk.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if msg.Role == message.RoleTool {
			results = append(results, sdk.NewToolResultBlock(msg.ToolID, msg.Text(), msg.IsError))
			continue
		}
		flush()

		switch msg.Role {
		case message.RoleSystem:
			if text := msg.Text(); text != "" {
				system = append(system, sdk.TextBlockParam{Text: text})
			}
		case message.RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(msg.Text())))
		case message.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if text := msg.Text(); text != "" {
				blocks = append(blocks, sdk.NewTextBlock(text))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, map[string]any(tc.Args.Clone()), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		}
	}
	flush()
	return out, system
}

func encodeTools(defs []llm.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	tools := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema, err := toolInputSchema(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("claude: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		tools = append(tools, u)
	}
	return tools, nil
}

// toolInputSchema passes the JSON Schema through as input_schema.
func toolInputSchema(schema map[string]any) (sdk.ToolInputSchemaParam, error) {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	// Round-trip so nested values are plain JSON types.
	data, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func normalizeStopReason(reason string) llm.FinishReason {
	switch reason {
	case "":
		return ""
	case "end_turn", "stop_sequence", "pause_turn":
		return llm.FinishStop
	case "tool_use":
		return llm.FinishToolCalls
	case "max_tokens":
		return llm.FinishLength
	case "refusal":
		return llm.FinishContentFilter
	}
	return llm.FinishReason(reason)
}

func convertUsage(input, output int64) *llm.Usage {
	if input == 0 && output == 0 {
		return nil
	}
	return &llm.Usage{
		PromptTokens:     int(input),
		CompletionTokens: int(output),
		TotalTokens:      int(input + output),
	}
}
