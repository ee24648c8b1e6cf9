package claude

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
	events     []ssestream.Event
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	return ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{events: s.events}, nil)
}

// testDecoder feeds a fixed sequence of events to the stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return nil }

func event(typ, data string) ssestream.Event {
	return ssestream.Event{Type: typ, Data: []byte(data)}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	var cfgErr *errorskg.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "api_key" {
		t.Errorf("unexpected field %q", cfgErr.Field)
	}
}

func TestChatTextAndToolUse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "Let me check."},
				{Type: "tool_use", ID: "toolu_1", Name: "run_sql", Input: json.RawMessage(`{"sql":"SELECT 1"}`)},
				{Type: "tool_use", ID: "toolu_2", Name: "describe_schema", Input: json.RawMessage(`{}`)},
			},
			StopReason: sdk.StopReasonToolUse,
			Usage:      sdk.Usage{InputTokens: 12, OutputTokens: 8},
		},
	}
	d := NewWithClient(stub, Config{})

	resp, err := d.Chat(context.Background(), &llm.Request{
		Messages: []*message.Message{message.NewMessage(message.RoleUser, "how many users?")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Let me check." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.FinishReason != llm.FinishToolCalls {
		t.Errorf("expected tool_calls, got %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	if sql, _ := resp.ToolCalls[0].Arg("sql"); sql != "SELECT 1" {
		t.Errorf("unexpected sql %q", sql)
	}
	if resp.ToolCalls[1].Args == nil || len(resp.ToolCalls[1].Args) != 0 {
		t.Errorf("expected empty args, got %#v", resp.ToolCalls[1].Args)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 20 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	if string(stub.lastParams.Model) != DefaultModel || stub.lastParams.MaxTokens != DefaultMaxTokens {
		t.Errorf("unexpected params model=%q max=%d", stub.lastParams.Model, stub.lastParams.MaxTokens)
	}
}

func TestChatStopReasons(t *testing.T) {
	tests := []struct {
		reason sdk.StopReason
		want   llm.FinishReason
	}{
		{sdk.StopReasonEndTurn, llm.FinishStop},
		{sdk.StopReasonStopSequence, llm.FinishStop},
		{sdk.StopReasonMaxTokens, llm.FinishLength},
		{"", llm.FinishStop},
	}
	for _, tt := range tests {
		stub := &stubMessagesClient{resp: &sdk.Message{
			Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "ok"}},
			StopReason: tt.reason,
		}}
		resp, err := NewWithClient(stub, Config{}).Chat(context.Background(), &llm.Request{})
		if err != nil {
			t.Fatalf("Chat(%q): %v", tt.reason, err)
		}
		if resp.FinishReason != tt.want {
			t.Errorf("stop reason %q: got %q want %q", tt.reason, resp.FinishReason, tt.want)
		}
	}
}

func TestChatInvalidToolInput(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "tool_use", ID: "toolu_1", Name: "run_sql", Input: json.RawMessage(`"SELECT 1"`)},
		},
		StopReason: sdk.StopReasonToolUse,
	}}
	_, err := NewWithClient(stub, Config{}).Chat(context.Background(), &llm.Request{})
	var invalid *errorskg.InvalidResponseError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidResponseError, got %v", err)
	}
}

func TestChatProviderError(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("connection reset")}
	_, err := NewWithClient(stub, Config{}).Chat(context.Background(), &llm.Request{})
	var pe *errorskg.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Provider != "anthropic" {
		t.Errorf("unexpected provider %q", pe.Provider)
	}
}

func TestRequestEncoding(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{StopReason: sdk.StopReasonEndTurn}}
	d := NewWithClient(stub, Config{})

	failed := message.NewToolResponseMessage("toolu_2", "describe_schema", "no such table", true)
	req := &llm.Request{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, "You answer questions about data."),
			message.NewMessage(message.RoleUser, "how many users?"),
			message.NewToolCallMessage("", []message.ToolCall{
				message.NewToolCall("toolu_1", "run_sql", message.Arguments{"sql": "SELECT count(*) FROM users"}),
				message.NewToolCall("toolu_2", "describe_schema", nil),
			}),
			message.NewToolResponseMessage("toolu_1", "run_sql", `[{"count":3}]`, false),
			failed,
		},
		Tools: []llm.ToolDefinition{{
			Name:        "run_sql",
			Description: "Run a read-only SQL query",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"sql": map[string]any{"type": "string"}},
				"required":   []string{"sql"},
			},
		}},
	}
	if _, err := d.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	data, err := json.Marshal(stub.lastParams)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	var wire struct {
		System []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type      string         `json:"type"`
				ID        string         `json:"id"`
				Input     map[string]any `json:"input"`
				ToolUseID string         `json:"tool_use_id"`
				IsError   bool           `json:"is_error"`
			} `json:"content"`
		} `json:"messages"`
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"input_schema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}

	if len(wire.System) != 1 || wire.System[0].Text != "You answer questions about data." {
		t.Errorf("system prompt not hoisted: %+v", wire.System)
	}
	if len(wire.Messages) != 3 {
		t.Fatalf("expected user, assistant, user turns; got %d messages", len(wire.Messages))
	}
	assistant := wire.Messages[1]
	if assistant.Role != "assistant" || len(assistant.Content) != 2 {
		t.Fatalf("unexpected assistant turn %+v", assistant)
	}
	if assistant.Content[1].Input == nil || len(assistant.Content[1].Input) != 0 {
		t.Errorf("empty arguments should encode as {}, got %#v", assistant.Content[1].Input)
	}

	results := wire.Messages[2]
	if results.Role != "user" || len(results.Content) != 2 {
		t.Fatalf("tool results should merge into one user turn, got %+v", results)
	}
	if results.Content[0].ToolUseID != "toolu_1" || results.Content[0].IsError {
		t.Errorf("unexpected first result %+v", results.Content[0])
	}
	if results.Content[1].ToolUseID != "toolu_2" || !results.Content[1].IsError {
		t.Errorf("unexpected second result %+v", results.Content[1])
	}

	if len(wire.Tools) != 1 || wire.Tools[0].Name != "run_sql" {
		t.Fatalf("unexpected tools %+v", wire.Tools)
	}
	if _, ok := wire.Tools[0].InputSchema["properties"]; !ok {
		t.Errorf("input_schema missing properties: %v", wire.Tools[0].InputSchema)
	}
}

func TestDisableToolsOmitsTools(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{StopReason: sdk.StopReasonEndTurn}}
	d := NewWithClient(stub, Config{DisableTools: true})
	if d.SupportsToolCalling() {
		t.Fatal("expected tool calling disabled")
	}
	_, err := d.Chat(context.Background(), &llm.Request{
		Tools: []llm.ToolDefinition{{Name: "run_sql"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(stub.lastParams.Tools) != 0 {
		t.Errorf("expected no tools, got %d", len(stub.lastParams.Tools))
	}
}

func TestStreamAssemblesToolCalls(t *testing.T) {
	stub := &stubMessagesClient{events: []ssestream.Event{
		event("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude","usage":{"input_tokens":21,"output_tokens":1}}}`),
		event("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking"}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" now."}}`),
		event("content_block_stop", `{"type":"content_block_stop","index":0}`),
		event("content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"run_sql","input":{}}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"sql\":"}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"SELECT 1\"}"}}`),
		event("content_block_stop", `{"type":"content_block_stop","index":1}`),
		event("content_block_start", `{"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"toolu_2","name":"describe_schema","input":{}}}`),
		event("content_block_stop", `{"type":"content_block_stop","index":2}`),
		event("message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":30}}`),
		event("message_stop", `{"type":"message_stop"}`),
	}}
	d := NewWithClient(stub, Config{})

	var chunks []*llm.StreamChunk
	for chunk, err := range d.Stream(context.Background(), &llm.Request{}) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		chunks = append(chunks, chunk)
	}

	resp, err := llm.Collect(func(yield func(*llm.StreamChunk, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if resp.Content != "Checking now." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	if sql, _ := resp.ToolCalls[0].Arg("sql"); sql != "SELECT 1" {
		t.Errorf("unexpected sql %q", sql)
	}
	if len(resp.ToolCalls[1].Args) != 0 {
		t.Errorf("expected empty args, got %v", resp.ToolCalls[1].Args)
	}

	last := chunks[len(chunks)-1]
	if !last.IsTerminal() || last.FinishReason != llm.FinishToolCalls {
		t.Fatalf("unexpected terminal chunk %+v", last)
	}
	if last.Usage == nil || last.Usage.PromptTokens != 21 || last.Usage.CompletionTokens != 30 {
		t.Errorf("unexpected usage %+v", last.Usage)
	}
	for _, c := range chunks[:len(chunks)-1] {
		if c.IsTerminal() {
			t.Errorf("non-final chunk is terminal: %+v", c)
		}
	}
}

func TestStreamThinkingAndConsumerStop(t *testing.T) {
	stub := &stubMessagesClient{events: []ssestream.Event{
		event("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"count rows"}}`),
		event("content_block_stop", `{"type":"content_block_stop","index":0}`),
		event("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"There are 3 users."}}`),
		event("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`),
	}}
	d := NewWithClient(stub, Config{})

	var first *llm.StreamChunk
	for chunk, err := range d.Stream(context.Background(), &llm.Request{}) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		first = chunk
		break
	}
	if first == nil || first.Thinking != "count rows" {
		t.Fatalf("expected thinking chunk first, got %+v", first)
	}
}

func TestWithModel(t *testing.T) {
	d := NewWithClient(&stubMessagesClient{}, Config{Model: "claude-a"})
	clone := d.WithModel("claude-b").(*Driver)
	if clone.Model() != "claude-b" || d.Model() != "claude-a" {
		t.Errorf("WithModel mutated original: %q / %q", d.Model(), clone.Model())
	}
}
