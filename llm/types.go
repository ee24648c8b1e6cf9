package llm

import (
	"github.com/sweetpotato0/askdb/message"
)

// FinishReason describes why a model turn ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	// FinishMaxIterations is never reported by a driver; the orchestrator sets
	// it when a run hits its iteration cap.
	FinishMaxIterations FinishReason = "max_iterations"
)

// Usage captures token accounting for one model call or a whole run.
// Estimated is set when any part of the count came from a local tokenizer
// instead of the provider.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// Add accumulates other into u. A nil receiver or argument is a no-op.
func (u *Usage) Add(other *Usage) {
	if u == nil || other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	total := other.TotalTokens
	if total == 0 {
		total = other.PromptTokens + other.CompletionTokens
	}
	u.TotalTokens += total
	u.Estimated = u.Estimated || other.Estimated
}

// Clone returns a copy of u, or nil.
func (u *Usage) Clone() *Usage {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// ToolDefinition is the provider-neutral description of a callable tool.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request bundles the inputs for one model call.
type Request struct {
	Messages []*message.Message
	Tools    []ToolDefinition
}

// Clone returns a snapshot of the request that shares nothing mutable with r.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := &Request{Messages: message.CloneMessages(r.Messages)}
	if len(r.Tools) > 0 {
		out.Tools = append([]ToolDefinition(nil), r.Tools...)
	}
	return out
}

// Response is the normalized reply of a blocking model call.
type Response struct {
	Content      string             `json:"content"`
	Thinking     string             `json:"thinking,omitempty"`
	ToolCalls    []message.ToolCall `json:"tool_calls,omitempty"`
	FinishReason FinishReason       `json:"finish_reason"`
	Usage        *Usage             `json:"usage,omitempty"`
}

// StreamChunk is one incremental piece of a streamed model turn. Tool calls
// appear only fully assembled. Exactly one chunk per successful stream is
// terminal: it carries the finish reason and, when known, usage.
type StreamChunk struct {
	Content      string             `json:"content,omitempty"`
	Thinking     string             `json:"thinking,omitempty"`
	ToolCalls    []message.ToolCall `json:"tool_calls,omitempty"`
	FinishReason FinishReason       `json:"finish_reason,omitempty"`
	Usage        *Usage             `json:"usage,omitempty"`
}

// IsTerminal reports whether the chunk ends the stream.
func (c *StreamChunk) IsTerminal() bool {
	return c != nil && c.FinishReason != ""
}

// IsEmpty reports whether the chunk carries nothing worth forwarding.
func (c *StreamChunk) IsEmpty() bool {
	return c == nil || (c.Content == "" && c.Thinking == "" && len(c.ToolCalls) == 0 && c.FinishReason == "" && c.Usage == nil)
}
