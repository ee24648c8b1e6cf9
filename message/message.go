package message

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	ToolID    string         `json:"tool_id,omitempty"`   // For tool response messages
	ToolName  string         `json:"tool_name,omitempty"` // For tool response messages
	IsError   bool           `json:"is_error,omitempty"`  // Tool response reports a failure
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessage creates a new message with the given role and content
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// Text returns the textual content of the message.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	return m.Content
}

// HasToolCalls reports whether the message requests tool invocations.
func (m *Message) HasToolCalls() bool {
	return m != nil && len(m.ToolCalls) > 0
}

// Clone creates a deep copy of the message.
func Clone(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	cloned := *msg
	if msg.Metadata != nil {
		cloned.Metadata = make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			cloned.Metadata[k] = v
		}
	}
	if len(msg.ToolCalls) > 0 {
		cloned.ToolCalls = make([]ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			cloned.ToolCalls[i] = tc.Clone()
		}
	}
	return &cloned
}

// CloneMessages copies a slice of messages.
func CloneMessages(msgs []*Message) []*Message {
	if len(msgs) == 0 {
		return nil
	}
	clones := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		clones = append(clones, Clone(msg))
	}
	return clones
}

// NewToolCallMessage creates an assistant message carrying tool calls.
// Content holds any narration the model produced alongside the calls.
func NewToolCallMessage(content string, toolCalls []ToolCall) *Message {
	msg := NewMessage(RoleAssistant, content)
	if len(toolCalls) > 0 {
		msg.ToolCalls = make([]ToolCall, len(toolCalls))
		for i, tc := range toolCalls {
			msg.ToolCalls[i] = tc.Clone()
		}
	}
	return msg
}

// NewToolResponseMessage creates a tool response message correlated to the
// call identified by toolID.
func NewToolResponseMessage(toolID, toolName, content string, isError bool) *Message {
	msg := NewMessage(RoleTool, content)
	msg.ToolID = toolID
	msg.ToolName = toolName
	msg.IsError = isError
	return msg
}

// generateID generates a unique message ID
func generateID() string {
	return uuid.NewString()
}
