package context

import (
	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
)

// Context manages a conversation window: it holds prior messages and trims
// them to a message count and, optionally, a token budget.
type Context struct {
	messages  []*message.Message
	maxSize   int // Maximum number of messages to keep
	maxTokens int
	counter   llm.TokenCounter
}

// Option configures a Context.
type Option func(*Context)

// WithTokenBudget limits the window to budget tokens as measured by counter.
func WithTokenBudget(counter llm.TokenCounter, budget int) Option {
	return func(c *Context) {
		c.counter = counter
		c.maxTokens = budget
	}
}

// New creates a new context with default settings
func New(opts ...Option) *Context {
	return NewWithMaxSize(100, opts...)
}

// NewWithMaxSize creates a new context with specified max size
func NewWithMaxSize(maxSize int, opts ...Option) *Context {
	c := &Context{
		messages: make([]*message.Message, 0),
		maxSize:  maxSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddMessage adds a message to the context and trims the window.
func (c *Context) AddMessage(msg *message.Message) {
	if msg == nil {
		return
	}
	c.messages = append(c.messages, msg)
	c.trim()
}

// AddMessages adds several messages and trims once.
func (c *Context) AddMessages(msgs ...*message.Message) {
	for _, msg := range msgs {
		if msg != nil {
			c.messages = append(c.messages, msg)
		}
	}
	c.trim()
}

// trim keeps system messages and the most recent others. The window never
// starts with tool results whose originating call was trimmed away.
func (c *Context) trim() {
	systemMsgs := make([]*message.Message, 0)
	others := make([]*message.Message, 0, len(c.messages))
	for _, m := range c.messages {
		if m.Role == message.RoleSystem {
			systemMsgs = append(systemMsgs, m)
		} else {
			others = append(others, m)
		}
	}

	if c.maxSize > 0 {
		keep := c.maxSize - len(systemMsgs)
		if keep < 0 {
			keep = 0
		}
		if len(others) > keep {
			others = others[len(others)-keep:]
		}
	}

	if c.counter != nil && c.maxTokens > 0 {
		budget := c.maxTokens
		for _, m := range systemMsgs {
			budget -= c.counter.CountTokens(m.Content)
		}
		start := len(others)
		for start > 0 {
			cost := c.counter.CountTokens(others[start-1].Content)
			if cost > budget {
				break
			}
			budget -= cost
			start--
		}
		others = others[start:]
	}

	for len(others) > 0 && others[0].Role == message.RoleTool {
		others = others[1:]
	}

	c.messages = append(systemMsgs, others...)
}

// GetMessages returns all messages in the context
func (c *Context) GetMessages() []*message.Message {
	return c.messages
}

// GetLastMessage returns the last message or nil if empty
func (c *Context) GetLastMessage() *message.Message {
	if len(c.messages) == 0 {
		return nil
	}
	return c.messages[len(c.messages)-1]
}

// GetMessagesByRole returns all messages with the specified role
func (c *Context) GetMessagesByRole(role message.Role) []*message.Message {
	result := make([]*message.Message, 0)
	for _, msg := range c.messages {
		if msg.Role == role {
			result = append(result, msg)
		}
	}
	return result
}

// Clear removes all messages from the context
func (c *Context) Clear() {
	c.messages = make([]*message.Message, 0)
}

// Size returns the current number of messages
func (c *Context) Size() int {
	return len(c.messages)
}
