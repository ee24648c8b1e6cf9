// Package llmtest provides a scripted driver for tests of code built on llm.Driver.
package llmtest

import (
	"context"
	"iter"
	"sync"

	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
)

// Turn is one scripted model turn. Chunks drives Stream; when Chunks is nil a
// stream is synthesized from Response. Err fails the turn on both paths.
type Turn struct {
	Response *llm.Response
	Chunks   []*llm.StreamChunk
	Err      error
}

// Driver replays scripted turns in order. Calls past the end of the script
// repeat the final turn.
type Driver struct {
	DriverName string
	NoTools    bool

	mu       sync.Mutex
	turns    []Turn
	calls    int
	requests []*llm.Request
}

// New creates a scripted driver.
func New(turns ...Turn) *Driver {
	return &Driver{DriverName: "scripted", turns: turns}
}

func (d *Driver) Name() string { return d.DriverName }

func (d *Driver) SupportsToolCalling() bool { return !d.NoTools }

// Calls returns the number of model calls made so far.
func (d *Driver) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Requests returns snapshots of every request received.
func (d *Driver) Requests() []*llm.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*llm.Request(nil), d.requests...)
}

func (d *Driver) next(req *llm.Request) Turn {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req.Clone())
	idx := d.calls
	d.calls++
	if len(d.turns) == 0 {
		return Turn{Response: &llm.Response{FinishReason: llm.FinishStop}}
	}
	if idx >= len(d.turns) {
		idx = len(d.turns) - 1
	}
	return d.turns[idx]
}

func (d *Driver) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turn := d.next(req)
	if turn.Err != nil {
		return nil, turn.Err
	}
	if turn.Response == nil {
		return collect(turn.Chunks), nil
	}
	resp := *turn.Response
	return &resp, nil
}

func (d *Driver) Stream(ctx context.Context, req *llm.Request) iter.Seq2[*llm.StreamChunk, error] {
	return func(yield func(*llm.StreamChunk, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		turn := d.next(req)
		if turn.Err != nil {
			yield(nil, turn.Err)
			return
		}
		chunks := turn.Chunks
		if chunks == nil {
			chunks = ChunksFor(turn.Response)
		}
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// ChunksFor splits a response into the chunk sequence a well-behaved driver
// would stream: one chunk per word of content, one per tool call, then a
// terminal chunk.
func ChunksFor(resp *llm.Response) []*llm.StreamChunk {
	if resp == nil {
		return []*llm.StreamChunk{{FinishReason: llm.FinishStop}}
	}
	var out []*llm.StreamChunk
	if resp.Thinking != "" {
		out = append(out, &llm.StreamChunk{Thinking: resp.Thinking})
	}
	start := 0
	for i := 0; i < len(resp.Content); i++ {
		if resp.Content[i] == ' ' {
			out = append(out, &llm.StreamChunk{Content: resp.Content[start : i+1]})
			start = i + 1
		}
	}
	if start < len(resp.Content) {
		out = append(out, &llm.StreamChunk{Content: resp.Content[start:]})
	}
	for _, tc := range resp.ToolCalls {
		out = append(out, &llm.StreamChunk{ToolCalls: []message.ToolCall{tc.Clone()}})
	}
	out = append(out, &llm.StreamChunk{FinishReason: resp.FinishReason, Usage: resp.Usage.Clone()})
	return out
}

func collect(chunks []*llm.StreamChunk) *llm.Response {
	resp := &llm.Response{}
	for _, c := range chunks {
		resp.Content += c.Content
		resp.Thinking += c.Thinking
		resp.ToolCalls = append(resp.ToolCalls, c.ToolCalls...)
		if c.Usage != nil {
			resp.Usage = c.Usage.Clone()
		}
		if c.IsTerminal() {
			resp.FinishReason = c.FinishReason
			break
		}
	}
	return resp
}

var _ llm.Driver = (*Driver)(nil)
