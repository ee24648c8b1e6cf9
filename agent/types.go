package agent

import (
	"context"
	"errors"
	"time"

	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
	"github.com/sweetpotato0/askdb/tool"
)

// ErrOrchestratorUsed is returned when an orchestrator is run a second time.
// Orchestrators hold the state of exactly one turn.
var ErrOrchestratorUsed = errors.New("agent: orchestrator already used")

// Status is the state of an orchestrator.
type Status string

const (
	StatusPlanning       Status = "planning"
	StatusAwaitingModel  Status = "awaiting_model"
	StatusExecutingTools Status = "executing_tools"
	StatusDone           Status = "done"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// IsTerminal reports whether no further transitions can happen.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// QueryValidator gates SQL before a SQL-executing tool runs it. A non-nil
// error rejects the query; the rejection is reported to the model as a failed
// tool result.
type QueryValidator interface {
	Validate(ctx context.Context, q tool.Query) error
}

// QueryValidatorFunc adapts a function to QueryValidator.
type QueryValidatorFunc func(ctx context.Context, q tool.Query) error

func (f QueryValidatorFunc) Validate(ctx context.Context, q tool.Query) error { return f(ctx, q) }

// ToolOutcome records one executed (or refused) tool call.
type ToolOutcome struct {
	CallID   string            `json:"call_id"`
	Name     string            `json:"name"`
	Args     message.Arguments `json:"args"`
	Success  bool              `json:"success"`
	Output   string            `json:"output,omitempty"`
	Error    string            `json:"error,omitempty"`
	Query    *tool.Query       `json:"query,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Iteration is the trace of one model turn and the tool calls it requested.
type Iteration struct {
	Index        int                `json:"index"`
	Request      *llm.Request       `json:"-"`
	Content      string             `json:"content,omitempty"`
	Thinking     string             `json:"thinking,omitempty"`
	ToolCalls    []message.ToolCall `json:"tool_calls,omitempty"`
	ToolResults  []ToolOutcome      `json:"tool_results,omitempty"`
	FinishReason llm.FinishReason   `json:"finish_reason"`
	Usage        *llm.Usage         `json:"usage,omitempty"`
}

func (it Iteration) clone() Iteration {
	out := it
	out.Request = it.Request.Clone()
	if it.ToolCalls != nil {
		out.ToolCalls = make([]message.ToolCall, len(it.ToolCalls))
		for i, tc := range it.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	if it.ToolResults != nil {
		out.ToolResults = make([]ToolOutcome, len(it.ToolResults))
		for i, r := range it.ToolResults {
			r.Args = r.Args.Clone()
			if r.Query != nil {
				q := *r.Query
				r.Query = &q
			}
			out.ToolResults[i] = r
		}
	}
	out.Usage = it.Usage.Clone()
	return out
}

// Response is the result of a batch run. Error is set exactly when the run
// failed; Err keeps the underlying error and also carries the cause of a
// cancelled run.
type Response struct {
	Answer       string             `json:"answer"`
	Thinking     string             `json:"thinking,omitempty"`
	Queries      []tool.Query       `json:"queries"`
	ToolCalls    []message.ToolCall `json:"tool_calls,omitempty"`
	Iterations   []Iteration        `json:"iterations"`
	Error        string             `json:"error,omitempty"`
	Err          error              `json:"-"`
	Usage        llm.Usage          `json:"usage"`
	FinishReason llm.FinishReason   `json:"finish_reason,omitempty"`
	Truncated    bool               `json:"truncated"`
	Status       Status             `json:"status"`
}

// Failed reports whether the run failed.
func (r *Response) Failed() bool {
	return r.Error != ""
}
