package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Arguments is the argument set of a tool call. A nil or empty set always
// serializes as a JSON object: providers that expect an object reject both
// null and [].
type Arguments map[string]any

// MarshalJSON implements json.Marshaler.
func (a Arguments) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(a))
}

// UnmarshalJSON implements json.Unmarshaler using the same rules as ParseArguments.
func (a *Arguments) UnmarshalJSON(data []byte) error {
	parsed, err := ParseArguments(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// String returns the JSON encoding of the arguments.
func (a Arguments) String() string {
	raw, err := a.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Clone returns a shallow copy of the argument set. The copy is never nil.
func (a Arguments) Clone() Arguments {
	out := make(Arguments, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// ParseArguments decodes a provider argument payload. Empty input, null and
// an empty array decode to an empty set; any other value must be a JSON object.
func ParseArguments(raw string) (Arguments, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	switch string(trimmed) {
	case "", "null", "[]", "{}":
		return Arguments{}, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("tool arguments must be a JSON object, got %q", truncate(string(trimmed), 64))
	}
	var out map[string]any
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	if out == nil {
		return Arguments{}, nil
	}
	return Arguments(out), nil
}

// ToolCall represents a tool invocation request. The ID is assigned by the
// provider and must be echoed unchanged in the matching tool response.
type ToolCall struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Args Arguments `json:"args"`
}

// NewToolCall builds a tool call, copying args so later mutation of the
// caller's map cannot change the call.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	return ToolCall{
		ID:   id,
		Name: name,
		Args: Arguments(args).Clone(),
	}
}

// Clone creates a copy of the tool call with its own argument map.
func (c ToolCall) Clone() ToolCall {
	return ToolCall{
		ID:   c.ID,
		Name: c.Name,
		Args: c.Args.Clone(),
	}
}

// Arg returns the named argument as a string when present.
func (c ToolCall) Arg(name string) (string, bool) {
	v, ok := c.Args[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
