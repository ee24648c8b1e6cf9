package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
)

// Parameter defines a tool parameter
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, integer, number, boolean, object, array
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// HandlerFunc executes a tool with validated arguments.
type HandlerFunc func(ctx context.Context, args map[string]any) (*Result, error)

// TextHandler adapts a handler that returns plain text.
func TextHandler(fn func(ctx context.Context, args map[string]any) (string, error)) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (*Result, error) {
		out, err := fn(ctx, args)
		if err != nil {
			return nil, err
		}
		return Success(out), nil
	}
}

// Tool represents a callable tool/function
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	// Schema replaces the schema derived from Parameters when set.
	Schema  map[string]any `json:"-"`
	Handler HandlerFunc    `json:"-"`
	// QueryFromArgs marks the tool as executing SQL. It extracts the query
	// so the SQL gate can inspect it before the handler runs.
	QueryFromArgs func(args map[string]any) (Query, bool) `json:"-"`

	once       sync.Once
	compiled   *jsonschema.Schema
	compileErr error
}

// ExecutesSQL reports whether the tool runs SQL.
func (t *Tool) ExecutesSQL() bool {
	return t.QueryFromArgs != nil
}

// Query extracts the SQL a call would run. ok is false for non-SQL tools.
func (t *Tool) Query(args map[string]any) (Query, bool) {
	if t.QueryFromArgs == nil {
		return Query{}, false
	}
	return t.QueryFromArgs(args)
}

// Execute validates args against the tool's schema and runs the handler.
// Every failure is a *errors.ToolExecutionError.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	if t.Handler == nil {
		return nil, &errorskg.ToolExecutionError{Tool: t.Name, Err: fmt.Errorf("tool has no handler")}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := t.ValidateArgs(args); err != nil {
		return nil, &errorskg.ToolExecutionError{Tool: t.Name, Err: fmt.Errorf("invalid arguments: %w", err)}
	}

	result, err := t.Handler(ctx, args)
	if err != nil {
		return nil, &errorskg.ToolExecutionError{Tool: t.Name, Err: err}
	}
	if result == nil {
		result = Success("")
	}
	return result, nil
}

// ValidateArgs validates the provided arguments against the tool's JSON Schema.
func (t *Tool) ValidateArgs(args map[string]any) error {
	schema, err := t.compile()
	if err != nil {
		return err
	}
	// Round-trip through JSON so Go-typed values (ints, typed slices) are
	// validated the way the model's JSON would be.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(doc)
}

func (t *Tool) compile() (*jsonschema.Schema, error) {
	t.once.Do(func() {
		raw, err := json.Marshal(t.ParameterSchema())
		if err != nil {
			t.compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			t.compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		url := t.Name + ".schema.json"
		if err := c.AddResource(url, doc); err != nil {
			t.compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		t.compiled, t.compileErr = c.Compile(url)
	})
	return t.compiled, t.compileErr
}

// ParameterSchema returns the JSON Schema object describing the tool's arguments.
func (t *Tool) ParameterSchema() map[string]any {
	if t.Schema != nil {
		return t.Schema
	}

	properties := make(map[string]any)
	required := make([]string, 0)

	for _, param := range t.Parameters {
		prop := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Definition returns the provider-neutral definition sent to drivers.
func (t *Tool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.ParameterSchema(),
	}
}

// Registry manages a collection of tools
// All operations are thread-safe using RWMutex protection
type Registry struct {
	mu    sync.RWMutex // Protects tools map
	tools map[string]*Tool
}

// NewRegistry creates a new tool registry
func NewRegistry(tools ...*Tool) *Registry {
	r := &Registry{
		tools: make(map[string]*Tool),
	}
	for _, t := range tools {
		_ = r.Upsert(t)
	}
	return r
}

// Register adds a tool to the registry
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s: %w", tool.Name, errorskg.ErrAlreadyExists)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Upsert adds or replaces a tool definition in the registry.
func (r *Registry) Upsert(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = make(map[string]*Tool)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, &errorskg.UnknownToolError{Name: name}
	}
	return tool, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns all registered tools sorted by name
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Definitions returns every tool definition sorted by name, so requests are
// identical across runs.
func (r *Registry) Definitions() []llm.ToolDefinition {
	tools := r.List()
	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Execute runs a tool by name with given arguments
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return tool.Execute(ctx, args)
}

// MarshalJSON customizes JSON marshaling for Registry
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Definitions())
}
