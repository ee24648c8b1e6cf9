package builtin

import (
	"context"
	"time"

	"github.com/sweetpotato0/askdb/memory"
	"github.com/sweetpotato0/askdb/tool"
)

// Toolkit bundles the builtin tools over one set of connections. It
// implements tool.Provider.
type Toolkit struct {
	conns     *Connections
	knowledge memory.MemoryStore
	maxRows   int
	timeout   time.Duration
}

// ToolkitOption configures a Toolkit.
type ToolkitOption func(*Toolkit)

// WithKnowledge adds search_knowledge over store.
func WithKnowledge(store memory.MemoryStore) ToolkitOption {
	return func(k *Toolkit) {
		k.knowledge = store
	}
}

// WithMaxRows caps the rows run_sql returns.
func WithMaxRows(n int) ToolkitOption {
	return func(k *Toolkit) {
		k.maxRows = n
	}
}

// WithQueryTimeout bounds each run_sql statement.
func WithQueryTimeout(d time.Duration) ToolkitOption {
	return func(k *Toolkit) {
		k.timeout = d
	}
}

// NewToolkit creates the builtin tool set.
func NewToolkit(conns *Connections, opts ...ToolkitOption) *Toolkit {
	k := &Toolkit{conns: conns, maxRows: DefaultMaxRows, timeout: DefaultQueryTimeout}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Tools returns run_sql and describe_schema, plus search_knowledge when a
// knowledge store is configured.
func (k *Toolkit) Tools(ctx context.Context) ([]*tool.Tool, error) {
	tools := []*tool.Tool{
		RunSQL(k.conns, k.maxRows, k.timeout),
		DescribeSchema(k.conns),
	}
	if k.knowledge != nil {
		tools = append(tools, SearchKnowledge(k.knowledge))
	}
	return tools, nil
}

// Validator returns the read-only gate for the toolkit's connections.
func (k *Toolkit) Validator() *ReadOnlyValidator {
	return NewReadOnlyValidator(k.conns)
}

// Close closes the connections.
func (k *Toolkit) Close() error {
	return k.conns.Close()
}

var _ tool.Provider = (*Toolkit)(nil)
