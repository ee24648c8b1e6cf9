package middleware

import (
	"context"

	"github.com/sweetpotato0/askdb/message"
)

// Metadata keys set by the agent after a run.
const (
	MetaQueries    = "queries"
	MetaStatus     = "status"
	MetaIterations = "iterations"
	MetaStreaming  = "streaming"
)

// Context represents the middleware execution context
type Context struct {
	// Original user question
	Input string

	// Conversation history the run starts from
	Messages []*message.Message

	// Final assistant answer, set once the run completes
	Response *message.Message

	// Error from execution
	Error error

	// Metadata for passing data between middlewares
	Metadata map[string]any

	context context.Context
}

// NewContext creates a new middleware context
func NewContext(ctx context.Context) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		Metadata: make(map[string]any),
		context:  ctx,
	}
}

// Context returns the underlying context.Context
func (c *Context) Context() context.Context {
	if c.context == nil {
		return context.Background()
	}
	return c.context
}

// WithContext replaces the underlying context.Context, for middlewares that
// attach deadlines or values for the rest of the chain.
func (c *Context) WithContext(ctx context.Context) {
	if ctx != nil {
		c.context = ctx
	}
}

// Set stores a metadata value.
func (c *Context) Set(key string, value any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
}

// Get returns a metadata value.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Metadata[key]
	return v, ok
}

// Middleware intercepts an agent run. Returning an error stops the chain and
// fails the run.
type Middleware interface {
	Name() string
	Execute(ctx *Context, next Handler) error
}

// Handler is the function called to pass control to the next middleware
type Handler func(*Context) error

// Func adapts a function into a named Middleware.
func Func(name string, fn func(ctx *Context, next Handler) error) Middleware {
	return funcMiddleware{name: name, fn: fn}
}

type funcMiddleware struct {
	name string
	fn   func(ctx *Context, next Handler) error
}

func (f funcMiddleware) Name() string { return f.name }

func (f funcMiddleware) Execute(ctx *Context, next Handler) error { return f.fn(ctx, next) }

// Chain represents a sequence of middleware to be executed
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain. Nil entries are skipped.
func NewChain(middlewares ...Middleware) *Chain {
	c := &Chain{}
	for _, m := range middlewares {
		c.Add(m)
	}
	return c
}

// Add appends a middleware to the chain
func (c *Chain) Add(m Middleware) *Chain {
	if m != nil {
		c.middlewares = append(c.middlewares, m)
	}
	return c
}

// List returns the middlewares in execution order.
func (c *Chain) List() []Middleware {
	return append([]Middleware(nil), c.middlewares...)
}

// Len returns the number of middlewares.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.middlewares)
}

// Execute runs all middlewares in the chain, then finalHandler.
func (c *Chain) Execute(ctx *Context, finalHandler Handler) error {
	if c == nil {
		return finalHandler(ctx)
	}
	return c.executeMiddleware(ctx, 0, finalHandler)
}

func (c *Chain) executeMiddleware(ctx *Context, index int, finalHandler Handler) error {
	if index >= len(c.middlewares) {
		return finalHandler(ctx)
	}

	nextHandler := func(ctx *Context) error {
		return c.executeMiddleware(ctx, index+1, finalHandler)
	}
	return c.middlewares[index].Execute(ctx, nextHandler)
}
