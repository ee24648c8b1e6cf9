package enricher

import (
	"github.com/sweetpotato0/askdb/middleware"
)

// EnricherFunc enriches the context
type EnricherFunc func(*middleware.Context) error

// ContextEnricher adds data to the middleware context before the run.
type ContextEnricher struct {
	enricher EnricherFunc
}

// NewContextEnricher creates a context enriching middleware
func NewContextEnricher(enricher EnricherFunc) *ContextEnricher {
	return &ContextEnricher{enricher: enricher}
}

// WithValues returns an enricher that stamps fixed metadata on every run,
// such as the connection or driver a deployment serves.
func WithValues(values map[string]any) *ContextEnricher {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return NewContextEnricher(func(ctx *middleware.Context) error {
		for k, v := range copied {
			ctx.Set(k, v)
		}
		return nil
	})
}

// Name returns the middleware name
func (m *ContextEnricher) Name() string {
	return "ContextEnricher"
}

// Execute enriches the context
func (m *ContextEnricher) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if m.enricher != nil {
		if err := m.enricher(ctx); err != nil {
			return err
		}
	}
	return next(ctx)
}
