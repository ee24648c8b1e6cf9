package tool

import "context"

// Provider supplies tools that can be registered with an agent.
type Provider interface {
	// Tools returns the provider's tool definitions.
	Tools(ctx context.Context) ([]*Tool, error)
	// Close releases resources owned by the provider.
	Close() error
}

// RegisterProvider adds every tool of p to r, replacing tools of the same name.
func RegisterProvider(ctx context.Context, r *Registry, p Provider) error {
	tools, err := p.Tools(ctx)
	if err != nil {
		return err
	}
	for _, t := range tools {
		if err := r.Upsert(t); err != nil {
			return err
		}
	}
	return nil
}
