package llm

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"

	errorskg "github.com/sweetpotato0/askdb/errors"
)

// DriverConfig is the configuration of one named driver.
type DriverConfig struct {
	Kind         string  `yaml:"kind" json:"kind"`
	APIKey       string  `yaml:"api_key" json:"-"`
	BaseURL      string  `yaml:"base_url" json:"base_url,omitempty"`
	Model        string  `yaml:"model" json:"model"`
	Temperature  float64 `yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens    int     `yaml:"max_tokens" json:"max_tokens,omitempty"`
	DisableTools bool    `yaml:"disable_tools" json:"disable_tools,omitempty"`
	Think        bool    `yaml:"think" json:"think,omitempty"`
}

// Config selects the default driver and lists every configured driver by name.
type Config struct {
	Default string                  `yaml:"default" json:"default"`
	Drivers map[string]DriverConfig `yaml:"drivers" json:"drivers"`
}

// Factory builds a driver of one kind.
type Factory func(ctx context.Context, cfg DriverConfig) (Driver, error)

// Manager resolves named drivers from configuration, caches them, and
// delegates Driver calls to the default one.
type Manager struct {
	cfg       Config
	factories map[string]Factory

	mu     sync.Mutex
	cached map[string]Driver
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFactory registers a factory for kind.
func WithFactory(kind string, f Factory) ManagerOption {
	return func(m *Manager) {
		m.factories[kind] = f
	}
}

// WithFactories registers several factories at once.
func WithFactories(fs map[string]Factory) ManagerOption {
	return func(m *Manager) {
		for kind, f := range fs {
			m.factories[kind] = f
		}
	}
}

// WithDriver pre-populates the cache with an already-built driver under name.
func WithDriver(name string, d Driver) ManagerOption {
	return func(m *Manager) {
		m.cached[name] = d
	}
}

// NewManager creates a manager for cfg.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:       cfg,
		factories: make(map[string]Factory),
		cached:    make(map[string]Driver),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Names returns the configured driver names in sorted order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.cfg.Drivers))
	for name := range m.cfg.Drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Driver resolves the named driver, or the default one when name is empty.
// Each name is built once; later calls return the same instance.
func (m *Manager) Driver(ctx context.Context, name string) (Driver, error) {
	if name == "" {
		name = m.cfg.Default
	}
	if name == "" {
		return nil, &errorskg.ConfigurationError{Field: "default", Message: "no default driver configured"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.cached[name]; ok {
		return d, nil
	}
	d, err := m.build(ctx, name, "")
	if err != nil {
		return nil, err
	}
	m.cached[name] = d
	return d, nil
}

// WithModel returns a driver for name with its model overridden. Drivers
// implementing ModelCloner are cloned from the cached instance and share its
// client; others are rebuilt through their factory. The cached instance is
// left untouched.
func (m *Manager) WithModel(ctx context.Context, name, model string) (Driver, error) {
	base, err := m.Driver(ctx, name)
	if err != nil {
		return nil, err
	}
	if model == "" {
		return base, nil
	}
	if cloner, ok := base.(ModelCloner); ok {
		return cloner.WithModel(model), nil
	}
	if name == "" {
		name = m.cfg.Default
	}
	return m.build(ctx, name, model)
}

func (m *Manager) build(ctx context.Context, name, model string) (Driver, error) {
	dc, ok := m.cfg.Drivers[name]
	if !ok {
		return nil, &errorskg.ConfigurationError{Driver: name, Message: "driver is not configured"}
	}
	factory, ok := m.factories[dc.Kind]
	if !ok {
		return nil, &errorskg.ConfigurationError{Driver: name, Field: "kind", Message: fmt.Sprintf("unknown driver kind %q", dc.Kind)}
	}
	if model != "" {
		dc.Model = model
	}
	d, err := factory(ctx, dc)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (m *Manager) defaultDriver() (Driver, error) {
	return m.Driver(context.Background(), "")
}

// Name returns the name of the default driver.
func (m *Manager) Name() string {
	d, err := m.defaultDriver()
	if err != nil {
		return m.cfg.Default
	}
	return d.Name()
}

// Chat delegates to the default driver.
func (m *Manager) Chat(ctx context.Context, req *Request) (*Response, error) {
	d, err := m.Driver(ctx, "")
	if err != nil {
		return nil, err
	}
	return d.Chat(ctx, req)
}

// Stream delegates to the default driver. A resolution failure is yielded as
// the only event.
func (m *Manager) Stream(ctx context.Context, req *Request) iter.Seq2[*StreamChunk, error] {
	d, err := m.Driver(ctx, "")
	if err != nil {
		return func(yield func(*StreamChunk, error) bool) {
			yield(nil, err)
		}
	}
	return d.Stream(ctx, req)
}

// SupportsToolCalling reports the default driver's capability. An
// unresolvable default reports false.
func (m *Manager) SupportsToolCalling() bool {
	d, err := m.defaultDriver()
	if err != nil {
		return false
	}
	return d.SupportsToolCalling()
}

var _ Driver = (*Manager)(nil)
