// Package builtin provides the database tools an askdb agent works with:
// run_sql, describe_schema and search_knowledge, plus a read-only SQL gate.
package builtin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "github.com/lib/pq"
	errorskg "github.com/sweetpotato0/askdb/errors"
)

// Connections is a set of named database pools. The first connection added
// is the default unless SetDefault picks another.
type Connections struct {
	mu  sync.RWMutex
	dbs map[string]*sql.DB
	def string
}

// NewConnections creates an empty connection set.
func NewConnections() *Connections {
	return &Connections{dbs: make(map[string]*sql.DB)}
}

// OpenConnections opens a PostgreSQL pool per DSN and pings each one.
func OpenConnections(ctx context.Context, dsns map[string]string, defaultName string) (*Connections, error) {
	c := NewConnections()
	names := make([]string, 0, len(dsns))
	for name := range dsns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		db, err := sql.Open("postgres", dsns[name])
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("open connection %s: %w", name, err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			c.Close()
			return nil, fmt.Errorf("ping connection %s: %w", name, err)
		}
		c.Add(name, db)
	}
	if defaultName != "" {
		if err := c.SetDefault(defaultName); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Add registers db under name, replacing any pool with the same name.
func (c *Connections) Add(name string, db *sql.DB) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.def == "" {
		c.def = name
	}
	c.dbs[name] = db
}

// SetDefault selects the connection used when a query names none.
func (c *Connections) SetDefault(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dbs[name]; !ok {
		return &errorskg.ConfigurationError{Field: "default_connection", Message: fmt.Sprintf("unknown connection %q", name)}
	}
	c.def = name
	return nil
}

// Default returns the default connection name.
func (c *Connections) Default() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.def
}

// Has reports whether name resolves. The empty name resolves when a default exists.
func (c *Connections) Has(name string) bool {
	_, _, err := c.Resolve(name)
	return err == nil
}

// Names returns the connection names, sorted.
func (c *Connections) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.dbs))
	for name := range c.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the pool for name, or the default pool for "".
func (c *Connections) Resolve(name string) (string, *sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name == "" {
		name = c.def
	}
	if name == "" {
		return "", nil, fmt.Errorf("no database connection configured: %w", errorskg.ErrNotFound)
	}
	db, ok := c.dbs[name]
	if !ok {
		return "", nil, fmt.Errorf("connection %q: %w", name, errorskg.ErrNotFound)
	}
	return name, db, nil
}

// Close closes every pool.
func (c *Connections) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for name, db := range c.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	c.dbs = make(map[string]*sql.DB)
	c.def = ""
	return errors.Join(errs...)
}
