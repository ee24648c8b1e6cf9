// Package config loads the askdb YAML configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
)

// APIKeyEnv maps driver kinds to the environment variable holding their key
// when the configuration leaves it empty.
var APIKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"groq":      "GROQ_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// Config is the whole askdb configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LLM       llm.Config      `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Database  DatabaseConfig  `yaml:"database"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Runner    RunnerConfig    `yaml:"runner"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	Disable     bool   `yaml:"disable"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
}

// AgentConfig configures the agent and its middleware.
type AgentConfig struct {
	Name              string  `yaml:"name"`
	MaxIterations     int     `yaml:"max_iterations"`
	SystemPrompt      string  `yaml:"system_prompt"`
	Dialect           string  `yaml:"dialect"`
	Instructions      string  `yaml:"instructions"`
	MaxQuestionLength int     `yaml:"max_question_length"`
	RateLimit         float64 `yaml:"rate_limit"`
	RateBurst         int     `yaml:"rate_burst"`
	Tokenizer         string  `yaml:"tokenizer"`
}

// DatabaseConfig lists the databases questions are answered from.
type DatabaseConfig struct {
	Default      string            `yaml:"default"`
	Connections  map[string]string `yaml:"connections"`
	MaxRows      int               `yaml:"max_rows"`
	QueryTimeout time.Duration     `yaml:"query_timeout"`
}

// KnowledgeConfig selects where answered questions are recorded.
type KnowledgeConfig struct {
	Backend  string         `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// SessionsConfig selects where conversation histories live.
type SessionsConfig struct {
	Backend       string      `yaml:"backend"`
	HistoryWindow int         `yaml:"history_window"`
	HistoryTokens int         `yaml:"history_tokens"`
	Redis         RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type RunnerConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

// Default returns the configuration used for anything a file leaves unset.
func Default() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{ServiceName: "askdb"},
		Agent: AgentConfig{
			Name:              "askdb",
			MaxIterations:     10,
			Dialect:           "PostgreSQL",
			MaxQuestionLength: 2000,
		},
		Database: DatabaseConfig{
			MaxRows:      100,
			QueryTimeout: 30 * time.Second,
		},
		Knowledge: KnowledgeConfig{
			Backend: "memory",
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				User:    "postgres",
				DBName:  "askdb",
				SSLMode: "disable",
			},
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "askdb",
				Collection: "knowledge",
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "askdb:knowledge:",
			},
		},
		Sessions: SessionsConfig{
			Backend:       "memory",
			HistoryWindow: 20,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "askdb:conversation:",
				TTL:    24 * time.Hour,
			},
		},
		Runner: RunnerConfig{MaxConcurrency: 10},
	}
}

// Load reads, expands and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default. ${VAR} references in values are
// expanded from the environment, and empty API keys fall back to the kind's
// environment variable.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &errorskg.ConfigurationError{Message: fmt.Sprintf("failed to parse config: %v", err)}
	}
	if len(doc.Content) > 0 {
		expandEnv(&doc)
		if err := doc.Decode(cfg); err != nil {
			return nil, &errorskg.ConfigurationError{Message: fmt.Sprintf("failed to parse config: %v", err)}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references inside parsed scalars; a bare $ is
// kept as written. Plain scalars are re-resolved, so port: ${PG_PORT} still
// decodes into an int.
func expandEnv(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		expanded := envRef.ReplaceAllStringFunc(n.Value, func(ref string) string {
			return os.Getenv(ref[2 : len(ref)-1])
		})
		if expanded != n.Value {
			n.Value = expanded
			if n.Style == 0 {
				n.Tag = ""
			}
		}
	}
	for _, c := range n.Content {
		expandEnv(c)
	}
}

func (c *Config) applyEnv() {
	for name, d := range c.LLM.Drivers {
		if d.Kind == "" {
			d.Kind = name
		}
		if d.APIKey == "" {
			if env, ok := APIKeyEnv[d.Kind]; ok {
				d.APIKey = os.Getenv(env)
			}
		}
		c.LLM.Drivers[name] = d
	}
}

// Validate checks the configuration. Failures are ConfigurationErrors.
func (c *Config) Validate() error {
	v := NewValidator()

	v.ValidateOneOf("log.level", c.Log.Level, "debug", "info", "warn", "error")
	v.ValidateOneOf("log.format", c.Log.Format, "text", "json")

	v.Check(len(c.LLM.Drivers) > 0, "llm.drivers", "at least one driver is required")
	if c.LLM.Default != "" {
		_, ok := c.LLM.Drivers[c.LLM.Default]
		v.Check(ok, "llm.default", fmt.Sprintf("unknown driver %q", c.LLM.Default))
	} else {
		v.Check(len(c.LLM.Drivers) <= 1, "llm.default", "required when more than one driver is configured")
	}
	for name, d := range c.LLM.Drivers {
		ValidateDriverConfig(v, "llm.drivers."+name, d)
	}

	v.RequirePositive("agent.max_iterations", c.Agent.MaxIterations)
	v.Check(c.Agent.RateLimit >= 0, "agent.rate_limit", "must not be negative")

	v.Check(len(c.Database.Connections) > 0, "database.connections", "at least one connection is required")
	if c.Database.Default != "" {
		_, ok := c.Database.Connections[c.Database.Default]
		v.Check(ok, "database.default", fmt.Sprintf("unknown connection %q", c.Database.Default))
	}
	v.RequirePositive("database.max_rows", c.Database.MaxRows)

	v.ValidateOneOf("knowledge.backend", c.Knowledge.Backend, "memory", "postgres", "mongo", "redis")
	switch c.Knowledge.Backend {
	case "postgres":
		p := c.Knowledge.Postgres
		v.Merge(ValidatePostgresConfig(p.Host, p.Port, p.User, p.DBName, p.SSLMode), "knowledge.postgres.")
	case "mongo":
		m := c.Knowledge.Mongo
		v.Merge(ValidateMongoDBConfig(m.URI, m.Database, m.Collection), "knowledge.mongo.")
	case "redis":
		r := c.Knowledge.Redis
		v.Merge(ValidateRedisConfig(r.Addr, r.DB, r.Prefix), "knowledge.redis.")
	}

	v.ValidateOneOf("sessions.backend", c.Sessions.Backend, "memory", "redis")
	if c.Sessions.Backend == "redis" {
		r := c.Sessions.Redis
		v.Merge(ValidateRedisConfig(r.Addr, r.DB, r.Prefix), "sessions.redis.")
	}

	v.Check(c.Sessions.HistoryWindow >= 0, "sessions.history_window", "must not be negative")
	v.Check(c.Sessions.HistoryTokens == 0 || c.Agent.Tokenizer != "", "sessions.history_tokens", "requires agent.tokenizer")

	v.RequirePositive("runner.max_concurrency", c.Runner.MaxConcurrency)

	if !v.HasErrors() {
		return nil
	}
	return &errorskg.ConfigurationError{Message: v.Error().Error()}
}
