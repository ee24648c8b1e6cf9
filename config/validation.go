package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sweetpotato0/askdb/llm"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for field %q: %s", e.Field, e.Message)
}

// Validator collects validation errors across fields
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		errors: []ValidationError{},
	}
}

func (v *Validator) add(field, msg string) *Validator {
	v.errors = append(v.errors, ValidationError{Field: field, Message: msg})
	return v
}

// Check records msg for field unless ok holds.
func (v *Validator) Check(ok bool, field, msg string) *Validator {
	if !ok {
		v.add(field, msg)
	}
	return v
}

// RequireNonEmpty validates that a string field is not empty
func (v *Validator) RequireNonEmpty(field, value string) *Validator {
	return v.Check(strings.TrimSpace(value) != "", field, "value cannot be empty")
}

// RequirePositive validates that an integer field is greater than 0
func (v *Validator) RequirePositive(field string, value int) *Validator {
	return v.Check(value > 0, field, fmt.Sprintf("value must be positive, got %d", value))
}

// ValidateRange validates that an integer field is within a range [min, max]
func (v *Validator) ValidateRange(field string, value, min, max int) *Validator {
	return v.Check(value >= min && value <= max, field,
		fmt.Sprintf("value must be between %d and %d, got %d", min, max, value))
}

// ValidateFloatRange validates that a float field is within a range [min, max]
func (v *Validator) ValidateFloatRange(field string, value, min, max float64) *Validator {
	return v.Check(value >= min && value <= max, field,
		fmt.Sprintf("value must be between %.2f and %.2f, got %.2f", min, max, value))
}

// ValidatePort validates that a port number is valid (1-65535)
func (v *Validator) ValidatePort(field string, port int) *Validator {
	return v.ValidateRange(field, port, 1, 65535)
}

// ValidateDBNumber validates that a database number is valid (0-15 for Redis)
func (v *Validator) ValidateDBNumber(field string, db int) *Validator {
	return v.ValidateRange(field, db, 0, 15)
}

// ValidateOneOf validates that a string value is one of the allowed options
func (v *Validator) ValidateOneOf(field string, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if a == value {
			return v
		}
	}
	return v.add(field, fmt.Sprintf("value must be one of %v, got %q", allowed, value))
}

// Merge copies the errors of other, prefixing their field names.
func (v *Validator) Merge(other *Validator, prefix string) *Validator {
	if other == nil {
		return v
	}
	for _, e := range other.errors {
		v.add(prefix+e.Field, e.Message)
	}
	return v
}

// HasErrors returns true if there are any validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Error returns a combined error message or nil if no errors
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:")
	for _, e := range v.errors {
		fmt.Fprintf(&b, "\n  - %s: %s", e.Field, e.Message)
	}
	return errors.New(b.String())
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ValidatePostgresConfig validates the PostgreSQL knowledge store settings
func ValidatePostgresConfig(host string, port int, user, dbName, sslMode string) *Validator {
	v := NewValidator()
	v.RequireNonEmpty("host", host)
	v.ValidatePort("port", port)
	v.RequireNonEmpty("user", user)
	v.RequireNonEmpty("dbname", dbName)
	v.ValidateOneOf("sslmode", sslMode, "disable", "require", "verify-ca", "verify-full")
	return v
}

// ValidateRedisConfig validates the Redis history store settings
func ValidateRedisConfig(addr string, db int, prefix string) *Validator {
	v := NewValidator()
	v.RequireNonEmpty("addr", addr)
	v.ValidateDBNumber("db", db)
	v.RequireNonEmpty("prefix", prefix)
	return v
}

// ValidateMongoDBConfig validates the MongoDB knowledge store settings
func ValidateMongoDBConfig(uri, database, collection string) *Validator {
	v := NewValidator()
	v.RequireNonEmpty("uri", uri)
	v.RequireNonEmpty("database", database)
	v.RequireNonEmpty("collection", collection)
	return v
}

// ValidateDriverConfig validates one LLM driver entry. Every kind except
// ollama needs an API key.
func ValidateDriverConfig(v *Validator, field string, d llm.DriverConfig) *Validator {
	v.ValidateOneOf(field+".kind", d.Kind, "openai", "groq", "anthropic", "ollama", "gemini")
	if _, cloud := APIKeyEnv[d.Kind]; cloud {
		v.Check(d.APIKey != "", field+".api_key",
			fmt.Sprintf("value cannot be empty; set it or %s", APIKeyEnv[d.Kind]))
	}
	v.ValidateFloatRange(field+".temperature", d.Temperature, 0.0, 2.0)
	v.Check(d.MaxTokens >= 0, field+".max_tokens", fmt.Sprintf("value must not be negative, got %d", d.MaxTokens))
	return v
}
