package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = stderrors.New("resource not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = stderrors.New("resource already exists")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = stderrors.New("invalid input")

	// ErrUnauthorized indicates that the operation is not authorized
	ErrUnauthorized = stderrors.New("unauthorized")

	// ErrInternal indicates an internal server error
	ErrInternal = stderrors.New("internal error")

	// ErrQueryRejected indicates the SQL gate refused a query
	ErrQueryRejected = stderrors.New("query rejected")
)

// ConfigurationError reports a missing or invalid setting, such as an unknown
// driver name or an absent API key.
type ConfigurationError struct {
	Driver  string
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Driver != "" && e.Field != "":
		return fmt.Sprintf("configuration error: driver %q: %s: %s", e.Driver, e.Field, e.Message)
	case e.Driver != "":
		return fmt.Sprintf("configuration error: driver %q: %s", e.Driver, e.Message)
	case e.Field != "":
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
	}
	return "configuration error: " + e.Message
}

// Is lets callers match any configuration error with errors.Is(err, ErrInvalidInput).
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ProviderError is a transport, authentication or upstream failure returned
// by an LLM provider. StatusCode is zero when no HTTP response was received.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// InvalidResponseError reports a provider payload that could not be
// normalized, such as malformed tool-call arguments or an empty choice list.
type InvalidResponseError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *InvalidResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: invalid response: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("provider %s: invalid response: %s", e.Provider, e.Reason)
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }

// UnknownToolError reports a tool name that is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool %s not found", e.Name)
}

func (e *UnknownToolError) Is(target error) bool {
	return target == ErrNotFound
}

// ToolExecutionError wraps a failure raised while validating arguments for,
// or running, a tool.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
