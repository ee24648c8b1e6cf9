package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sweetpotato0/askdb/message"
	"github.com/sweetpotato0/askdb/middleware"
)

// ValidatorFunc validates a question
type ValidatorFunc func(string) error

// FilterFunc transforms or rejects the final answer
type FilterFunc func(*message.Message) error

// InputValidator rejects questions before any model call is made.
type InputValidator struct {
	validators []ValidatorFunc
}

// NewInputValidator creates an input validation middleware. Validators run in
// order; the first failure stops the run.
func NewInputValidator(validators ...ValidatorFunc) *InputValidator {
	return &InputValidator{validators: validators}
}

// Name returns the middleware name
func (m *InputValidator) Name() string {
	return "InputValidator"
}

// Execute validates the input
func (m *InputValidator) Execute(ctx *middleware.Context, next middleware.Handler) error {
	for _, validate := range m.validators {
		if validate == nil {
			continue
		}
		if err := validate(ctx.Input); err != nil {
			return fmt.Errorf("%w: %w", middleware.ErrInvalidInput, err)
		}
	}
	return next(ctx)
}

// NonEmpty rejects blank questions.
func NonEmpty() ValidatorFunc {
	return func(q string) error {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("question is empty")
		}
		return nil
	}
}

// MaxLength rejects questions longer than n characters.
func MaxLength(n int) ValidatorFunc {
	return func(q string) error {
		if l := utf8.RuneCountInString(q); l > n {
			return fmt.Errorf("question has %d characters, limit is %d", l, n)
		}
		return nil
	}
}

// ResponseFilter filters or transforms the final answer
type ResponseFilter struct {
	filter FilterFunc
}

// NewResponseFilter creates a response filtering middleware
func NewResponseFilter(filter FilterFunc) *ResponseFilter {
	return &ResponseFilter{filter: filter}
}

// Name returns the middleware name
func (m *ResponseFilter) Name() string {
	return "ResponseFilter"
}

// Execute filters the response
func (m *ResponseFilter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	err := next(ctx)
	if err != nil {
		return err
	}
	if ctx.Response != nil && m.filter != nil {
		return m.filter(ctx.Response)
	}
	return nil
}
