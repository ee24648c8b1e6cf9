package middleware

import (
	"errors"
	"fmt"

	errorskg "github.com/sweetpotato0/askdb/errors"
)

var (
	// ErrRateLimitExceeded indicates rate limit has been exceeded
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidInput indicates question validation failed. It matches
	// errors.ErrInvalidInput.
	ErrInvalidInput = fmt.Errorf("invalid question: %w", errorskg.ErrInvalidInput)
)
