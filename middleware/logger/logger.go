package logger

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/askdb/middleware"
	"github.com/sweetpotato0/askdb/pkg/logging"
)

// maxLogged bounds the question and answer text written to the log.
const maxLogged = 200

// RequestLogger logs each question and the outcome of its run.
type RequestLogger struct {
	logger *slog.Logger
}

// New creates a request logging middleware. A nil logger uses the
// process-wide "middleware" component logger.
func New(logger *slog.Logger) *RequestLogger {
	if logger == nil {
		logger = logging.WithComponent("middleware")
	}
	return &RequestLogger{logger: logger}
}

// Name returns the middleware name
func (m *RequestLogger) Name() string {
	return "RequestLogger"
}

// Execute logs the request and, after the run, its response or error.
func (m *RequestLogger) Execute(ctx *middleware.Context, next middleware.Handler) error {
	start := time.Now()
	m.logger.InfoContext(ctx.Context(), "question received",
		"question", truncate(ctx.Input),
		"history", len(ctx.Messages))

	err := next(ctx)

	attrs := []any{"duration", time.Since(start)}
	if status, ok := ctx.Get(middleware.MetaStatus); ok {
		attrs = append(attrs, "status", status)
	}
	if iterations, ok := ctx.Get(middleware.MetaIterations); ok {
		attrs = append(attrs, "iterations", iterations)
	}
	if err != nil {
		m.logger.ErrorContext(ctx.Context(), "question failed", append(attrs, "error", err)...)
		return err
	}
	if ctx.Response != nil {
		attrs = append(attrs, "answer", truncate(ctx.Response.Text()))
	}
	m.logger.InfoContext(ctx.Context(), "question answered", attrs...)
	return nil
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxLogged {
		return s
	}
	return string(r[:maxLogged]) + "..."
}
