// Package errreport forwards captured errors to an error-reporting service.
// Reporting is fire-and-forget: it never blocks callers or changes their
// control flow.
package errreport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

type Reporter interface {
	Capture(ctx context.Context, err error, tags map[string]string)
	// Flush waits up to timeout for buffered reports to be delivered.
	Flush(timeout time.Duration) bool
}

type sentryReporter struct {
	hub *sentry.Hub
}

// NewSentry returns a Reporter backed by Sentry. Events are sent
// asynchronously by the Sentry transport.
func NewSentry(dsn, environment, release string) (Reporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	return &sentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *sentryReporter) Capture(_ context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}

func (r *sentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

type logReporter struct {
	logger *slog.Logger
}

// NewLog returns a Reporter that only logs. Used when no DSN is configured.
// If logger is nil, slog.Default() is used.
func NewLog(logger *slog.Logger) Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &logReporter{logger: logger}
}

func (r *logReporter) Capture(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	attrs := []any{"error", err}
	for k, v := range tags {
		attrs = append(attrs, k, v)
	}
	r.logger.ErrorContext(ctx, "error captured", attrs...)
}

func (r *logReporter) Flush(time.Duration) bool { return true }
