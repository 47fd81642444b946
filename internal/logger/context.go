// Package logger provides utilities for working with [zerolog] loggers
// carried on a [context.Context], and for fatal startup errors.
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

var ctxLoggerKey = ctxKey{}

// WithContext returns a copy of ctx carrying l, retrievable with [FromContext].
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey, l)
}

// FromContext returns the logger carried by ctx, or a no-op
// [zerolog.Logger] if none was attached with [WithContext].
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxLoggerKey).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

// FatalError logs msg and err at fatal level and exits the process.
// Only meant for unrecoverable startup errors.
func FatalError(msg string, err error) {
	zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Msg(msg)
}
