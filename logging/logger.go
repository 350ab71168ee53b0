package logging

import "context"

type ctxkey struct {
	logger Logger
}

// With attaches a logger to the context. Use it to open a scope, for example
// one per provider while refreshing:
//
//	ctx := logging.With(ctx, logging.FromContext(ctx).Named("refresher"))
func With(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxkey{}, &ctxkey{
		logger: logger,
	})
}

// FromContext returns the scoped logger, or a no-op logger when none is
// attached.
func FromContext(ctx context.Context) Logger {
	c, ok := ctx.Value(ctxkey{}).(*ctxkey)
	if ok {
		return c.logger
	}
	return nopLogger
}

// Track adds a field to the current scope. Tracked fields travel back up to
// the request middleware and land on the per-request line, so open a new
// scope with With before tracking inside a loop.
func Track(ctx context.Context, field string, value interface{}) {
	c, ok := ctx.Value(ctxkey{}).(*ctxkey)
	if ok {
		c.logger = c.logger.With(field, value)
	}
}

// Logger is the structured subset of zap's sugared logger the broker logs
// through.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Named creates a child logger with the given name.
	Named(name string) Logger

	// With creates a child logger carrying an extra field.
	With(field string, value interface{}) Logger
}

func Debugw(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Debugw(msg, fields...)
}

func Infow(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Infow(msg, fields...)
}

func Warnw(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Warnw(msg, fields...)
}

func Errorw(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Errorw(msg, fields...)
}
