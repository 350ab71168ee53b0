package logging

import (
	"go.uber.org/zap"
)

var nopLogger Logger = &ZapLogger{z: zap.NewNop().Sugar()}

// NewLogger returns a logger for the given mode. Recognized modes are "dev",
// "prod" and "none"; anything else falls back to prod.
func NewLogger(mode string) Logger {
	switch mode {
	case "dev", "development":
		return NewDevLogger()
	case "none", "nop":
		return NewNopLogger()
	default:
		return NewProdLogger()
	}
}

// NewDevLogger returns a zap logger that prints dev friendly output.
func NewDevLogger() Logger {
	l, _ := zap.NewDevelopment(zap.AddCallerSkip(2))
	return &ZapLogger{z: l.Sugar()}
}

// NewProdLogger returns a zap logger that outputs JSON.
func NewProdLogger() Logger {
	l, _ := zap.NewProduction(zap.AddCallerSkip(2))
	return &ZapLogger{z: l.Sugar()}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return nopLogger
}

// NewZapLogger adapts an existing zap logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{z: l.Sugar()}
}

// ZapLogger is a logging adapter for a zap SugaredLogger.
type ZapLogger struct {
	z *zap.SugaredLogger
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.z.Sync()
}

func (z *ZapLogger) Debugw(msg string, keysAndValues ...interface{}) { z.z.Debugw(msg, keysAndValues...) }
func (z *ZapLogger) Infow(msg string, keysAndValues ...interface{})  { z.z.Infow(msg, keysAndValues...) }
func (z *ZapLogger) Warnw(msg string, keysAndValues ...interface{})  { z.z.Warnw(msg, keysAndValues...) }
func (z *ZapLogger) Errorw(msg string, keysAndValues ...interface{}) { z.z.Errorw(msg, keysAndValues...) }

func (z *ZapLogger) Named(name string) Logger {
	return &ZapLogger{z: z.z.Named(name)}
}

func (z *ZapLogger) With(field string, value interface{}) Logger {
	return &ZapLogger{z: z.z.With(field, value)}
}
