package logging

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

type ctxKey struct{}

var base atomic.Pointer[zap.Logger]

func init() {
	base.Store(zap.NewNop())
}

// New builds the process logger: JSON production output, or a human-readable
// development logger when debug is set.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// SetDefault installs l as the fallback logger returned by GetLogger.
func SetDefault(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	base.Store(l)
}

// WithLogger returns a context carrying l.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// With returns a context whose logger carries the extra fields.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, GetLogger(ctx).With(fields...))
}

// GetLogger returns the logger stored in ctx, or the default logger.
func GetLogger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return base.Load()
}
