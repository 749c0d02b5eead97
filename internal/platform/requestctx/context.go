// Package requestctx carries request scoped values through contexts: the logger, trace ids,
// the signed-in uid and the session id that originated a write.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
	userKey   struct{}
	originKey struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo is the trace metadata attached by the tracing middleware.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

func with(ctx context.Context, key, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func value[T any](ctx context.Context, key any) T {
	var zero T
	if ctx == nil {
		return zero
	}
	v, _ := ctx.Value(key).(T)
	return v
}

// WithLogger attaches logger. A nil logger stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, loggerKey{}, logger)
}

// Logger returns the attached logger, or the no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger := value[*zap.Logger](ctx, loggerKey{}); logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is the logger Logger falls back to, so callers can detect that none was attached.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, traceKey{}, info)
}

func TraceID(ctx context.Context) string {
	return value[TraceInfo](ctx, traceKey{}).TraceID
}

// WithUserID records the signed-in uid the request acts for.
func WithUserID(ctx context.Context, uid string) context.Context {
	return with(ctx, userKey{}, uid)
}

func UserID(ctx context.Context) string {
	return value[string](ctx, userKey{})
}

// WithOrigin tags writes made with ctx with the session id that issued them, so change feeds can
// skip echoes of their own writes.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return with(ctx, originKey{}, origin)
}

func Origin(ctx context.Context) string {
	return value[string](ctx, originKey{})
}
