// Package observability builds the structured logger, tracer and metric instruments shared by
// every component.
package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/navajothi-jewels/storefront-sync/internal/platform/requestctx"
)

// LoggerOption adjusts NewLogger.
type LoggerOption func(*loggerSettings)

type loggerSettings struct {
	level   zapcore.Level
	console bool
	sink    zapcore.WriteSyncer
}

// WithLogLevel overrides LOG_LEVEL.
func WithLogLevel(level zapcore.Level) LoggerOption {
	return func(s *loggerSettings) { s.level = level }
}

// WithLogSink sends entries to sink instead of stdout.
func WithLogSink(sink zapcore.WriteSyncer) LoggerOption {
	return func(s *loggerSettings) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// NewLogger builds the bridge logger. LOG_LEVEL picks the level (default info) and LOG_FORMAT=console
// switches from JSON to a human-readable encoder for local runs.
func NewLogger(opts ...LoggerOption) (*zap.Logger, error) {
	s := loggerSettings{
		level:   zapcore.InfoLevel,
		console: strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console"),
		sink:    zapcore.Lock(os.Stdout),
	}
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if lvl, err := zapcore.ParseLevel(raw); err == nil {
			s.level = lvl
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	encoding := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "severity",
		NameKey:        "component",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	var encoder zapcore.Encoder
	if s.console {
		encoder = zapcore.NewConsoleEncoder(encoding)
	} else {
		encoder = zapcore.NewJSONEncoder(encoding)
	}

	core := zapcore.NewCore(encoder, s.sink, zap.NewAtomicLevelAt(s.level))
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))), nil
}

// WithLogger stores logger on ctx for requestctx.Logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}
