package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger")
	}
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	if Logger(ctx) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestTraceAndUser(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", SpanID: "def"})
	ctx = WithUserID(ctx, "uid-1")
	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
	if UserID(ctx) != "uid-1" {
		t.Fatalf("unexpected user id %q", UserID(ctx))
	}
	if TraceID(context.Background()) != "" || UserID(context.Background()) != "" {
		t.Fatalf("expected empty values on bare context")
	}
}

func TestOrigin(t *testing.T) {
	ctx := WithOrigin(context.Background(), "01HZX")
	if Origin(ctx) != "01HZX" {
		t.Fatalf("unexpected origin %q", Origin(ctx))
	}
	if Origin(context.Background()) != "" {
		t.Fatalf("expected empty origin")
	}
}
