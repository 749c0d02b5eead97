package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/navajothi-jewels/storefront-sync/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("conflict", "item already\nin cart", http.StatusConflict).WithDetails(map[string]any{"key": "ring:22K"}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "conflict" || body["message"] != "item already in cart" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["trace_id"] != "trace-1" || body["key"] != "ring:22K" {
		t.Fatalf("expected trace id and details, got %v", body)
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	if err := NewError("boom", "failed", 0); err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 default, got %d", err.Status)
	}
}

func TestWriteErrorKeepsEnvelopeKeys(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("rates_unavailable", "no snapshot", http.StatusBadGateway).
		WithDetails(map[string]any{"error": "shadowed", "warning": true}))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "rates_unavailable" || body["warning"] != true {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestNewErrorTruncatesOnRuneBoundary(t *testing.T) {
	err := NewError(strings.Repeat("a", codeLimit-1)+"₹", "x", http.StatusBadRequest)
	if !utf8.ValidString(err.Code) || len(err.Code) != codeLimit-1 {
		t.Fatalf("unexpected truncation %q", err.Code)
	}
}
