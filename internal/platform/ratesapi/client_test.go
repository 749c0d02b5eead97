package ratesapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetchLatestRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer rates-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"currency":"inr","observedAt":"2026-05-01T09:30:00+05:30","rates":{"22k":5000.5,"24K":5460}}`))
	}))
	defer srv.Close()

	snap, err := NewClient(srv.URL, "rates-token", time.Second).FetchLatestRates(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Rate22K != 5000.5 || snap.Rate24K != 5460 || snap.Currency != "INR" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	want := time.Date(2026, 5, 1, 4, 0, 0, 0, time.UTC)
	if !snap.ObservedAt.Equal(want) {
		t.Fatalf("expected observedAt %s, got %s", want, snap.ObservedAt)
	}
}

func TestFetchLatestRatesDefaultsObservedAt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"currency":"INR","rates":{"22K":1,"24K":2}}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap, err := NewClient(srv.URL, "", 0, WithClock(func() time.Time { return now })).FetchLatestRates(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.ObservedAt.Equal(now) {
		t.Fatalf("expected clock time, got %s", snap.ObservedAt)
	}
}

func TestFetchLatestRatesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/partial") {
			_, _ = w.Write([]byte(`{"rates":{"22K":5000}}`))
			return
		}
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "", time.Second).FetchLatestRates(context.Background()); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
	if _, err := NewClient(srv.URL+"/partial", "", time.Second).FetchLatestRates(context.Background()); err == nil {
		t.Fatalf("expected validation error for missing 24K rate")
	}
	if _, err := NewClient("", "", time.Second).FetchLatestRates(context.Background()); !errors.Is(err, ErrMissingEndpoint) {
		t.Fatalf("expected ErrMissingEndpoint, got %v", err)
	}
}
