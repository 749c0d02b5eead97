package firestore

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/navajothi-jewels/storefront-sync/internal/platform/config"
)

func TestProviderDialsOnceAndRetriesFailures(t *testing.T) {
	t.Setenv(envEmulatorHost, "")
	p := NewProvider(config.FirestoreConfig{ProjectID: "jewels"})

	var dials int
	p.dial = func(_ context.Context, project string, _ ...option.ClientOption) (*firestore.Client, error) {
		dials++
		if project != "jewels" {
			t.Fatalf("unexpected project %s", project)
		}
		if dials == 1 {
			return nil, errors.New("transient")
		}
		return &firestore.Client{}, nil
	}

	if _, err := p.Client(context.Background()); err == nil {
		t.Fatal("expected first dial to fail")
	}
	first, err := p.Client(context.Background())
	if err != nil {
		t.Fatalf("second dial: %v", err)
	}
	second, _ := p.Client(context.Background())
	if first != second || dials != 2 {
		t.Fatalf("expected cached client after success, dials=%d", dials)
	}
}

func TestProviderRequiresProject(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	p := NewProvider(config.FirestoreConfig{})
	if _, err := p.Client(context.Background()); !errors.Is(err, errNoProject) {
		t.Fatalf("expected errNoProject, got %v", err)
	}
}

func TestProviderClosedBeforeDial(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "jewels"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestProviderEmulatorOptions(t *testing.T) {
	t.Setenv(envEmulatorHost, "")
	p := NewProvider(config.FirestoreConfig{ProjectID: "jewels", EmulatorHost: "localhost:8081"},
		WithClientOptions(option.WithUserAgent("storefront-sync")))
	if got := len(p.dialOptions()); got != 4 {
		t.Fatalf("expected caller option plus three emulator options, got %d", got)
	}
}
