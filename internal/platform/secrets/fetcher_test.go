package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubAccess struct {
	mu       sync.Mutex
	payloads map[string]string
	failures map[string]error
	calls    map[string]int
}

func newStubAccess() *stubAccess {
	return &stubAccess{payloads: map[string]string{}, failures: map[string]error{}, calls: map[string]int{}}
}

func (s *stubAccess) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.GetName()]++
	if err := s.failures[req.GetName()]; err != nil {
		return nil, err
	}
	value, ok := s.payloads[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "no such secret")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (s *stubAccess) Close() error { return nil }

func (s *stubAccess) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func fallbackPath(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

const ratesTokenResource = "projects/jewels/secrets/rates-token/versions/latest"

func TestResolveServesRepeatLookupsFromCache(t *testing.T) {
	ctx := context.Background()
	access := newStubAccess()
	access.payloads[ratesTokenResource] = "tok-remote"

	f, err := NewFetcher(ctx, WithSecretManagerClient(access), WithProject("jewels"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer f.Close()

	for i := 0; i < 3; i++ {
		got, err := f.Resolve(ctx, "secret://rates/token")
		if err != nil || got != "tok-remote" {
			t.Fatalf("resolve %d: %q %v", i, got, err)
		}
	}
	if n := access.count(ratesTokenResource); n != 1 {
		t.Fatalf("expected one remote access, got %d", n)
	}
}

func TestResolvePinnedVersionInOtherProject(t *testing.T) {
	ctx := context.Background()
	access := newStubAccess()
	access.payloads["projects/shared/secrets/auth-local/versions/3"] = "v3"

	f, _ := NewFetcher(ctx, WithSecretManagerClient(access), WithProject("jewels"), WithFallbackFile(""))
	got, err := f.ResolveSecret(ctx, "secret://auth/local?version=3&project=shared")
	if err != nil || got != "v3" {
		t.Fatalf("expected v3, got %q %v", got, err)
	}
}

func TestResolveFallbackPolicy(t *testing.T) {
	cases := []struct {
		name     string
		code     codes.Code
		fallback bool
	}{
		{name: "permission denied", code: codes.PermissionDenied, fallback: true},
		{name: "unauthenticated", code: codes.Unauthenticated, fallback: true},
		{name: "unavailable", code: codes.Unavailable, fallback: true},
		{name: "not found", code: codes.NotFound},
		{name: "invalid argument", code: codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			access := newStubAccess()
			access.failures[ratesTokenResource] = status.Error(tc.code, tc.name)
			f, _ := NewFetcher(ctx,
				WithSecretManagerClient(access),
				WithProject("jewels"),
				WithFallbackFile(fallbackPath(t, "# dev\nsecret://rates/token=tok-local\n")),
			)

			got, err := f.Resolve(ctx, "secret://rates/token")
			if tc.fallback {
				if err != nil || got != "tok-local" {
					t.Fatalf("expected fallback value, got %q %v", got, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected %s to fail without fallback, got %q", tc.code, got)
			}
		})
	}
}

func TestNewFetcherDegradesToFallbackWithoutClient(t *testing.T) {
	original := newAccessClient
	newAccessClient = func(context.Context, ...option.ClientOption) (AccessClient, error) {
		return nil, errors.New("no application default credentials")
	}
	t.Cleanup(func() { newAccessClient = original })

	ctx := context.Background()
	f, err := NewFetcher(ctx, WithProject("jewels"), WithFallbackFile(fallbackPath(t, "sm://auth/local=legacy\n")))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if got, err := f.Resolve(ctx, "secret://auth/local"); err != nil || got != "legacy" {
		t.Fatalf("expected legacy fallback, got %q %v", got, err)
	}
	if _, err := f.Resolve(ctx, "secret://rates/token"); err == nil {
		t.Fatal("expected missing fallback entry to fail")
	}
}

func TestParseReference(t *testing.T) {
	cases := []struct {
		raw      string
		resource string
		wantErr  bool
	}{
		{raw: "secret://rates/token", resource: "projects/p/secrets/rates-token/versions/latest"},
		{raw: "sm://auth/local?version=2", resource: "projects/p/secrets/auth-local/versions/2"},
		{raw: "vault://rates", wantErr: true},
		{raw: "secret://", wantErr: true},
		{raw: "  ", wantErr: true},
	}
	for _, tc := range cases {
		ref, err := parseReference(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseReference(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil || ref.resource("p") != tc.resource {
			t.Errorf("parseReference(%q) = %q %v", tc.raw, ref.resource("p"), err)
		}
	}
}
