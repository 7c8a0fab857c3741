package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	resource := "projects/test/secrets/redis_password/versions/latest"
	client.values[resource] = "remote-secret"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://redis_password")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "remote-secret" {
		t.Fatalf("expected remote-secret, got %s", got)
	}

	got, err = fetcher.Resolve(ctx, "secret://redis_password")
	if err != nil {
		t.Fatalf("Resolve second call returned error: %v", err)
	}
	if got != "remote-secret" {
		t.Fatalf("expected cached remote-secret, got %s", got)
	}

	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	fallbackPath := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(fallbackPath, []byte("secret://redis_password=local-secret\n"), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	client := newFakeSecretClient()
	resource := "projects/test/secrets/redis_password/versions/latest"
	client.errors[resource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://redis_password")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("expected fallback secret local-secret, got %s", got)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	resource := "projects/test/secrets/redis_password/versions/latest"
	client.values[resource] = "old-password"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
	)
	if err != nil {
		t.Fatalf("NewFetcher error: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, "secret://redis_password"); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	client.mu.Lock()
	client.values[resource] = "rotated-password"
	client.mu.Unlock()
	fetcher.Invalidate("secret://redis_password")

	got, err := fetcher.Resolve(ctx, "secret://redis_password")
	if err != nil {
		t.Fatalf("Resolve after invalidate returned error: %v", err)
	}
	if got != "rotated-password" {
		t.Fatalf("expected rotated password, got %s", got)
	}
	if calls := client.callCount(resource); calls != 2 {
		t.Fatalf("expected 2 remote reads, got %d", calls)
	}
}

func TestResolveUsesVersionPins(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	resourcePinned := "projects/test/secrets/redis_password/versions/5"
	client.values[resourcePinned] = "version-5"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithVersionPins(map[string]string{
			"secret://redis_password": "5",
		}),
	)
	if err != nil {
		t.Fatalf("NewFetcher error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://redis_password")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "version-5" {
		t.Fatalf("expected version-5, got %s", got)
	}
	if calls := client.callCount(resourcePinned); calls != 1 {
		t.Fatalf("expected fetch of version 5, got %d calls", calls)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	fallbackPath := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(fallbackPath, []byte("secret://redis_password=local-secret\n"), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	client := newFakeSecretClient()
	resource := "projects/test/secrets/redis_password/versions/latest"
	client.errors[resource] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	_, err = fetcher.Resolve(ctx, "secret://redis_password")
	if err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()

	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		secretManagerClientFactory = originalFactory
	})

	dir := t.TempDir()
	fallbackPath := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(fallbackPath, []byte("secret://redis_password=local-secret\n"), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	fetcher, err := NewFetcher(ctx, WithFallbackFile(fallbackPath))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, "secret://redis_password")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-secret" {
		t.Fatalf("expected local secret, got %s", value)
	}
}

func TestResolveRefetchesAfterCacheTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/smt-prod/secrets/inventory-redis-password/versions/latest"
	client.values[resource] = "before-rotation"

	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("smt-prod"),
		WithCacheTTL(5*time.Minute),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if got, _ := fetcher.Resolve(ctx, "sm://inventory-redis-password"); got != "before-rotation" {
		t.Fatalf("unexpected value %q", got)
	}
	client.mu.Lock()
	client.values[resource] = "after-rotation"
	client.mu.Unlock()

	now = now.Add(4 * time.Minute)
	if got, _ := fetcher.Resolve(ctx, "secret://inventory-redis-password"); got != "before-rotation" {
		t.Fatalf("expected cached value inside the TTL, got %q", got)
	}
	now = now.Add(2 * time.Minute)
	if got, _ := fetcher.Resolve(ctx, "secret://inventory-redis-password"); got != "after-rotation" {
		t.Fatalf("expected rotated value after the TTL, got %q", got)
	}
	if calls := client.callCount(resource); calls != 2 {
		t.Fatalf("expected 2 remote reads, got %d", calls)
	}
}

func TestFallbackFileHonoursVersionedKeys(t *testing.T) {
	dir := t.TempDir()
	fallbackPath := filepath.Join(dir, ".secrets.local")
	content := "# local secrets\n" +
		"sm://kafka-password=plain=value\n" +
		"secret://kafka-password?version=3&project=smt-dev=pinned\n" +
		"not a reference\n"
	if err := os.WriteFile(fallbackPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	file := &fallbackFile{path: fallbackPath}
	ref, err := parseReference("secret://kafka-password")
	if err != nil {
		t.Fatalf("parseReference: %v", err)
	}
	if value, ok, err := file.lookup(ref, latestVersion); err != nil || !ok || value != "plain=value" {
		t.Fatalf("unexpected latest lookup %q %v %v", value, ok, err)
	}
	if value, ok, err := file.lookup(ref, "3"); err != nil || !ok || value != "pinned" {
		t.Fatalf("unexpected pinned lookup %q %v %v", value, ok, err)
	}
}

func TestParseReferenceRejectsUnknownSchemes(t *testing.T) {
	for _, raw := range []string{"", "https://example.com/secret", "secret://"} {
		if _, err := parseReference(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
	ref, err := parseReference("sm://orders/signing?version=7")
	if err != nil {
		t.Fatalf("parseReference: %v", err)
	}
	if ref.Canonical != "secret://orders/signing" || ref.Secret != "orders/signing" || ref.Version != "7" {
		t.Fatalf("unexpected reference %+v", ref)
	}
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++

	if err, ok := f.errors[name]; ok && err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error {
	return nil
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
