package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	metricNamespace     = "github.com/Babacarjopp/senmedicaltech/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references (the Redis password, broker credentials) through
// Google Secret Manager. Values are cached for a TTL so rotations are picked up without a
// restart; a local fallback file serves machines without Secret Manager access.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	now        func() time.Time

	env            string
	defaultProject string
	projectMap     map[string]string
	versionPins    map[string]string
	cacheTTL       time.Duration

	fallback *fallbackFile
	metrics  fetchMetrics
	group    singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	canonical string
	fetchedAt time.Time
}

type fetcherConfig struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projectMap   map[string]string
	versionPins  map[string]string
	fallbackPath string
	cacheTTL     time.Duration
	now          func() time.Time
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithEnvironment selects the environment key used for project mapping and version pins.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) {
		cfg.env = strings.ToLower(strings.TrimSpace(env))
	}
}

// WithDefaultProject sets the project used when no environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.defaultProj = strings.TrimSpace(projectID)
	}
}

// WithProjectMap supplies environment-specific project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) {
		cfg.projectMap = copyStringMap(m)
	}
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithCacheTTL bounds how long a resolved value is reused. Zero or negative keeps the default.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if ttl > 0 {
			cfg.cacheTTL = ttl
		}
	}
}

// WithClock injects the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(cfg *fetcherConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) {
		cfg.meter = m
	}
}

// WithSecretManagerClient injects a preconfigured Secret Manager client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// WithVersionPins sets explicit versions keyed by canonical reference, optionally prefixed
// with "env:".
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) {
		cfg.versionPins = copyStringMap(pins)
	}
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not an error: the fetcher
// then serves the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
		cacheTTL:     defaultCacheTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.env == "" {
		cfg.env = defaultEnvironment
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	f := &Fetcher{
		logger:         cfg.logger,
		now:            cfg.now,
		env:            cfg.env,
		defaultProject: cfg.defaultProj,
		projectMap:     copyStringMap(cfg.projectMap),
		versionPins:    copyStringMap(cfg.versionPins),
		cacheTTL:       cfg.cacheTTL,
		fallback:       &fallbackFile{path: cfg.fallbackPath},
		metrics:        newFetchMetrics(meter, cfg.logger),
		cache:          make(map[string]cacheEntry),
		client:         cfg.client,
	}

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager client unavailable; using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value for ref. Concurrent misses for the same reference share one
// Secret Manager read.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := f.now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.selectVersion(ref)
	key := cacheKey(ref.Canonical, version)

	if value, ok := f.cached(key, start); ok {
		f.metrics.cacheHit(ctx, ref)
		return value, nil
	}

	result, err, _ := f.group.Do(key, func() (any, error) {
		value, source, err := f.load(ctx, ref, version)
		f.metrics.latency(ctx, f.now().Sub(start), source, err)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[key] = cacheEntry{value: value, canonical: ref.Canonical, fetchedAt: f.now()}
		f.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops cached values for the reference so the next Resolve reads Secret Manager
// again, e.g. after a Redis AUTH failure following a password rotation.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseReference(raw)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, entry := range f.cache {
		if entry.canonical == ref.Canonical {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) cached(key string, now time.Time) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok || now.Sub(entry.fetchedAt) >= f.cacheTTL {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) load(ctx context.Context, ref reference, version string) (string, string, error) {
	project := f.projectID(ref)
	if project != "" && f.client != nil {
		value, err := f.fetchRemote(ctx, project, ref.Secret, version)
		if err == nil {
			return value, "remote", nil
		}
		if !isFallbackError(err) {
			return "", "remote", fmt.Errorf("secrets: fetch failed for %s: %w", ref.Canonical, err)
		}
		f.logger.Debug("secrets: falling back to local secrets", zap.String("ref", ref.Canonical), zap.Error(err))
	}

	value, ok, err := f.fallback.lookup(ref, version)
	if err != nil {
		return "", "fallback", err
	}
	if !ok {
		return "", "fallback", fmt.Errorf("secrets: fallback value not found for %s", ref.Canonical)
	}
	return value, "fallback", nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, project, secret, version string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, secret, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", errors.New("secrets: empty payload for " + name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectID(ref reference) string {
	if ref.Project != "" {
		return ref.Project
	}
	if id := strings.TrimSpace(f.projectMap[f.env]); id != "" {
		return id
	}
	return f.defaultProject
}

func (f *Fetcher) selectVersion(ref reference) string {
	if ref.Version != "" {
		return ref.Version
	}
	for _, key := range []string{keyWithEnv(f.env, ref.Canonical), ref.Canonical} {
		if pin := strings.TrimSpace(f.versionPins[key]); pin != "" {
			return pin
		}
	}
	return latestVersion
}

// isFallbackError reports Secret Manager failures that justify the local file: missing
// access or an unreachable service. NotFound is a configuration error and surfaces.
func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

type fetchMetrics struct {
	latencyMS metric.Float64Histogram
	hits      metric.Int64Counter
}

func newFetchMetrics(meter metric.Meter, logger *zap.Logger) fetchMetrics {
	var m fetchMetrics
	var err error
	if m.latencyMS, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	); err != nil {
		logger.Warn("secrets: unable to register latency metric", zap.Error(err))
	}
	if m.hits, err = meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	); err != nil {
		logger.Warn("secrets: unable to register cache hit metric", zap.Error(err))
	}
	return m
}

func (m fetchMetrics) latency(ctx context.Context, d time.Duration, source string, err error) {
	if m.latencyMS == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source), attribute.Bool("error", err != nil)}
	m.latencyMS.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func (m fetchMetrics) cacheHit(ctx context.Context, ref reference) {
	if m.hits == nil {
		return
	}
	m.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", maskReference(ref.Canonical))))
}
