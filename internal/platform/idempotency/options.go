package idempotency

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHeaderName   = "Idempotency-Key"
	replayHeaderName    = "X-Idempotent-Replay"
	maxKeyLength        = 255
	defaultMaxBodyBytes = 64 << 10
)

// Logger receives structured events about store failures.
type Logger func(ctx context.Context, event string, fields map[string]any)

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName   string
	ttl          time.Duration
	methods      map[string]struct{}
	clock        clockFunc
	logger       Logger
	optional     bool
	maxBodyBytes int64
}

func defaultMiddlewareConfig() middlewareConfig {
	return middlewareConfig{
		headerName:   defaultHeaderName,
		ttl:          DefaultTTL,
		methods:      map[string]struct{}{http.MethodPost: {}, http.MethodPatch: {}},
		clock:        time.Now,
		logger:       func(context.Context, string, map[string]any) {},
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed checkouts stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods replaces the guarded HTTP methods (POST and PATCH by default).
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		guarded := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				guarded[method] = struct{}{}
			}
		}
		if len(guarded) > 0 {
			cfg.methods = guarded
		}
	}
}

// WithLogger injects a logger for store failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded.
func WithOptionalKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.optional = true
	}
}

// WithMaxBodyBytes bounds the request body buffered for fingerprinting.
func WithMaxBodyBytes(limit int64) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if limit > 0 {
			cfg.maxBodyBytes = limit
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}
