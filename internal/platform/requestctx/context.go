package requestctx

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type (
	loggerContextKey struct{}
	traceContextKey  struct{}
	localeContextKey struct{}
	annotationsKey   struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithLocale stores the negotiated response locale ("fr", "en").
func WithLocale(ctx context.Context, locale string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, localeContextKey{}, locale)
}

// Locale returns the negotiated locale, or "" when none was set.
func Locale(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	locale, _ := ctx.Value(localeContextKey{}).(string)
	return locale
}

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey{}, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey{}).(TraceInfo)
	if !ok {
		return TraceInfo{}, false
	}
	return info, true
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, ok := Trace(ctx)
	if !ok {
		return ""
	}
	return info.TraceID
}

// Annotations collects fields set by handlers deep in the chain (order id, caller kind) so
// outer middlewares can attach them to the request log line and span.
type Annotations struct {
	mu     sync.Mutex
	fields map[string]string
}

// EnsureAnnotations returns ctx carrying an annotation set, reusing one already present.
func EnsureAnnotations(ctx context.Context) (context.Context, *Annotations) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing, ok := ctx.Value(annotationsKey{}).(*Annotations); ok && existing != nil {
		return ctx, existing
	}
	annotations := &Annotations{fields: make(map[string]string)}
	return context.WithValue(ctx, annotationsKey{}, annotations), annotations
}

// Annotate records key=value on the request's annotation set. It is a no-op when the
// context carries none.
func Annotate(ctx context.Context, key, value string) {
	if ctx == nil || key == "" || value == "" {
		return
	}
	annotations, ok := ctx.Value(annotationsKey{}).(*Annotations)
	if !ok || annotations == nil {
		return
	}
	annotations.mu.Lock()
	annotations.fields[key] = value
	annotations.mu.Unlock()
}

// Get returns the value recorded for key.
func (a *Annotations) Get(key string) (string, bool) {
	if a == nil {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	value, ok := a.fields[key]
	return value, ok
}

// Each calls fn for every annotation in key order.
func (a *Annotations) Each(fn func(key, value string)) {
	if a == nil || fn == nil {
		return
	}
	a.mu.Lock()
	keys := make([]string, 0, len(a.fields))
	for key := range a.fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, key := range keys {
		values[i] = a.fields[key]
	}
	a.mu.Unlock()
	for i, key := range keys {
		fn(key, values[i])
	}
}
