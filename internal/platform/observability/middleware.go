package observability

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/httpx"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/requestctx"
)

const completedMessage = "request completed"

func passthrough(next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return next
}

// InjectLoggerMiddleware makes logger the request-scoped logger.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware writes one completion line per request. Fields annotated by inner
// handlers (principal, order id, order number) are attached once the handler returns; callers
// that never authenticate are logged as guests.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, annotations := requestctx.EnsureAnnotations(r.Context())
			logger := scopedRequestLogger(r.WithContext(ctx), projectID)
			r = r.WithContext(requestctx.WithLogger(ctx, logger))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			panicked := true
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				if panicked && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				route := SanitizeRoute(routePattern(r))
				if span := trace.SpanFromContext(r.Context()); span.SpanContext().IsValid() {
					span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
					setSpanStatus(span, status)
				}

				fields := []zap.Field{
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int("bytes", ww.BytesWritten()),
				}
				fields = append(fields, annotationFields(r, annotations)...)
				switch {
				case status >= http.StatusInternalServerError:
					logger.Error(completedMessage, fields...)
				case status >= http.StatusBadRequest:
					logger.Warn(completedMessage, fields...)
				default:
					logger.Info(completedMessage, fields...)
				}
			}()

			next.ServeHTTP(ww, r)
			panicked = false
		})
	}
}

// scopedRequestLogger derives the per-request logger carrying request id, trace and caller
// fields.
func scopedRequestLogger(r *http.Request, projectID string) *zap.Logger {
	ctx := r.Context()
	info, _ := requestctx.Trace(ctx)
	if info.ProjectID == "" {
		info.ProjectID = projectID
	}
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("method", sanitizeString(r.Method, 10)),
		zap.String("trace_id", info.TraceID),
	}
	if info.ProjectID != "" && info.TraceID != "" {
		fields = append(fields, zap.String("logging.googleapis.com/trace", fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)))
	}
	if ip := remoteHost(r.RemoteAddr); ip != "" {
		fields = append(fields, zap.String("remote_ip", ip))
	}
	if key := sanitizeString(strings.TrimSpace(r.Header.Get("Idempotency-Key")), 128); key != "" {
		fields = append(fields, zap.String("idempotency_key", key))
	}
	return WithRequestFields(requestctx.Logger(ctx), fields...)
}

func annotationFields(r *http.Request, annotations *requestctx.Annotations) []zap.Field {
	var fields []zap.Field
	if _, ok := annotations.Get("principal"); !ok {
		fields = append(fields, zap.String("principal", "guest"))
	}
	if _, ok := annotations.Get("order_id"); !ok {
		if orderID := orderIDParam(r); orderID != "" {
			fields = append(fields, zap.String("order_id", orderID))
		}
	}
	annotations.Each(func(key, value string) {
		fields = append(fields, zap.String(key, sanitizeString(value, 128)))
	})
	return fields
}

// RecoveryMiddleware turns a panic into a logged stack trace and a 500 error envelope.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = requestctx.NoopLogger()
	}
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == nil || logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error while processing the order request", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if r == nil {
		return "/"
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL != nil && r.URL.Path != "" {
		return r.URL.Path
	}
	return "/"
}

func remoteHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitizeString(addr, 64)
}

func setSpanStatus(span trace.Span, status int) {
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
		return
	}
	span.SetStatus(codes.Ok, http.StatusText(status))
}
