package observability

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/Babacarjopp/senmedicaltech/internal/platform/observability")

// TraceMiddleware continues an upstream X-Cloud-Trace-Context, starts a server span and
// stores trace metadata on the request context. Order annotations recorded by handlers are
// copied onto the span when the request finishes.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, annotations := requestctx.EnsureAnnotations(r.Context())

			info, remote, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader))
			if ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, spanNameFromRequest(r), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			span.SetAttributes(standardSpanAttributes(r)...)

			spanCtx := span.SpanContext()
			info.TraceID = spanCtx.TraceID().String()
			info.SpanID = spanCtx.SpanID().String()
			info.Sampled = spanCtx.IsSampled()
			info.ProjectID = projectID

			r = r.WithContext(requestctx.WithTrace(ctx, info))
			if formatted := formatCloudTraceHeader(info); formatted != "" {
				w.Header().Set(cloudTraceHeader, formatted)
			}

			next.ServeHTTP(w, r)

			if pattern := routePattern(r); pattern != "" && pattern != r.URL.Path {
				span.SetName(fmt.Sprintf("%s %s", r.Method, SanitizeRoute(pattern)))
			}
			span.SetAttributes(annotationAttributes(annotations, orderIDParam(r))...)
		})
	}
}

var spanAnnotationKeys = map[string]string{
	"user_id":      "enduser.id",
	"principal":    "storefront.principal",
	"order_id":     "storefront.order_id",
	"order_number": "storefront.order_number",
	"order_status": "storefront.order_status",
}

func annotationAttributes(annotations *requestctx.Annotations, routeOrderID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(spanAnnotationKeys))
	annotations.Each(func(key, value string) {
		if name, ok := spanAnnotationKeys[key]; ok {
			attrs = append(attrs, attribute.String(name, sanitizeString(value, 128)))
		}
	})
	if _, ok := annotations.Get("order_id"); !ok && routeOrderID != "" {
		attrs = append(attrs, attribute.String("storefront.order_id", routeOrderID))
	}
	return attrs
}

// parseCloudTraceContext reads "TRACE_ID/SPAN_ID;o=OPTIONS".
func parseCloudTraceContext(header string) (requestctx.TraceInfo, trace.SpanContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}
	traceHex = strings.TrimSpace(traceHex)
	if len(traceHex) != 32 {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}

	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(spanPart)
	if !ok {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}

	sampled := parseTraceOptions(options)
	var flags trace.TraceFlags
	if sampled {
		flags = trace.FlagsSampled
	}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return requestctx.TraceInfo{
		TraceID: traceID.String(),
		SpanID:  spanID.String(),
		Sampled: sampled,
	}, spanCtx, true
}

// parseSpanID accepts the decimal span id Cloud Trace sends, falling back to 16-digit hex.
func parseSpanID(value string) (trace.SpanID, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return trace.SpanID{}, false
	}
	if num, err := strconv.ParseUint(value, 10, 64); err == nil {
		var spanID trace.SpanID
		binary.BigEndian.PutUint64(spanID[:], num)
		return spanID, spanID.IsValid()
	}
	if len(value) == 16 {
		if spanID, err := trace.SpanIDFromHex(value); err == nil {
			return spanID, true
		}
	}
	return trace.SpanID{}, false
}

func parseTraceOptions(optionPart string) bool {
	optionPart = strings.TrimSpace(optionPart)
	if optionPart == "" {
		return false
	}
	segments := strings.Split(optionPart, ";")
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if strings.HasPrefix(segment, "o=") {
			return segment == "o=1"
		}
	}
	return false
}

// formatCloudTraceHeader renders info with a decimal span id.
func formatCloudTraceHeader(info requestctx.TraceInfo) string {
	if info.TraceID == "" || info.SpanID == "" {
		return ""
	}
	spanID, err := trace.SpanIDFromHex(info.SpanID)
	if err != nil {
		return ""
	}
	option := "0"
	if info.Sampled {
		option = "1"
	}
	return fmt.Sprintf("%s/%d;o=%s", info.TraceID, binary.BigEndian.Uint64(spanID[:]), option)
}

func spanNameFromRequest(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s %s", r.Method, path)
}

func standardSpanAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
		attribute.String("url.scheme", scheme),
	}
	if r.URL != nil {
		if path := r.URL.Path; path != "" {
			attrs = append(attrs, attribute.String("url.path", path))
		}
	}
	if host := r.Host; host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		attrs = append(attrs, attribute.String("storefront.idempotency_key", sanitizeString(key, 128)))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	return attrs
}
