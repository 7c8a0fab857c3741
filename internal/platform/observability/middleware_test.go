package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/requestctx"
)

func newObservedRouter(t *testing.T) (chi.Router, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	router := chi.NewRouter()
	router.Use(
		InjectLoggerMiddleware(logger),
		TraceMiddleware("senmedicaltech"),
		RecoveryMiddleware(logger),
		RequestLoggerMiddleware("senmedicaltech"),
	)
	return router, logs
}

func TestRequestLoggerAttachesOrderAnnotations(t *testing.T) {
	router, logs := newObservedRouter(t)
	router.Post("/api/v1/orders/guest", func(w http.ResponseWriter, r *http.Request) {
		requestctx.Annotate(r.Context(), "order_id", "ord_1")
		requestctx.Annotate(r.Context(), "order_number", "SMT-2026-000001")
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/guest", nil)
	req.Header.Set("Idempotency-Key", "checkout-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["order_id"] != "ord_1" || fields["order_number"] != "SMT-2026-000001" {
		t.Fatalf("expected order annotations, got %v", fields)
	}
	if fields["principal"] != "guest" || fields["idempotency_key"] != "checkout-1" {
		t.Fatalf("expected guest principal and idempotency key, got %v", fields)
	}
	if fields["route"] != "/api/v1/orders/guest" || fields["status"] != int64(http.StatusCreated) {
		t.Fatalf("unexpected route/status %v", fields)
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level, got %s", entries[0].Level)
	}
}

func TestRequestLoggerUsesRouteOrderID(t *testing.T) {
	router, logs := newObservedRouter(t)
	router.Get("/api/v1/orders/my/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		requestctx.Annotate(r.Context(), "principal", "customer")
		w.WriteHeader(http.StatusNotFound)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/my/ord_9", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["order_id"] != "ord_9" || fields["principal"] != "customer" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 404, got %s", entries[0].Level)
	}
}

func TestRecoveryMiddlewareWritesErrorEnvelope(t *testing.T) {
	router, logs := newObservedRouter(t)
	router.Get("/api/v1/admin/orders", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal_error" {
		t.Fatalf("unexpected body %v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 || completed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected error completion entry, got %+v", completed)
	}
}
