package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("out_of_stock", "insufficient stock\nfor requested quantity", http.StatusConflict).
		WithDetail("productId", "prod_mask").
		WithDetails(map[string]any{"available": 0, "status": 200}))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store, got %q", rr.Header().Get("Cache-Control"))
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "out_of_stock" || body["status"] != float64(http.StatusConflict) {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["message"] != "insufficient stock for requested quantity" {
		t.Fatalf("expected control characters replaced, got %q", body["message"])
	}
	if body["productId"] != "prod_mask" || body["available"] != float64(0) {
		t.Fatalf("expected details merged, got %v", body)
	}
	if body["trace_id"] != "trace-1" {
		t.Fatalf("expected trace id, got %v", body["trace_id"])
	}
}

func TestNewErrorDefaultsToInternal(t *testing.T) {
	err := NewError("order_error", "failed", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", err.Status)
	}
	if err.Error() != "500 order_error: failed" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}
