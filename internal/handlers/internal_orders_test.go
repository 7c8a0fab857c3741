package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

func TestInternalOrderHandlersResendConfirmation(t *testing.T) {
	var resent string
	svc := &stubOrderService{
		resendFn: func(_ context.Context, orderID string) (services.Order, error) {
			resent = orderID
			return sampleOrder(orderID, services.Purchaser{UserID: "uid-awa"}), nil
		},
	}
	router := NewRouter(WithInternalRoutes(NewInternalOrderHandlers(svc).Routes))

	rr := doJSON(t, router, http.MethodPost, "/api/v1/internal/orders/ord_01:resend-confirmation", "", nil)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if resent != "ord_01" {
		t.Fatalf("expected ord_01 to be resent, got %q", resent)
	}
	body := decodeBody(t, rr)
	if body["orderId"] != "ord_01" || body["queued"] != true {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestInternalOrderHandlersResendUnknownOrder(t *testing.T) {
	router := NewRouter(WithInternalRoutes(NewInternalOrderHandlers(&stubOrderService{}).Routes))

	rr := doJSON(t, router, http.MethodPost, "/api/v1/internal/orders/ord_missing:resend-confirmation", "", nil)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestInternalRoutesApplyGroupMiddleware(t *testing.T) {
	denied := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	router := NewRouter(
		WithInternalRoutes(NewInternalOrderHandlers(&stubOrderService{}).Routes),
		WithInternalMiddlewares(denied),
	)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/internal/orders/ord_01:resend-confirmation", "", nil)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 from group middleware, got %d", rr.Code)
	}
}
