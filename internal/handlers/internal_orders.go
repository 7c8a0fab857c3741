package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/httpx"
	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

type resendConfirmationResponse struct {
	OrderID string `json:"orderId"`
	Queued  bool   `json:"queued"`
}

// InternalOrderHandlers serves service-to-service order operations behind OIDC.
type InternalOrderHandlers struct {
	orders services.OrderService
}

// NewInternalOrderHandlers constructs handlers for the /internal/orders endpoints.
func NewInternalOrderHandlers(orders services.OrderService) *InternalOrderHandlers {
	return &InternalOrderHandlers{orders: orders}
}

// Routes registers the internal order endpoints.
func (h *InternalOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderId}:resend-confirmation", h.resendConfirmation)
}

func (h *InternalOrderHandlers) resendConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.ResendConfirmation(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, resendConfirmationResponse{OrderID: order.ID, Queued: true})
}
