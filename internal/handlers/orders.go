package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/auth"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/httpx"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/pagination"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

type checkoutRequest struct {
	Items           []checkoutItemRequest `json:"items"`
	ShippingAddress addressRequest        `json:"shippingAddress"`
	PaymentMethod   string                `json:"paymentMethod"`
	GuestEmail      string                `json:"guestEmail"`
	Email           string                `json:"email"`
}

// checkoutItemRequest also accepts the storefront's legacy "product" key. Client prices are
// ignored whatever their JSON type.
type checkoutItemRequest struct {
	ProductID string          `json:"productId"`
	Product   string          `json:"product"`
	Quantity  int             `json:"quantity"`
	Price     json.RawMessage `json:"price"`
}

// addressRequest accepts the storefront's legacy "postal" key next to "postalCode".
type addressRequest struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Postal     string `json:"postal"`
	Country    string `json:"country"`
}

func (a addressRequest) postalCode() string {
	if strings.TrimSpace(a.PostalCode) != "" {
		return a.PostalCode
	}
	return a.Postal
}

func (req checkoutRequest) toInput() services.CartInput {
	input := services.CartInput{
		Items: make([]services.CartItemInput, 0, len(req.Items)),
		ShippingAddress: services.Address{
			Street:     req.ShippingAddress.Street,
			City:       req.ShippingAddress.City,
			PostalCode: req.ShippingAddress.postalCode(),
			Country:    req.ShippingAddress.Country,
		},
		PaymentMethod: req.PaymentMethod,
		GuestEmail:    req.GuestEmail,
	}
	if strings.TrimSpace(input.GuestEmail) == "" {
		input.GuestEmail = req.Email
	}
	for _, item := range req.Items {
		productID := item.ProductID
		if strings.TrimSpace(productID) == "" {
			productID = item.Product
		}
		input.Items = append(input.Items, services.CartItemInput{
			ProductID: productID,
			Quantity:  item.Quantity,
		})
	}
	return input
}

// OrderHandlers serves shopper checkout and order history endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithCheckoutIdempotency guards both checkout routes with the given middleware.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	checkout := r
	if h.idempotency != nil {
		checkout = r.With(h.idempotency)
	}
	checkout.Post("/guest", h.guestCheckout)

	r.Group(func(authed chi.Router) {
		if h.authn != nil {
			authed.Use(h.authn.RequireFirebaseAuth())
		}
		if h.idempotency != nil {
			authed.With(h.idempotency).Post("/", h.checkout)
		} else {
			authed.Post("/", h.checkout)
		}
		authed.Get("/my", h.listMyOrders)
		authed.Get("/my/{orderId}", h.getMyOrder)
	})
}

func (h *OrderHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	locale := requestLocale(r)
	order, err := h.orders.Checkout(ctx, services.CheckoutCommand{
		Input:     req.toInput(),
		UserID:    identity.UID,
		UserEmail: identity.Email,
		Locale:    locale,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	annotateOrder(ctx, order)
	w.Header().Set("Location", "/api/v1/orders/my/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order, locale)})
}

func (h *OrderHandlers) guestCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	locale := requestLocale(r)
	order, err := h.orders.Checkout(ctx, services.CheckoutCommand{
		Input:  req.toInput(),
		Locale: locale,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	annotateOrder(ctx, order)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order, locale)})
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	params, err := pagination.FromRequest(r, myOrdersListOptions)
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:    identity.UID,
		SortBy:    repositories.OrderSortCreatedAt,
		SortOrder: domain.SortDesc,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         buildOrderList(page.Items, requestLocale(r)),
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getMyOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetPurchaserOrder(ctx, services.Purchaser{UserID: identity.UID}, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, requestLocale(r))})
}
