package handlers

import (
	"fmt"
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

var adminOrderSortFields = map[string]repositories.OrderSortField{
	"createdAt":  repositories.OrderSortCreatedAt,
	"created_at": repositories.OrderSortCreatedAt,
	"totalPrice": repositories.OrderSortTotalPrice,
	"total":      repositories.OrderSortTotalPrice,
}

var adminListOptions = pagination.Options{
	DefaultPageSize:    defaultOrderPageSize,
	MaxPageSize:        maxOrderPageSize,
	AllowedOrderFields: []string{"createdAt", "created_at", "totalPrice", "total"},
}

type adminStatusRequest struct {
	Status string `json:"status"`
}

// AdminOrderHandlers serves the operator order console.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs handlers for the /admin/orders endpoints.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the admin order endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderId}", h.getOrder)
	r.Patch("/orders/{orderId}/status", h.updateStatus)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, adminListOptions)
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}
	sortBy, sortOrder, err := adminSort(params.Orders)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
		return
	}
	statuses, err := parseStatusFilter(r.URL.Query()["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Status:    statuses,
		SortBy:    sortBy,
		SortOrder: sortOrder,
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

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, requestLocale(r))})
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req adminStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", "status is required", http.StatusBadRequest))
		return
	}

	actorID := ""
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		actorID = identity.UID
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      chi.URLParam(r, "orderId"),
		TargetStatus: req.Status,
		ActorID:      actorID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	annotateOrder(ctx, order)
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, requestLocale(r))})
}

// adminSort maps a single order_by clause onto the repository sort. The default is newest
// first.
func adminSort(orders []pagination.Order) (repositories.OrderSortField, domain.SortOrder, error) {
	switch len(orders) {
	case 0:
		return repositories.OrderSortCreatedAt, domain.SortDesc, nil
	case 1:
	default:
		return "", "", fmt.Errorf("order_by accepts a single field")
	}
	order := domain.SortAsc
	if orders[0].Desc {
		order = domain.SortDesc
	}
	return adminOrderSortFields[orders[0].Field], order, nil
}

// parseStatusFilter accepts repeated and comma separated status values.
func parseStatusFilter(values []string) ([]domain.OrderStatus, error) {
	var statuses []domain.OrderStatus
	seen := make(map[domain.OrderStatus]struct{})
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := domain.ParseOrderStatus(part)
			if !ok {
				return nil, fmt.Errorf("unknown status %q", part)
			}
			if _, dup := seen[status]; dup {
				continue
			}
			seen[status] = struct{}{}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}
