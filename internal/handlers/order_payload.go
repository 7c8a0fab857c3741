package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/httpx"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/pagination"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/requestctx"
	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024

	// statusClientClosedRequest reports a checkout abandoned by the caller.
	statusClientClosedRequest = 499
)

var myOrdersListOptions = pagination.Options{
	DefaultPageSize: defaultOrderPageSize,
	MaxPageSize:     maxOrderPageSize,
}

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"orderNumber,omitempty"`
	Purchaser       purchaserPayload   `json:"purchaser"`
	Items           []orderItemPayload `json:"items"`
	Currency        string             `json:"currency"`
	TotalPrice      int64              `json:"totalPrice"`
	ShippingAddress addressPayload     `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
	Status          string             `json:"status"`
	StatusLabel     string             `json:"statusLabel"`
	Locale          string             `json:"locale,omitempty"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt,omitempty"`
}

type purchaserPayload struct {
	UserID     string `json:"userId,omitempty"`
	GuestEmail string `json:"guestEmail,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Total     int64  `json:"total"`
}

type addressPayload struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func buildOrderPayload(order services.Order, locale string) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Purchaser: purchaserPayload{
			UserID:     order.Purchaser.UserID,
			GuestEmail: order.Purchaser.GuestEmail,
		},
		Items:      make([]orderItemPayload, 0, len(order.Items)),
		Currency:   order.Currency,
		TotalPrice: order.TotalPrice,
		ShippingAddress: addressPayload{
			Street:     order.ShippingAddress.Street,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		PaymentMethod: string(order.PaymentMethod),
		Status:        string(order.Status),
		StatusLabel:   order.Status.Label(locale),
		Locale:        order.Locale,
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}
	return payload
}

func buildOrderList(orders []services.Order, locale string) []orderPayload {
	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order, locale))
	}
	return items
}

func annotateOrder(ctx context.Context, order services.Order) {
	requestctx.Annotate(ctx, "order_id", order.ID)
	requestctx.Annotate(ctx, "order_number", order.OrderNumber)
	requestctx.Annotate(ctx, "order_status", string(order.Status))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var validation *services.ValidationError
	switch {
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", "checkout payload is invalid", http.StatusBadRequest).
			WithDetails(map[string]any{"details": validation.Fields}))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound).
			WithDetails(lineDetails(err)))
	case errors.Is(err, services.ErrOrderOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "insufficient stock for requested quantity", http.StatusConflict).
			WithDetails(lineDetails(err)))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently", http.StatusConflict))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_cancelled", "request was cancelled before the order completed", statusClientClosedRequest))
	case errors.Is(err, services.ErrOrderPersistence):
		httpx.WriteError(ctx, w, httpx.NewError("order_persistence_failed", "order could not be saved", http.StatusInternalServerError))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func lineDetails(err error) map[string]any {
	var target *services.LineItemError
	if !errors.As(err, &target) {
		return nil
	}
	details := map[string]any{
		"lineIndex": target.Index,
		"productId": target.ProductID,
	}
	if target.Available != nil {
		details["available"] = *target.Available
	}
	return details
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, target any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writePaginationError(ctx context.Context, w http.ResponseWriter, err error) {
	message := "invalid list parameters"
	switch {
	case errors.Is(err, pagination.ErrInvalidPageSize):
		message = "pageSize must be a positive integer"
	case errors.Is(err, pagination.ErrInvalidPageToken):
		message = "pageToken is invalid"
	case errors.Is(err, pagination.ErrInvalidOrderBy):
		message = strings.TrimPrefix(err.Error(), "pagination: ")
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_input", message, http.StatusBadRequest))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
