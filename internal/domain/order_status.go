package domain

import (
	"slices"
	"strings"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of every committed order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the shop accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was abandoned before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStatusSequence = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
}

var orderStatusLabels = map[string]map[OrderStatus]string{
	"fr": {
		OrderStatusPending:    "En attente",
		OrderStatusConfirmed:  "Confirmée",
		OrderStatusProcessing: "En cours",
		OrderStatusShipped:    "Expédiée",
		OrderStatusDelivered:  "Livrée",
		OrderStatusCancelled:  "Annulée",
	},
	"en": {
		OrderStatusPending:    "Pending",
		OrderStatusConfirmed:  "Confirmed",
		OrderStatusProcessing: "Processing",
		OrderStatusShipped:    "Shipped",
		OrderStatusDelivered:  "Delivered",
		OrderStatusCancelled:  "Cancelled",
	},
}

// OrderStatuses returns every status in lifecycle order, cancelled last.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, 0, len(orderStatusSequence)+1)
	out = append(out, orderStatusSequence...)
	return append(out, OrderStatusCancelled)
}

// ParseOrderStatus accepts machine codes and the human labels of any supported locale.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	lowered := strings.ToLower(trimmed)
	for _, status := range OrderStatuses() {
		if string(status) == lowered {
			return status, true
		}
	}
	if lowered == "canceled" {
		return OrderStatusCancelled, true
	}
	for _, labels := range orderStatusLabels {
		for status, label := range labels {
			if strings.EqualFold(label, trimmed) {
				return status, true
			}
		}
	}
	return "", false
}

// Valid reports whether s is exactly one of the canonical status codes. Labels and aliases
// must go through ParseOrderStatus first.
func (s OrderStatus) Valid() bool {
	return slices.Contains(OrderStatuses(), s)
}

// IsTerminal reports whether no further transitions are allowed in strict mode.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Rank returns the position of the status in the forward lifecycle, or -1 for cancelled
// and unknown values.
func (s OrderStatus) Rank() int {
	for i, candidate := range orderStatusSequence {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Label renders the human-facing name of the status. Unknown locales fall back to French.
func (s OrderStatus) Label(locale string) string {
	labels, ok := orderStatusLabels[strings.ToLower(strings.TrimSpace(locale))]
	if !ok {
		labels = orderStatusLabels["fr"]
	}
	if label, ok := labels[s]; ok {
		return label
	}
	return string(s)
}
