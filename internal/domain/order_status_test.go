package domain

import "testing"

func TestOrderStatusValidAcceptsCanonicalCodesOnly(t *testing.T) {
	for _, status := range OrderStatuses() {
		if !status.Valid() {
			t.Fatalf("expected %q to be valid", status)
		}
	}
	for _, raw := range []OrderStatus{"", "livrée", "Livrée", "canceled", "en attente", "PENDING", " shipped"} {
		if raw.Valid() {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestParseOrderStatusNormalisesLabels(t *testing.T) {
	cases := map[string]OrderStatus{
		"livrée":     OrderStatusDelivered,
		"En attente": OrderStatusPending,
		"canceled":   OrderStatusCancelled,
		" SHIPPED ":  OrderStatusShipped,
	}
	for raw, want := range cases {
		got, ok := ParseOrderStatus(raw)
		if !ok || got != want {
			t.Fatalf("ParseOrderStatus(%q) = %q, %v; want %q", raw, got, ok, want)
		}
		if !got.Valid() {
			t.Fatalf("parsed status %q should be valid", got)
		}
	}
}
