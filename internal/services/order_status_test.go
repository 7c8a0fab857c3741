package services

import (
	"errors"
	"testing"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
)

func TestOrderStatusMachineStrict(t *testing.T) {
	machine := NewOrderStatusMachine(true)
	cases := []struct {
		from, to OrderStatus
		wantErr  error
	}{
		{domain.OrderStatusPending, domain.OrderStatusConfirmed, nil},
		{domain.OrderStatusPending, domain.OrderStatusShipped, nil},
		{domain.OrderStatusProcessing, domain.OrderStatusCancelled, nil},
		{domain.OrderStatusShipped, domain.OrderStatusShipped, nil},
		{domain.OrderStatusShipped, domain.OrderStatusConfirmed, ErrOrderInvalidState},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, ErrOrderInvalidState},
		{domain.OrderStatusCancelled, domain.OrderStatusPending, ErrOrderInvalidState},
		{domain.OrderStatusDelivered, domain.OrderStatusProcessing, ErrOrderInvalidState},
		{domain.OrderStatusPending, OrderStatus("lost"), ErrOrderInvalidInput},
	}
	for _, tc := range cases {
		err := machine.Check(tc.from, tc.to)
		if tc.wantErr == nil && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.wantErr, err)
		}
	}
}

func TestOrderStatusMachineLenientAllowsAnyKnownStatus(t *testing.T) {
	machine := NewOrderStatusMachine(false)
	if err := machine.Check(domain.OrderStatusDelivered, domain.OrderStatusPending); err != nil {
		t.Fatalf("expected lenient machine to allow any move, got %v", err)
	}
	for _, raw := range []OrderStatus{"lost", "livrée", "canceled", "Shipped"} {
		if err := machine.Check(domain.OrderStatusPending, raw); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected %q rejected before parsing, got %v", raw, err)
		}
	}
}

func TestOrderStatusMachineNext(t *testing.T) {
	machine := NewOrderStatusMachine(true)
	next := machine.Next(domain.OrderStatusProcessing)
	want := []OrderStatus{domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled}
	if len(next) != len(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
	for i := range want {
		if next[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, next)
		}
	}
	if len(machine.Next(domain.OrderStatusDelivered)) != 0 {
		t.Fatalf("expected no moves out of delivered")
	}
}
