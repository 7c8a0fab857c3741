package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories/memory"
)

type stubOrderFactory struct {
	createFn func(context.Context, CreateOrderCommand) (Order, error)
	commands []CreateOrderCommand
}

func (s *stubOrderFactory) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	s.commands = append(s.commands, cmd)
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return Order{ID: "ord_stub", Purchaser: cmd.Purchaser}, nil
}

func checkoutInput(guestEmail string) CartInput {
	return CartInput{
		Items:           []CartItemInput{{ProductID: "prod_gloves", Quantity: 3}},
		ShippingAddress: Address{Street: "12 Rue Carnot", City: "Dakar", PostalCode: "10200", Country: "SN"},
		PaymentMethod:   "cash",
		GuestEmail:      guestEmail,
	}
}

func TestOrderServiceCheckoutUsesAccountForAuthenticatedCaller(t *testing.T) {
	factory := &stubOrderFactory{}
	svc, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepository{}, Validator: newTestValidator(t), Factory: factory})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.Checkout(context.Background(), CheckoutCommand{Input: checkoutInput(""), UserID: " user_1 ", UserEmail: "awa@example.com", Locale: "fr"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if len(factory.commands) != 1 {
		t.Fatalf("expected factory call")
	}
	cmd := factory.commands[0]
	if cmd.Purchaser.UserID != "user_1" || cmd.Purchaser.AccountEmail != "awa@example.com" || cmd.Purchaser.GuestEmail != "" {
		t.Fatalf("unexpected purchaser %+v", cmd.Purchaser)
	}
	if cmd.Locale != "fr" || cmd.Cart.PaymentMethod != domain.PaymentMethodCash {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestOrderServiceCheckoutGuestRequiresEmail(t *testing.T) {
	factory := &stubOrderFactory{}
	svc, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepository{}, Validator: newTestValidator(t), Factory: factory})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.Checkout(context.Background(), CheckoutCommand{Input: checkoutInput("")})
	var validation *ValidationError
	if !errors.As(err, &validation) || !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(factory.commands) != 0 {
		t.Fatalf("expected no factory call on invalid cart")
	}

	if _, err := svc.Checkout(context.Background(), CheckoutCommand{Input: checkoutInput("Guest@Example.com")}); err != nil {
		t.Fatalf("guest checkout: %v", err)
	}
	if got := factory.commands[0].Purchaser; got.UserID != "" || got.GuestEmail != "guest@example.com" {
		t.Fatalf("unexpected guest purchaser %+v", got)
	}
}

func TestOrderServiceCheckoutPropagatesFactoryErrors(t *testing.T) {
	factory := &stubOrderFactory{createFn: func(context.Context, CreateOrderCommand) (Order, error) {
		return Order{}, &LineItemError{Index: 0, ProductID: "prod_gloves", Err: ErrOrderOutOfStock}
	}}
	svc, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepository{}, Validator: newTestValidator(t), Factory: factory})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	_, err = svc.Checkout(context.Background(), CheckoutCommand{Input: checkoutInput(""), UserID: "user_1"})
	if !errors.Is(err, ErrOrderOutOfStock) {
		t.Fatalf("expected out of stock, got %v", err)
	}
}

func seededOrderService(t *testing.T, strict bool, orders ...domain.Order) (OrderService, *memory.OrderRepository, *recordingNotifier, *recordingLogger) {
	t.Helper()
	repo := memory.NewOrderRepository()
	for _, order := range orders {
		if err := repo.Insert(context.Background(), order); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	notifier := &recordingNotifier{}
	logger := &recordingLogger{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    repo,
		Validator: newTestValidator(t),
		Factory:   &stubOrderFactory{},
		Status:    NewOrderStatusMachine(strict),
		Notifier:  notifier,
		Clock:     func() time.Time { return factoryNow.Add(time.Hour) },
		Logger:    logger.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc, repo, notifier, logger
}

func sampleOrder(id string, purchaser Purchaser, status OrderStatus) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: "SMT-2026-000001",
		Purchaser:   purchaser,
		Items:       []domain.OrderLineItem{{ProductID: "prod_gloves", Name: "Gants", Quantity: 1, UnitPrice: 1000, Total: 1000}},
		Currency:    "XOF",
		TotalPrice:  1000,
		Status:      status,
		CreatedAt:   factoryNow,
		UpdatedAt:   factoryNow,
	}
}

func TestOrderServiceGetPurchaserOrderHidesForeignOrders(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := seededOrderService(t, true,
		sampleOrder("ord_user", Purchaser{UserID: "user_1"}, domain.OrderStatusPending),
		sampleOrder("ord_guest", Purchaser{GuestEmail: "guest@example.com"}, domain.OrderStatusPending),
	)

	if _, err := svc.GetPurchaserOrder(ctx, Purchaser{UserID: "user_1"}, "ord_user"); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := svc.GetPurchaserOrder(ctx, Purchaser{UserID: "user_2"}, "ord_user"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
	if _, err := svc.GetPurchaserOrder(ctx, Purchaser{GuestEmail: "GUEST@example.com"}, "ord_guest"); err != nil {
		t.Fatalf("guest lookup: %v", err)
	}
	if _, err := svc.GetPurchaserOrder(ctx, Purchaser{UserID: "user_1"}, "ord_guest"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for guest order, got %v", err)
	}
	if _, err := svc.GetOrder(ctx, "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceStrictTransitions(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, logger := seededOrderService(t, true, sampleOrder("ord_1", Purchaser{UserID: "user_1"}, domain.OrderStatusPending))

	updated, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: "Expédiée", ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", updated.Status)
	}
	if !updated.UpdatedAt.Equal(factoryNow.Add(time.Hour)) {
		t.Fatalf("expected updatedAt refreshed, got %s", updated.UpdatedAt)
	}
	entry, ok := logger.find(orderEventStatusChanged)
	if !ok || entry.fields["previousStatus"] != "pending" || entry.fields["actorId"] != "staff_1" {
		t.Fatalf("expected status change log, got %+v", entry)
	}

	if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: "confirmed"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected backwards move rejected, got %v", err)
	}
	if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: "teleported"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected unknown status rejected, got %v", err)
	}
	if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: "delivered"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: "cancelled"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected terminal status to be final, got %v", err)
	}

	stored, err := repo.FindByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", stored.Status)
	}
}

func TestOrderServiceLenientTransitionsAllowAnyKnownStatus(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := seededOrderService(t, false, sampleOrder("ord_1", Purchaser{UserID: "user_1"}, domain.OrderStatusDelivered))

	updated, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: "pending"})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", updated.Status)
	}
	if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: "unknown"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected unknown status rejected in lenient mode, got %v", err)
	}
}

func TestOrderServiceStrictTransitionDetectsConcurrentChange(t *testing.T) {
	orders := &stubOrderRepository{
		findFn: func(context.Context, string) (domain.Order, error) {
			return sampleOrder("ord_1", Purchaser{UserID: "user_1"}, domain.OrderStatusPending), nil
		},
		updateStatusFn: func(_ context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
			return domain.Order{}, repositories.NewConflictError("orders.update_status", errors.New("status changed"))
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    orders,
		Validator: newTestValidator(t),
		Factory:   &stubOrderFactory{},
		Status:    NewOrderStatusMachine(true),
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: "confirmed"})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(orders.updates) != 1 || orders.updates[0].ExpectedStatus == nil || *orders.updates[0].ExpectedStatus != domain.OrderStatusPending {
		t.Fatalf("expected compare-and-set on previous status, got %+v", orders.updates)
	}
}

func TestOrderServiceResendConfirmation(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier, logger := seededOrderService(t, true, sampleOrder("ord_1", Purchaser{GuestEmail: "guest@example.com"}, domain.OrderStatusConfirmed))

	order, err := svc.ResendConfirmation(ctx, "ord_1")
	if err != nil {
		t.Fatalf("ResendConfirmation: %v", err)
	}
	if order.ID != "ord_1" || len(notifier.orders) != 1 {
		t.Fatalf("expected confirmation scheduled, got %+v", notifier.orders)
	}
	if _, ok := logger.find(orderEventConfirmationResent); !ok {
		t.Fatalf("expected resend log entry")
	}
	if _, err := svc.ResendConfirmation(ctx, "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
