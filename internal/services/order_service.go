package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

const (
	orderEventStatusChanged      = "order.status.changed"
	orderEventConfirmationResent = "order.confirmation.resent"
)

var (
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Validator OrderIntakeValidator
	Factory   OrderFactory
	Status    OrderStatusMachine
	Notifier  NotificationDispatcher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	validator OrderIntakeValidator
	factory   OrderFactory
	status    OrderStatusMachine
	notifier  NotificationDispatcher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("order service: intake validator is required")
	}
	if deps.Factory == nil {
		return nil, errors.New("order service: order factory is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		validator: deps.Validator,
		factory:   deps.Factory,
		status:    deps.Status,
		notifier:  deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Checkout validates the raw cart and hands it to the factory. Authenticated callers are
// identified by UserID; everyone else checks out as a guest.
func (s *orderService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	input := cmd.Input
	input.Authenticated = userID != ""

	cart, err := s.validator.Validate(input)
	if err != nil {
		return Order{}, err
	}

	purchaser := Purchaser{GuestEmail: cart.GuestEmail}
	if userID != "" {
		purchaser = Purchaser{UserID: userID, AccountEmail: strings.TrimSpace(cmd.UserEmail)}
	}

	return s.factory.CreateOrder(ctx, CreateOrderCommand{
		Cart:      cart,
		Purchaser: purchaser,
		Locale:    cmd.Locale,
	})
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// GetPurchaserOrder hides orders that belong to someone else behind ErrOrderNotFound.
func (s *orderService) GetPurchaserOrder(ctx context.Context, purchaser Purchaser, orderID string) (Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !ownsOrder(purchaser, order) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(cmd.TargetStatus)
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	previous := order.Status
	if err := s.status.Check(previous, target); err != nil {
		return Order{}, err
	}

	update := repositories.OrderStatusUpdate{
		OrderID:   orderID,
		Status:    target,
		UpdatedAt: s.clock(),
	}
	if s.status.Strict() {
		expected := previous
		update.ExpectedStatus = &expected
	}
	updated, err := s.orders.UpdateStatus(ctx, update)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderId":        orderID,
		"previousStatus": string(previous),
		"currentStatus":  string(updated.Status),
		"actorId":        strings.TrimSpace(cmd.ActorID),
	})
	return updated, nil
}

func (s *orderService) ResendConfirmation(ctx context.Context, orderID string) (Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if s.notifier != nil {
		s.notifier.NotifyOrderConfirmed(context.WithoutCancel(ctx), order)
	}
	s.logger(ctx, orderEventConfirmationResent, map[string]any{"orderId": order.ID})
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func ownsOrder(purchaser Purchaser, order Order) bool {
	if userID := strings.TrimSpace(purchaser.UserID); userID != "" {
		return order.Purchaser.UserID == userID
	}
	if email := strings.TrimSpace(purchaser.GuestEmail); email != "" {
		return order.Purchaser.UserID == "" && strings.EqualFold(order.Purchaser.GuestEmail, email)
	}
	return false
}
