package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

const (
	orderEventCreated                = "order.created"
	orderEventCheckoutFailed         = "order.checkout.failed"
	orderEventPersistenceFailed      = "order.persistence.failed"
	orderEventReconciliationRequired = "order.reconciliation_required"

	orderIDPrefix = "ord_"

	releaseReasonCheckoutFailed    = "checkout_failed"
	releaseReasonPersistenceFailed = "persistence_failed"
)

var (
	// ErrOrderProductNotFound indicates a cart line references an unknown product.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderOutOfStock indicates a cart line asks for more units than are available.
	ErrOrderOutOfStock = errors.New("order: out of stock")
	// ErrOrderPersistence indicates the order could not be stored after stock was reserved.
	ErrOrderPersistence = errors.New("order: persistence failed")
)

// LineItemError identifies the cart line that stopped a checkout.
type LineItemError struct {
	Index     int
	ProductID string
	Available *int
	Err       error
}

func (e *LineItemError) Error() string {
	return fmt.Sprintf("line %d (%s): %v", e.Index, e.ProductID, e.Err)
}

func (e *LineItemError) Unwrap() error {
	return e.Err
}

// OrderFactoryDeps bundles collaborators required to construct the order factory.
type OrderFactoryDeps struct {
	Inventory   InventoryService
	Orders      repositories.OrderRepository
	Counters    CounterService
	Notifier    NotificationDispatcher
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderFactory struct {
	inventory InventoryService
	orders    repositories.OrderRepository
	counters  CounterService
	notifier  NotificationDispatcher
	currency  string
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderFactory wires dependencies into a concrete OrderFactory implementation.
func NewOrderFactory(deps OrderFactoryDeps) (OrderFactory, error) {
	if deps.Inventory == nil {
		return nil, errors.New("order factory: inventory service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order factory: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order factory: counter service is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		return nil, errors.New("order factory: currency is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderFactory{
		inventory: deps.Inventory,
		orders:    deps.Orders,
		counters:  deps.Counters,
		notifier:  deps.Notifier,
		currency:  currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder reserves every line in cart order, prices it from the ledger, persists the
// order and schedules the confirmation. Any failure releases the reservations taken so far.
func (f *orderFactory) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if len(cmd.Cart.Items) == 0 {
		return Order{}, fmt.Errorf("%w: cart must contain at least one item", ErrOrderInvalidInput)
	}
	if !cmd.Purchaser.Valid() {
		return Order{}, fmt.Errorf("%w: exactly one of user id and guest email is required", ErrOrderInvalidInput)
	}

	orderID := orderIDPrefix + f.newID()
	reserved := make([]StockReservation, 0, len(cmd.Cart.Items))
	items := make([]OrderLineItem, 0, len(cmd.Cart.Items))
	var total int64

	for i, line := range cmd.Cart.Items {
		reservation, err := f.inventory.Reserve(ctx, InventoryReserveCommand{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			OrderID:   orderID,
		})
		if err != nil {
			f.compensate(ctx, orderID, reserved, releaseReasonCheckoutFailed)
			lineErr := f.lineError(ctx, i, line.ProductID, err)
			f.logger(ctx, orderEventCheckoutFailed, map[string]any{
				"orderId":   orderID,
				"line":      i,
				"productId": line.ProductID,
				"error":     lineErr.Error(),
			})
			return Order{}, lineErr
		}
		reserved = append(reserved, reservation)

		lineTotal, ok := multiplyPrice(reservation.UnitPrice, line.Quantity)
		if ok {
			total, ok = addPrice(total, lineTotal)
		}
		if !ok {
			f.compensate(ctx, orderID, reserved, releaseReasonCheckoutFailed)
			return Order{}, &LineItemError{Index: i, ProductID: line.ProductID,
				Err: fmt.Errorf("%w: order total overflows", ErrOrderInvalidInput)}
		}
		items = append(items, OrderLineItem{
			ProductID: reservation.ProductID,
			Name:      reservation.ProductName,
			Quantity:  line.Quantity,
			UnitPrice: reservation.UnitPrice,
			Total:     lineTotal,
		})
	}

	number, err := f.counters.NextOrderNumber(ctx)
	if err != nil {
		f.compensate(ctx, orderID, reserved, releaseReasonPersistenceFailed)
		if cause := interrupted(ctx, err); cause != nil {
			return Order{}, fmt.Errorf("order number: %w", cause)
		}
		return Order{}, fmt.Errorf("%w: order number: %w", ErrOrderPersistence, err)
	}

	now := f.clock()
	purchaser := cmd.Purchaser
	purchaser.GuestEmail = strings.ToLower(strings.TrimSpace(purchaser.GuestEmail))
	order := Order{
		ID:              orderID,
		OrderNumber:     number,
		Purchaser:       purchaser,
		Items:           items,
		Currency:        f.currency,
		TotalPrice:      total,
		ShippingAddress: cmd.Cart.ShippingAddress,
		PaymentMethod:   cmd.Cart.PaymentMethod,
		Status:          domain.OrderStatusPending,
		Locale:          strings.TrimSpace(cmd.Locale),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := f.orders.Insert(ctx, order); err != nil {
		f.logger(ctx, orderEventPersistenceFailed, map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
		f.compensate(ctx, orderID, reserved, releaseReasonPersistenceFailed)
		if cause := interrupted(ctx, err); cause != nil {
			return Order{}, fmt.Errorf("insert order: %w", cause)
		}
		return Order{}, fmt.Errorf("%w: %w", ErrOrderPersistence, err)
	}

	f.logger(ctx, orderEventCreated, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"items":       len(order.Items),
		"total":       order.TotalPrice,
		"currency":    order.Currency,
		"guest":       order.Purchaser.IsGuest(),
	})

	if f.notifier != nil {
		f.notifier.NotifyOrderConfirmed(context.WithoutCancel(ctx), order)
	}
	return order, nil
}

// compensate releases reservations newest first. It ignores cancellation of the request
// context so an abandoned checkout still returns its stock.
func (f *orderFactory) compensate(ctx context.Context, orderID string, reserved []StockReservation, reason string) {
	if len(reserved) == 0 {
		return
	}
	releaseCtx := context.WithoutCancel(ctx)
	var failed []string
	for i := len(reserved) - 1; i >= 0; i-- {
		reservation := reserved[i]
		if _, err := f.inventory.Release(releaseCtx, InventoryReleaseCommand{
			ReservationID: reservation.ID,
			ProductID:     reservation.ProductID,
			Quantity:      reservation.Quantity,
			Reason:        reason,
		}); err != nil {
			failed = append(failed, reservation.ID)
		}
	}
	if len(failed) > 0 {
		f.logger(ctx, orderEventReconciliationRequired, map[string]any{
			"orderId":        orderID,
			"reason":         reason,
			"reservationIds": failed,
		})
	}
}

func (f *orderFactory) lineError(ctx context.Context, index int, productID string, err error) error {
	lineErr := &LineItemError{Index: index, ProductID: productID}
	var invErr *repositories.InventoryError
	cause := interrupted(ctx, err)
	switch {
	case errors.Is(err, ErrInventoryProductNotFound):
		lineErr.Err = fmt.Errorf("%w: %s", ErrOrderProductNotFound, productID)
	case errors.Is(err, ErrInventoryInsufficientStock):
		lineErr.Err = fmt.Errorf("%w: %s", ErrOrderOutOfStock, productID)
		if errors.As(err, &invErr) {
			available := invErr.Available
			lineErr.Available = &available
		}
	case errors.Is(err, ErrInventoryInvalidInput):
		lineErr.Err = fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
	case cause != nil:
		lineErr.Err = cause
	default:
		lineErr.Err = fmt.Errorf("%w: %w", ErrOrderPersistence, err)
	}
	return lineErr
}

// interrupted returns the request cancellation or deadline behind err, or nil when the
// failure came from the store itself.
func interrupted(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return nil
}

func multiplyPrice(unitPrice int64, quantity int) (int64, bool) {
	if unitPrice < 0 || quantity < 0 {
		return 0, false
	}
	if quantity != 0 && unitPrice > math.MaxInt64/int64(quantity) {
		return 0, false
	}
	return unitPrice * int64(quantity), true
}

func addPrice(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
