package services

import (
	"context"
	"time"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Product            = domain.Product
	StockReservation   = domain.StockReservation
	Order              = domain.Order
	OrderLineItem      = domain.OrderLineItem
	OrderStatus        = domain.OrderStatus
	Address            = domain.Address
	Purchaser          = domain.Purchaser
	PaymentMethod      = domain.PaymentMethod
	SystemHealthReport = domain.SystemHealthReport
)

// InventoryService performs atomic per-product reservations and their compensation.
type InventoryService interface {
	Reserve(ctx context.Context, cmd InventoryReserveCommand) (StockReservation, error)
	Release(ctx context.Context, cmd InventoryReleaseCommand) (StockReservation, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// OrderIntakeValidator turns raw checkout input into a ValidCart without side effects.
type OrderIntakeValidator interface {
	Validate(input CartInput) (ValidCart, error)
}

// OrderFactory turns a validated cart into a committed order.
type OrderFactory interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
}

// OrderService is the entry point used by the HTTP layer for checkout, queries and admin
// status updates.
type OrderService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetPurchaserOrder(ctx context.Context, purchaser Purchaser, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	ResendConfirmation(ctx context.Context, orderID string) (Order, error)
}

// NotificationDispatcher hands confirmed orders to background workers. Enqueueing never
// blocks the caller and never reports delivery failures.
type NotificationDispatcher interface {
	NotifyOrderConfirmed(ctx context.Context, order Order)
}

// OrderNotificationSender delivers a rendered confirmation through a transport.
type OrderNotificationSender interface {
	SendOrderConfirmation(ctx context.Context, confirmation OrderConfirmation) error
}

// CounterService issues human-facing order numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService reports readiness: dependency checks plus the order pipeline's own state.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// NotificationQueueStats is a point-in-time view of the confirmation dispatcher.
type NotificationQueueStats struct {
	Depth    int
	Capacity int
	Dropped  int64
	Failed   int64
}

// NotificationQueue exposes dispatcher backlog to readiness reporting.
type NotificationQueue interface {
	QueueStats() NotificationQueueStats
}

// Command and DTO definitions ------------------------------------------------

type OrderListFilter = repositories.OrderListFilter

type InventoryReserveCommand struct {
	ReservationID string
	ProductID     string
	Quantity      int
	OrderID       string
}

type InventoryReleaseCommand struct {
	ReservationID string
	ProductID     string
	Quantity      int
	Reason        string
}

// CartInput is the checkout payload as received from the client. Price fields are accepted
// for compatibility and never read.
type CartInput struct {
	Items           []CartItemInput
	ShippingAddress Address
	PaymentMethod   string
	GuestEmail      string
	Authenticated   bool
}

type CartItemInput struct {
	ProductID string
	Quantity  int
	Price     *float64
}

// ValidCart is produced only by the intake validator.
type ValidCart struct {
	Items           []CartLine
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	GuestEmail      string
}

type CartLine struct {
	ProductID string
	Quantity  int
}

type CreateOrderCommand struct {
	Cart      ValidCart
	Purchaser Purchaser
	Locale    string
}

type CheckoutCommand struct {
	Input     CartInput
	UserID    string
	UserEmail string
	Locale    string
}

type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus string
	ActorID      string
}

// OrderConfirmation is the transport-neutral confirmation message built from a committed order.
type OrderConfirmation struct {
	OrderID         string                   `json:"orderId"`
	OrderNumber     string                   `json:"orderNumber"`
	Recipient       string                   `json:"recipient"`
	Locale          string                   `json:"locale"`
	Subject         string                   `json:"subject"`
	Status          string                   `json:"status"`
	StatusLabel     string                   `json:"statusLabel"`
	Currency        string                   `json:"currency"`
	Total           int64                    `json:"total"`
	TotalDisplay    string                   `json:"totalDisplay"`
	PaymentMethod   string                   `json:"paymentMethod"`
	Items           []OrderConfirmationItem  `json:"items"`
	ShippingAddress OrderConfirmationAddress `json:"shippingAddress"`
	TextBody        string                   `json:"textBody"`
	HTMLBody        string                   `json:"htmlBody"`
	PlacedAt        time.Time                `json:"placedAt"`
}

type OrderConfirmationItem struct {
	ProductID        string `json:"productId"`
	Name             string `json:"name"`
	Quantity         int    `json:"quantity"`
	UnitPrice        int64  `json:"unitPrice"`
	Total            int64  `json:"total"`
	UnitPriceDisplay string `json:"unitPriceDisplay"`
	TotalDisplay     string `json:"totalDisplay"`
}

type OrderConfirmationAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}
