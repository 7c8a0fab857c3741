package repositories

import (
	"context"
	"time"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Inventory() InventoryLedger
	Orders() OrderRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InventoryLedger owns product stock. Reserve and Release are atomic per product: the
// availability check and the decrement happen in one step on the backend.
type InventoryLedger interface {
	Reserve(ctx context.Context, req InventoryReserveRequest) (domain.StockReservation, error)
	Release(ctx context.Context, req InventoryReleaseRequest) (domain.StockReservation, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error)
}

// InventoryReserveRequest decrements Quantity units of ProductID and records the movement
// under ReservationID. Reusing a reservation id fails.
type InventoryReserveRequest struct {
	ReservationID string
	ProductID     string
	Quantity      int
	OrderRef      string
	Now           time.Time
}

// InventoryReleaseRequest returns a previously reserved quantity. Releasing an already
// released reservation is a no-op that returns the stored movement.
type InventoryReleaseRequest struct {
	ReservationID string
	ProductID     string
	Quantity      int
	Reason        string
	Now           time.Time
}

// OrderRepository persists committed orders. Everything except the status is write-once.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) (domain.Order, error)
}

// OrderSortField names the fields orders can be listed by.
type OrderSortField string

const (
	// OrderSortCreatedAt lists orders by creation time.
	OrderSortCreatedAt OrderSortField = "createdAt"
	// OrderSortTotalPrice lists orders by their captured total.
	OrderSortTotalPrice OrderSortField = "totalPrice"
)

// OrderListFilter narrows order listings. UserID and GuestEmail select a purchaser; when
// both are empty every order is listed.
type OrderListFilter struct {
	UserID     string
	GuestEmail string
	Status     []domain.OrderStatus
	SortBy     OrderSortField
	SortOrder  domain.SortOrder
	Pagination domain.Pagination
}

// OrderStatusUpdate changes the status of a committed order. When ExpectedStatus is set the
// update only applies if the stored status still matches it.
type OrderStatusUpdate struct {
	OrderID        string
	Status         domain.OrderStatus
	ExpectedStatus *domain.OrderStatus
	UpdatedAt      time.Time
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig adjusts counter behaviour.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
