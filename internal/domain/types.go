package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is the catalog view consumed by the inventory ledger. Prices are stored in the
// smallest currency unit.
type Product struct {
	ID        string
	Name      string
	UnitPrice int64
	Stock     int
	InStock   bool
	UpdatedAt time.Time
}

// Recalculate derives the purchasable flag from the remaining stock.
func (p *Product) Recalculate() {
	if p.Stock < 0 {
		p.Stock = 0
	}
	p.InStock = p.Stock > 0
}

// StockReservationStatus enumerates the lifecycle of a single stock movement.
type StockReservationStatus string

const (
	// StockReservationReserved marks a decrement that is still held by a checkout.
	StockReservationReserved StockReservationStatus = "reserved"
	// StockReservationReleased marks a decrement that was returned to the ledger.
	StockReservationReleased StockReservationStatus = "released"
)

// StockReservation records one atomic decrement performed on behalf of a checkout.
type StockReservation struct {
	ID          string
	ProductID   string
	ProductName string
	OrderRef    string
	Quantity    int
	UnitPrice   int64
	Remaining   int
	Status      StockReservationStatus
	Reason      string
	CreatedAt   time.Time
	ReleasedAt  *time.Time
}

// Address captures a shipping destination. All fields are required.
type Address struct {
	Street     string
	City       string
	PostalCode string
	Country    string
}

// Purchaser identifies who placed an order. Exactly one of UserID and GuestEmail is set.
type Purchaser struct {
	UserID       string
	AccountEmail string
	GuestEmail   string
}

// IsGuest reports whether the order was placed without an account.
func (p Purchaser) IsGuest() bool {
	return strings.TrimSpace(p.UserID) == "" && strings.TrimSpace(p.GuestEmail) != ""
}

// Valid reports whether exactly one purchaser reference is present.
func (p Purchaser) Valid() bool {
	hasUser := strings.TrimSpace(p.UserID) != ""
	hasGuest := strings.TrimSpace(p.GuestEmail) != ""
	return hasUser != hasGuest
}

// ContactEmail resolves the address confirmations are sent to.
func (p Purchaser) ContactEmail() string {
	if email := strings.TrimSpace(p.AccountEmail); email != "" {
		return email
	}
	return strings.TrimSpace(p.GuestEmail)
}

// PaymentMethod is the settlement label recorded on an order.
type PaymentMethod string

const (
	// PaymentMethodCard records card settlement handled outside the platform.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodTransfer records a bank transfer.
	PaymentMethodTransfer PaymentMethod = "transfer"
	// PaymentMethodCash records cash on delivery.
	PaymentMethodCash PaymentMethod = "cash"
)

var paymentMethodAliases = map[string]PaymentMethod{
	"card":     PaymentMethodCard,
	"carte":    PaymentMethodCard,
	"transfer": PaymentMethodTransfer,
	"virement": PaymentMethodTransfer,
	"cash":     PaymentMethodCash,
	"especes":  PaymentMethodCash,
	"espèces":  PaymentMethodCash,
}

// PaymentMethods lists every supported payment method.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{PaymentMethodCard, PaymentMethodTransfer, PaymentMethodCash}
}

// ParsePaymentMethod accepts canonical codes as well as the storefront's French labels.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	method, ok := paymentMethodAliases[strings.ToLower(strings.TrimSpace(raw))]
	return method, ok
}

// OrderLineItem is an immutable product/quantity/price triple captured at checkout.
type OrderLineItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
}

// Order is the root aggregate persisted once per successful checkout.
type Order struct {
	ID              string
	OrderNumber     string
	Purchaser       Purchaser
	Items           []OrderLineItem
	Currency        string
	TotalPrice      int64
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	Status          OrderStatus
	Locale          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ComputeTotal sums the captured line totals.
func (o Order) ComputeTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}
