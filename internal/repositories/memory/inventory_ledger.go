package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

// InventoryLedger keeps stock in process. Each product has its own mutex, so checkouts for
// different products never wait on each other and no lock is held across products.
type InventoryLedger struct {
	mu       sync.RWMutex
	products map[string]*productSlot

	resMu        sync.Mutex
	reservations map[string]domain.StockReservation
}

type productSlot struct {
	mu      sync.Mutex
	product domain.Product
}

var _ repositories.InventoryLedger = (*InventoryLedger)(nil)

// NewInventoryLedger constructs an empty ledger seeded with the given products.
func NewInventoryLedger(products ...domain.Product) *InventoryLedger {
	ledger := &InventoryLedger{
		products:     make(map[string]*productSlot),
		reservations: make(map[string]domain.StockReservation),
	}
	for _, product := range products {
		_, _ = ledger.UpsertProduct(context.Background(), product)
	}
	return ledger
}

func (l *InventoryLedger) slot(productID string) (*productSlot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	slot, ok := l.products[productID]
	return slot, ok
}

// Reserve decrements stock under the product lock.
func (l *InventoryLedger) Reserve(_ context.Context, req repositories.InventoryReserveRequest) (domain.StockReservation, error) {
	reservationID := strings.TrimSpace(req.ReservationID)
	productID := strings.TrimSpace(req.ProductID)
	if reservationID == "" || productID == "" {
		return domain.StockReservation{}, errors.New("inventory reserve: reservation id and product id are required")
	}
	if req.Quantity <= 0 {
		return domain.StockReservation{}, inventoryError("inventory.reserve", repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("quantity for %s must be > 0", productID), nil))
	}

	slot, ok := l.slot(productID)
	if !ok {
		return domain.StockReservation{}, inventoryError("inventory.reserve", repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), nil))
	}

	if !l.claimReservation(reservationID) {
		return domain.StockReservation{}, inventoryError("inventory.reserve", repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", reservationID), nil))
	}

	slot.mu.Lock()
	if slot.product.Stock < req.Quantity {
		available := slot.product.Stock
		slot.mu.Unlock()
		l.dropReservation(reservationID)
		return domain.StockReservation{}, inventoryError("inventory.reserve", repositories.NewInsufficientStockError(productID, req.Quantity, available))
	}
	slot.product.Stock -= req.Quantity
	slot.product.UpdatedAt = req.Now.UTC()
	slot.product.Recalculate()
	reservation := domain.StockReservation{
		ID:          reservationID,
		ProductID:   productID,
		ProductName: slot.product.Name,
		OrderRef:    strings.TrimSpace(req.OrderRef),
		Quantity:    req.Quantity,
		UnitPrice:   slot.product.UnitPrice,
		Remaining:   slot.product.Stock,
		Status:      domain.StockReservationReserved,
		CreatedAt:   req.Now.UTC(),
	}
	slot.mu.Unlock()

	l.resMu.Lock()
	l.reservations[reservationID] = reservation
	l.resMu.Unlock()
	return reservation, nil
}

// Release returns the quantity of a reserved movement. Released movements are returned as is.
func (l *InventoryLedger) Release(_ context.Context, req repositories.InventoryReleaseRequest) (domain.StockReservation, error) {
	reservationID := strings.TrimSpace(req.ReservationID)
	if reservationID == "" {
		return domain.StockReservation{}, errors.New("inventory release: reservation id is required")
	}

	l.resMu.Lock()
	defer l.resMu.Unlock()

	reservation, ok := l.reservations[reservationID]
	if !ok || reservation.Status == "" {
		return domain.StockReservation{}, inventoryError("inventory.release", repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), nil))
	}
	if id := strings.TrimSpace(req.ProductID); id != "" && id != reservation.ProductID {
		return domain.StockReservation{}, inventoryError("inventory.release", repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation product mismatch: %s != %s", id, reservation.ProductID), nil))
	}
	if req.Quantity > 0 && req.Quantity != reservation.Quantity {
		return domain.StockReservation{}, inventoryError("inventory.release", repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation quantity mismatch: %d != %d", req.Quantity, reservation.Quantity), nil))
	}
	if reservation.Status == domain.StockReservationReleased {
		return reservation, nil
	}

	slot, ok := l.slot(reservation.ProductID)
	if !ok {
		return domain.StockReservation{}, inventoryError("inventory.release", repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", reservation.ProductID), nil))
	}
	now := req.Now.UTC()
	slot.mu.Lock()
	slot.product.Stock += reservation.Quantity
	slot.product.UpdatedAt = now
	slot.product.Recalculate()
	remaining := slot.product.Stock
	slot.mu.Unlock()

	reservation.Status = domain.StockReservationReleased
	reservation.Remaining = remaining
	reservation.Reason = strings.TrimSpace(req.Reason)
	reservation.ReleasedAt = &now
	l.reservations[reservationID] = reservation
	return reservation, nil
}

// GetProduct returns a snapshot of the product.
func (l *InventoryLedger) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	slot, ok := l.slot(productID)
	if !ok {
		return domain.Product{}, inventoryError("inventory.getProduct", repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), nil))
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.product, nil
}

// UpsertProduct creates or replaces a product.
func (l *InventoryLedger) UpsertProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		return domain.Product{}, errors.New("inventory upsert product: id is required")
	}
	if product.Stock < 0 || product.UnitPrice < 0 {
		return domain.Product{}, inventoryError("inventory.upsertProduct", repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("product %s: stock and price must be >= 0", product.ID), nil))
	}
	product.Name = strings.TrimSpace(product.Name)
	product.UpdatedAt = product.UpdatedAt.UTC()
	product.Recalculate()

	l.mu.Lock()
	slot, ok := l.products[product.ID]
	if !ok {
		l.products[product.ID] = &productSlot{product: product}
		l.mu.Unlock()
		return product, nil
	}
	l.mu.Unlock()

	slot.mu.Lock()
	slot.product = product
	slot.mu.Unlock()
	return product, nil
}

// claimReservation records an empty placeholder so a concurrent Reserve with the same id fails.
func (l *InventoryLedger) claimReservation(id string) bool {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	if _, exists := l.reservations[id]; exists {
		return false
	}
	l.reservations[id] = domain.StockReservation{ID: id}
	return true
}

func (l *InventoryLedger) dropReservation(id string) {
	l.resMu.Lock()
	delete(l.reservations, id)
	l.resMu.Unlock()
}

func inventoryError(op string, err *repositories.InventoryError) error {
	err.Op = op
	return err
}
