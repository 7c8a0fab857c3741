package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

const (
	eventInventoryReserve       = "inventory.reserve"
	eventInventoryReserveFailed = "inventory.reserve.failed"
	eventInventoryRelease       = "inventory.release"

	reservationIDPrefix = "sr_"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryProductNotFound indicates the product does not exist in the ledger.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryReservationNotFound indicates the reservation could not be located.
	ErrInventoryReservationNotFound = errors.New("inventory: reservation not found")
	// ErrInventoryInvalidState indicates the reservation cannot transition due to its state.
	ErrInventoryInvalidState = errors.New("inventory: reservation state invalid")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Ledger      repositories.InventoryLedger
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	ledger repositories.InventoryLedger
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("inventory service: inventory ledger is required")
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

	return &inventoryService{
		ledger: deps.Ledger,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *inventoryService) Reserve(ctx context.Context, cmd InventoryReserveCommand) (StockReservation, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockReservation{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return StockReservation{}, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
	}

	reservationID := s.ensureReservationID(cmd.ReservationID)
	reservation, err := s.ledger.Reserve(ctx, repositories.InventoryReserveRequest{
		ReservationID: reservationID,
		ProductID:     productID,
		Quantity:      cmd.Quantity,
		OrderRef:      ensureOrderRef(cmd.OrderID),
		Now:           s.clock(),
	})
	if err != nil {
		s.logger(ctx, eventInventoryReserveFailed, map[string]any{
			"reservationId": reservationID,
			"productId":     productID,
			"quantity":      cmd.Quantity,
			"error":         err.Error(),
		})
		return StockReservation{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventInventoryReserve, map[string]any{
		"reservationId": reservation.ID,
		"productId":     reservation.ProductID,
		"quantity":      reservation.Quantity,
		"remaining":     reservation.Remaining,
	})
	return reservation, nil
}

func (s *inventoryService) Release(ctx context.Context, cmd InventoryReleaseCommand) (StockReservation, error) {
	reservationID := strings.TrimSpace(cmd.ReservationID)
	if reservationID == "" {
		return StockReservation{}, fmt.Errorf("%w: reservation id is required", ErrInventoryInvalidInput)
	}

	reservation, err := s.ledger.Release(ctx, repositories.InventoryReleaseRequest{
		ReservationID: reservationID,
		ProductID:     strings.TrimSpace(cmd.ProductID),
		Quantity:      cmd.Quantity,
		Reason:        strings.TrimSpace(cmd.Reason),
		Now:           s.clock(),
	})
	if err != nil {
		return StockReservation{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventInventoryRelease, map[string]any{
		"reservationId": reservation.ID,
		"productId":     reservation.ProductID,
		"quantity":      reservation.Quantity,
		"reason":        reservation.Reason,
	})
	return reservation, nil
}

func (s *inventoryService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	product, err := s.ledger.GetProduct(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *inventoryService) ensureReservationID(candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		trimmed = s.newID()
	}
	if strings.HasPrefix(trimmed, reservationIDPrefix) {
		return trimmed
	}
	return reservationIDPrefix + trimmed
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %w", ErrInventoryInsufficientStock, invErr)
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryProductNotFound, invErr.Message)
		case repositories.InventoryErrorReservationNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryReservationNotFound, invErr.Message)
		case repositories.InventoryErrorInvalidReservationState:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidState, invErr.Message)
		case repositories.InventoryErrorInvalidQuantity:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}

	return err
}

func ensureOrderRef(orderID string) string {
	trimmed := strings.TrimSpace(orderID)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "/orders/") {
		return trimmed
	}
	return "/orders/" + trimmed
}
