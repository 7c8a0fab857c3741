package repositories

import "fmt"

// InventoryErrorCode enumerates ledger failure causes.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInvalidQuantity indicates a non-positive quantity.
	InventoryErrorInvalidQuantity InventoryErrorCode = "inventory_invalid_quantity"
	// InventoryErrorInsufficientStock indicates requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorProductNotFound indicates the product has no ledger entry.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
	// InventoryErrorReservationNotFound indicates the movement record is missing.
	InventoryErrorReservationNotFound InventoryErrorCode = "inventory_reservation_not_found"
	// InventoryErrorInvalidReservationState indicates a reused reservation id or a release that
	// does not match the recorded movement.
	InventoryErrorInvalidReservationState InventoryErrorCode = "inventory_invalid_state"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	Message   string
	Available int
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError reports how many units were left when the reservation failed.
func NewInsufficientStockError(productID string, requested, available int) *InventoryError {
	err := NewInventoryError(InventoryErrorInsufficientStock,
		fmt.Sprintf("insufficient stock for %s: requested %d, available %d", productID, requested, available), nil)
	err.Available = available
	return err
}
