package services

import (
	"errors"
	"fmt"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
)

// ErrOrderInvalidState indicates an invalid status transition was attempted.
var ErrOrderInvalidState = errors.New("order: invalid status transition")

// OrderStatusMachine decides whether an admin may move an order between statuses.
type OrderStatusMachine struct {
	strict bool
}

// NewOrderStatusMachine returns the strict machine when strict is true and the lenient
// (any status settable) machine otherwise.
func NewOrderStatusMachine(strict bool) OrderStatusMachine {
	return OrderStatusMachine{strict: strict}
}

// Strict reports whether forward-only rules are enforced.
func (m OrderStatusMachine) Strict() bool {
	return m.strict
}

// Check validates a move from current to target. Re-applying the current status is always
// allowed and only refreshes the update timestamp.
func (m OrderStatusMachine) Check(current, target OrderStatus) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}
	if current == target || !m.strict {
		return nil
	}
	if current.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrOrderInvalidState, current)
	}
	if target == domain.OrderStatusCancelled {
		return nil
	}
	if target.Rank() <= current.Rank() {
		return fmt.Errorf("%w: cannot move from %s back to %s", ErrOrderInvalidState, current, target)
	}
	return nil
}

// Next lists the statuses reachable from current, in lifecycle order.
func (m OrderStatusMachine) Next(current OrderStatus) []OrderStatus {
	var next []OrderStatus
	for _, candidate := range domain.OrderStatuses() {
		if candidate == current {
			continue
		}
		if m.Check(current, candidate) == nil {
			next = append(next, candidate)
		}
	}
	return next
}
