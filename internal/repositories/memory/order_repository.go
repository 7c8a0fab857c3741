package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/pagination"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

// OrderRepository stores orders in a map. Returned orders are deep copies so callers cannot
// mutate stored line items.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an empty repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	order.Purchaser.GuestEmail = strings.ToLower(strings.TrimSpace(order.Purchaser.GuestEmail))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[id]; exists {
		return repositories.NewConflictError("orders.insert", fmt.Errorf("order %s already exists", id))
	}
	r.orders[id] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", fmt.Errorf("order %s not found", orderID))
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeOrderCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
	}
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	userID := strings.TrimSpace(filter.UserID)
	guestEmail := strings.ToLower(strings.TrimSpace(filter.GuestEmail))
	sortBy, desc := filter.SortBy, filter.SortOrder != domain.SortAsc
	if userID != "" || guestEmail != "" {
		sortBy, desc = repositories.OrderSortCreatedAt, true
	}

	r.mu.RLock()
	matched := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if userID != "" && order.Purchaser.UserID != userID {
			continue
		}
		if guestEmail != "" && order.Purchaser.GuestEmail != guestEmail {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		matched = append(matched, order)
	}
	r.mu.RUnlock()

	less := func(a, b domain.Order) int {
		var c int
		if sortBy == repositories.OrderSortTotalPrice {
			c = compareInt64(a.TotalPrice, b.TotalPrice)
		} else {
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) < 0 })

	start := 0
	if cursor.ID != "" {
		marker := domain.Order{ID: cursor.ID, CreatedAt: cursor.CreatedAt, TotalPrice: cursor.TotalPrice}
		start = sort.Search(len(matched), func(i int) bool { return less(matched[i], marker) > 0 })
	}
	page := matched[start:]
	nextToken := ""
	if len(page) > limit {
		page = page[:limit]
		last := page[len(page)-1]
		nextToken, err = pagination.EncodeOrderCursor(pagination.OrderCursor{
			CreatedAt:  last.CreatedAt,
			TotalPrice: last.TotalPrice,
			ID:         last.ID,
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}

	items := make([]domain.Order, len(page))
	for i, order := range page {
		items[i] = cloneOrder(order)
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

func (r *OrderRepository) UpdateStatus(_ context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	id := strings.TrimSpace(update.OrderID)
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.updateStatus", fmt.Errorf("order %s not found", id))
	}
	if update.ExpectedStatus != nil && order.Status != *update.ExpectedStatus {
		return domain.Order{}, repositories.NewConflictError("orders.updateStatus",
			fmt.Errorf("order %s status is %s, expected %s", id, order.Status, *update.ExpectedStatus))
	}
	order.Status = update.Status
	order.UpdatedAt = update.UpdatedAt.UTC()
	r.orders[id] = order
	return cloneOrder(order), nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	return order
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
