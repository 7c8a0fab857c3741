package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	pfirestore "github.com/Babacarjopp/senmedicaltech/internal/platform/firestore"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/pagination"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

const (
	ordersCollection = "orders"
	// Firestore "in" filters accept at most this many values.
	maxInFilterValues = 10
)

// OrderRepository persists orders as single documents keyed by order id.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the order document and fails with a conflict when the id already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	return r.base.Create(ctx, orderID, encodeOrderDocument(order))
}

// FindByID loads an order by id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// List returns a page of orders. Purchaser listings are always newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeOrderCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
	}

	sortField, direction := resolveOrderSort(filter)
	statuses := make([]string, 0, len(filter.Status))
	for _, st := range filter.Status {
		if st.Valid() {
			statuses = append(statuses, string(st))
		}
	}
	if len(statuses) > maxInFilterValues {
		statuses = statuses[:maxInFilterValues]
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("purchaser.userId", "==", userID)
		}
		if email := strings.ToLower(strings.TrimSpace(filter.GuestEmail)); email != "" {
			q = q.Where("purchaser.guestEmail", "==", email)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			q = q.Where("status", "in", statuses)
		}

		dbField := "createdAt"
		if sortField == repositories.OrderSortTotalPrice {
			dbField = "totalPrice"
		}
		q = q.OrderBy(dbField, direction).OrderBy(firestore.DocumentID, direction)
		if cursor.ID != "" {
			if sortField == repositories.OrderSortTotalPrice {
				q = q.StartAfter(cursor.TotalPrice, cursor.ID)
			} else {
				q = q.StartAfter(cursor.CreatedAt, cursor.ID)
			}
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if len(docs) > limit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		nextToken, err = pagination.EncodeOrderCursor(pagination.OrderCursor{
			CreatedAt:  last.Data.CreatedAt,
			TotalPrice: last.Data.TotalPrice,
			ID:         last.ID,
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

// UpdateStatus changes status and updatedAt only. With ExpectedStatus set, the stored status
// is compared inside the transaction so concurrent updates cannot both apply.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(update.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFoundError("orders.updateStatus", fmt.Errorf("order %s not found", orderID))
			}
			return err
		}
		decoded, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		doc := decoded.Data
		if update.ExpectedStatus != nil && doc.Status != string(*update.ExpectedStatus) {
			return pfirestore.NewConflictError("orders.updateStatus",
				fmt.Errorf("order %s status is %s, expected %s", orderID, doc.Status, *update.ExpectedStatus))
		}

		updatedAt := update.UpdatedAt.UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(update.Status)},
			{Path: "updatedAt", Value: updatedAt},
		}); err != nil {
			return err
		}
		doc.Status = string(update.Status)
		doc.UpdatedAt = updatedAt
		updated = decodeOrderDocument(orderID, doc)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.updateStatus", err)
	}
	return updated, nil
}

func resolveOrderSort(filter repositories.OrderListFilter) (repositories.OrderSortField, firestore.Direction) {
	if strings.TrimSpace(filter.UserID) != "" || strings.TrimSpace(filter.GuestEmail) != "" {
		return repositories.OrderSortCreatedAt, firestore.Desc
	}
	field := filter.SortBy
	if field != repositories.OrderSortTotalPrice {
		field = repositories.OrderSortCreatedAt
	}
	if filter.SortOrder == domain.SortAsc {
		return field, firestore.Asc
	}
	return field, firestore.Desc
}

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	Purchaser       purchaserDocument   `firestore:"purchaser"`
	Items           []orderLineDocument `firestore:"items"`
	Currency        string              `firestore:"currency"`
	TotalPrice      int64               `firestore:"totalPrice"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	Status          string              `firestore:"status"`
	Locale          string              `firestore:"locale,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type purchaserDocument struct {
	UserID       string `firestore:"userId,omitempty"`
	AccountEmail string `firestore:"accountEmail,omitempty"`
	GuestEmail   string `firestore:"guestEmail,omitempty"`
}

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Total     int64  `firestore:"total"`
}

type addressDocument struct {
	Street     string `firestore:"street"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]orderLineDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderLineDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		}
	}
	return orderDocument{
		OrderNumber: order.OrderNumber,
		Purchaser: purchaserDocument{
			UserID:       strings.TrimSpace(order.Purchaser.UserID),
			AccountEmail: strings.TrimSpace(order.Purchaser.AccountEmail),
			GuestEmail:   strings.ToLower(strings.TrimSpace(order.Purchaser.GuestEmail)),
		},
		Items:      items,
		Currency:   order.Currency,
		TotalPrice: order.TotalPrice,
		ShippingAddress: addressDocument{
			Street:     order.ShippingAddress.Street,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		PaymentMethod: string(order.PaymentMethod),
		Status:        string(order.Status),
		Locale:        order.Locale,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderLineItem, len(doc.Items))
	for i, item := range doc.Items {
		items[i] = domain.OrderLineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		}
	}
	return domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		Purchaser: domain.Purchaser{
			UserID:       doc.Purchaser.UserID,
			AccountEmail: doc.Purchaser.AccountEmail,
			GuestEmail:   doc.Purchaser.GuestEmail,
		},
		Items:      items,
		Currency:   doc.Currency,
		TotalPrice: doc.TotalPrice,
		ShippingAddress: domain.Address{
			Street:     doc.ShippingAddress.Street,
			City:       doc.ShippingAddress.City,
			PostalCode: doc.ShippingAddress.PostalCode,
			Country:    doc.ShippingAddress.Country,
		},
		PaymentMethod: domain.PaymentMethod(doc.PaymentMethod),
		Status:        domain.OrderStatus(doc.Status),
		Locale:        doc.Locale,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}
