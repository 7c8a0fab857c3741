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
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

const (
	productsCollection          = "products"
	stockReservationsCollection = "stockReservations"
)

// InventoryLedger stores stock on product documents and one movement document per reservation.
// Both are written in the same transaction so a movement exists if and only if its decrement
// was applied.
type InventoryLedger struct {
	provider     *pfirestore.Provider
	products     *pfirestore.BaseRepository[productDocument]
	reservations *pfirestore.BaseRepository[reservationDocument]
}

var _ repositories.InventoryLedger = (*InventoryLedger)(nil)

// NewInventoryLedger constructs a Firestore-backed ledger.
func NewInventoryLedger(provider *pfirestore.Provider) (*InventoryLedger, error) {
	if provider == nil {
		return nil, errors.New("inventory ledger requires firestore provider")
	}
	return &InventoryLedger{
		provider:     provider,
		products:     pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		reservations: pfirestore.NewBaseRepository[reservationDocument](provider, stockReservationsCollection),
	}, nil
}

// Reserve checks availability and decrements stock inside one transaction. Firestore retries the
// closure when another checkout commits the same product first.
func (r *InventoryLedger) Reserve(ctx context.Context, req repositories.InventoryReserveRequest) (domain.StockReservation, error) {
	if r == nil || r.provider == nil {
		return domain.StockReservation{}, errors.New("inventory ledger not initialised")
	}
	reservationID := strings.TrimSpace(req.ReservationID)
	productID := strings.TrimSpace(req.ProductID)
	if reservationID == "" || productID == "" {
		return domain.StockReservation{}, errors.New("inventory reserve: reservation id and product id are required")
	}
	if req.Quantity <= 0 {
		return domain.StockReservation{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("inventory reserve: quantity for %s must be > 0", productID), nil)
	}

	now := req.Now.UTC()
	var result domain.StockReservation
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, reservationID)
		if err != nil {
			return err
		}
		productRef, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}

		if _, err := tx.Get(resRef); err == nil {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", reservationID), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		snap, err := tx.Get(productRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
			}
			return err
		}
		product, err := decodeProduct(snap)
		if err != nil {
			return err
		}
		if product.Stock < req.Quantity {
			return repositories.NewInsufficientStockError(productID, req.Quantity, product.Stock)
		}

		product.Stock -= req.Quantity
		product.UpdatedAt = now
		product.recalculate()
		if err := tx.Set(productRef, product); err != nil {
			return err
		}

		resDoc := reservationDocument{
			ProductID:   productID,
			ProductName: product.Name,
			OrderRef:    strings.TrimSpace(req.OrderRef),
			Quantity:    req.Quantity,
			UnitPrice:   product.UnitPrice,
			Remaining:   product.Stock,
			Status:      string(domain.StockReservationReserved),
			CreatedAt:   now,
		}
		if err := tx.Create(resRef, resDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", reservationID), err)
			}
			return err
		}

		result = resDoc.toDomain(reservationID)
		return nil
	})
	if err != nil {
		return domain.StockReservation{}, wrapInventoryError("inventory.reserve", err)
	}
	return result, nil
}

// Release returns the reserved quantity to the product and marks the movement released.
func (r *InventoryLedger) Release(ctx context.Context, req repositories.InventoryReleaseRequest) (domain.StockReservation, error) {
	if r == nil || r.provider == nil {
		return domain.StockReservation{}, errors.New("inventory ledger not initialised")
	}
	reservationID := strings.TrimSpace(req.ReservationID)
	if reservationID == "" {
		return domain.StockReservation{}, errors.New("inventory release: reservation id is required")
	}

	now := req.Now.UTC()
	var result domain.StockReservation
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, reservationID)
		if err != nil {
			return err
		}
		resSnap, err := tx.Get(resRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), err)
			}
			return err
		}
		resDoc, err := decodeReservation(resSnap)
		if err != nil {
			return err
		}
		if err := checkReleaseMatches(resDoc, req); err != nil {
			return err
		}
		if resDoc.Status == string(domain.StockReservationReleased) {
			result = resDoc.toDomain(reservationID)
			return nil
		}

		productRef, err := r.products.DocumentRef(ctx, resDoc.ProductID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(productRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", resDoc.ProductID), err)
			}
			return err
		}
		product, err := decodeProduct(snap)
		if err != nil {
			return err
		}
		product.Stock += resDoc.Quantity
		product.UpdatedAt = now
		product.recalculate()
		if err := tx.Set(productRef, product); err != nil {
			return err
		}

		resDoc.Status = string(domain.StockReservationReleased)
		resDoc.Remaining = product.Stock
		resDoc.ReleasedAt = &now
		resDoc.Reason = strings.TrimSpace(req.Reason)
		if err := tx.Set(resRef, resDoc); err != nil {
			return err
		}
		result = resDoc.toDomain(reservationID)
		return nil
	})
	if err != nil {
		return domain.StockReservation{}, wrapInventoryError("inventory.release", err)
	}
	return result, nil
}

// GetProduct reads the current product stock.
func (r *InventoryLedger) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("inventory ledger not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("inventory get product: id is required")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
		}
		return domain.Product{}, wrapInventoryError("inventory.getProduct", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpsertProduct writes catalog data and stock for a product, recomputing InStock.
func (r *InventoryLedger) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("inventory ledger not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return domain.Product{}, errors.New("inventory upsert product: id is required")
	}
	if product.Stock < 0 || product.UnitPrice < 0 {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("product %s: stock and price must be >= 0", id), nil)
	}
	doc := newProductDocument(product)
	if err := r.products.Set(ctx, id, doc); err != nil {
		return domain.Product{}, wrapInventoryError("inventory.upsertProduct", err)
	}
	return doc.toDomain(id), nil
}

func checkReleaseMatches(doc reservationDocument, req repositories.InventoryReleaseRequest) error {
	if id := strings.TrimSpace(req.ProductID); id != "" && id != doc.ProductID {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation product mismatch: %s != %s", id, doc.ProductID), nil)
	}
	if req.Quantity > 0 && req.Quantity != doc.Quantity {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation quantity mismatch: %d != %d", req.Quantity, doc.Quantity), nil)
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Name      string    `firestore:"name"`
	UnitPrice int64     `firestore:"unitPrice"`
	Stock     int       `firestore:"stock"`
	InStock   bool      `firestore:"inStock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (p *productDocument) recalculate() {
	if p.Stock < 0 {
		p.Stock = 0
	}
	p.InStock = p.Stock > 0
}

func newProductDocument(product domain.Product) productDocument {
	doc := productDocument{
		Name:      strings.TrimSpace(product.Name),
		UnitPrice: product.UnitPrice,
		Stock:     product.Stock,
		UpdatedAt: product.UpdatedAt.UTC(),
	}
	doc.recalculate()
	return doc
}

func (p productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      p.Name,
		UnitPrice: p.UnitPrice,
		Stock:     p.Stock,
		InStock:   p.InStock,
		UpdatedAt: p.UpdatedAt,
	}
}

func decodeProduct(snap *firestore.DocumentSnapshot) (productDocument, error) {
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return productDocument{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
	}
	return doc, nil
}

type reservationDocument struct {
	ProductID   string     `firestore:"productId"`
	ProductName string     `firestore:"productName"`
	OrderRef    string     `firestore:"orderRef,omitempty"`
	Quantity    int        `firestore:"qty"`
	UnitPrice   int64      `firestore:"unitPrice"`
	Remaining   int        `firestore:"remaining"`
	Status      string     `firestore:"status"`
	Reason      string     `firestore:"reason,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	ReleasedAt  *time.Time `firestore:"releasedAt,omitempty"`
}

func (d reservationDocument) toDomain(id string) domain.StockReservation {
	return domain.StockReservation{
		ID:          id,
		ProductID:   d.ProductID,
		ProductName: d.ProductName,
		OrderRef:    d.OrderRef,
		Quantity:    d.Quantity,
		UnitPrice:   d.UnitPrice,
		Remaining:   d.Remaining,
		Status:      domain.StockReservationStatus(d.Status),
		Reason:      d.Reason,
		CreatedAt:   d.CreatedAt,
		ReleasedAt:  d.ReleasedAt,
	}
}

func decodeReservation(snap *firestore.DocumentSnapshot) (reservationDocument, error) {
	var doc reservationDocument
	if err := snap.DataTo(&doc); err != nil {
		return reservationDocument{}, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
	}
	return doc, nil
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
