package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

const defaultKeyPrefix = "smt"

// The product hash and its reservations share the {productID} hash tag so both scripts touch a
// single cluster slot.
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {-3}
end
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1}
end
local qty = tonumber(ARGV[1])
local stock = tonumber(redis.call('HGET', KEYS[1], 'stock') or '0')
if stock < qty then
  return {-2, stock}
end
local remaining = redis.call('HINCRBY', KEYS[1], 'stock', -qty)
redis.call('HSET', KEYS[1], 'updatedAt', ARGV[4])
local price = redis.call('HGET', KEYS[1], 'unitPrice') or '0'
local name = redis.call('HGET', KEYS[1], 'name') or ''
redis.call('HSET', KEYS[2],
  'productId', ARGV[2], 'productName', name, 'orderRef', ARGV[3], 'qty', qty,
  'unitPrice', price, 'remaining', remaining, 'status', 'reserved', 'createdAt', ARGV[4])
return {remaining, price, name}
`)

var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
  return {-1}
end
local qty = tonumber(redis.call('HGET', KEYS[2], 'qty'))
local want = tonumber(ARGV[1])
if want > 0 and want ~= qty then
  return {-2, qty}
end
if redis.call('HGET', KEYS[2], 'status') == 'released' then
  return {0}
end
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-3}
end
local remaining = redis.call('HINCRBY', KEYS[1], 'stock', qty)
redis.call('HSET', KEYS[1], 'updatedAt', ARGV[3])
redis.call('HSET', KEYS[2], 'status', 'released', 'reason', ARGV[2], 'releasedAt', ARGV[3], 'remaining', remaining)
return {1}
`)

// InventoryLedger keeps stock counters in Redis hashes. Reserve and Release run as Lua
// scripts so the check and the decrement happen in one server-side step.
type InventoryLedger struct {
	client redis.UniversalClient
	prefix string
}

// Option customises the ledger.
type Option func(*InventoryLedger)

// WithKeyPrefix namespaces every key written by the ledger.
func WithKeyPrefix(prefix string) Option {
	return func(l *InventoryLedger) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			l.prefix = trimmed
		}
	}
}

var _ repositories.InventoryLedger = (*InventoryLedger)(nil)

// NewInventoryLedger constructs a ledger on top of the given client.
func NewInventoryLedger(client redis.UniversalClient, opts ...Option) (*InventoryLedger, error) {
	if client == nil {
		return nil, errors.New("redis inventory ledger: client is required")
	}
	ledger := &InventoryLedger{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(ledger)
		}
	}
	return ledger, nil
}

func (l *InventoryLedger) Reserve(ctx context.Context, req repositories.InventoryReserveRequest) (domain.StockReservation, error) {
	reservationID := strings.TrimSpace(req.ReservationID)
	productID := strings.TrimSpace(req.ProductID)
	if reservationID == "" || productID == "" {
		return domain.StockReservation{}, errors.New("inventory reserve: reservation id and product id are required")
	}
	if req.Quantity <= 0 {
		return domain.StockReservation{}, inventoryError("inventory.reserve", repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("quantity for %s must be > 0", productID), nil)
	}
	now := req.Now.UTC()

	result, err := reserveScript.Run(ctx, l.client,
		[]string{l.productKey(productID), l.reservationKey(productID, reservationID)},
		req.Quantity, productID, strings.TrimSpace(req.OrderRef), now.Format(time.RFC3339Nano),
	).Slice()
	if err != nil {
		return domain.StockReservation{}, wrapRedisError("inventory.reserve", err)
	}
	code, err := int64At(result, 0)
	if err != nil {
		return domain.StockReservation{}, wrapRedisError("inventory.reserve", err)
	}
	switch code {
	case -1:
		return domain.StockReservation{}, inventoryError("inventory.reserve", repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), nil)
	case -2:
		available, _ := int64At(result, 1)
		invErr := repositories.NewInsufficientStockError(productID, req.Quantity, int(available))
		invErr.Op = "inventory.reserve"
		return domain.StockReservation{}, invErr
	case -3:
		return domain.StockReservation{}, inventoryError("inventory.reserve", repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", reservationID), nil)
	}

	price, err := int64At(result, 1)
	if err != nil {
		return domain.StockReservation{}, wrapRedisError("inventory.reserve", err)
	}
	name, _ := result[2].(string)
	return domain.StockReservation{
		ID:          reservationID,
		ProductID:   productID,
		ProductName: name,
		OrderRef:    strings.TrimSpace(req.OrderRef),
		Quantity:    req.Quantity,
		UnitPrice:   price,
		Remaining:   int(code),
		Status:      domain.StockReservationReserved,
		CreatedAt:   now,
	}, nil
}

// Release needs the product id because reservation keys live under the product's hash tag.
func (l *InventoryLedger) Release(ctx context.Context, req repositories.InventoryReleaseRequest) (domain.StockReservation, error) {
	reservationID := strings.TrimSpace(req.ReservationID)
	productID := strings.TrimSpace(req.ProductID)
	if reservationID == "" || productID == "" {
		return domain.StockReservation{}, errors.New("inventory release: reservation id and product id are required")
	}
	resKey := l.reservationKey(productID, reservationID)

	result, err := releaseScript.Run(ctx, l.client,
		[]string{l.productKey(productID), resKey},
		req.Quantity, strings.TrimSpace(req.Reason), req.Now.UTC().Format(time.RFC3339Nano),
	).Slice()
	if err != nil {
		return domain.StockReservation{}, wrapRedisError("inventory.release", err)
	}
	code, err := int64At(result, 0)
	if err != nil {
		return domain.StockReservation{}, wrapRedisError("inventory.release", err)
	}
	switch code {
	case -1:
		return domain.StockReservation{}, inventoryError("inventory.release", repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), nil)
	case -2:
		stored, _ := int64At(result, 1)
		return domain.StockReservation{}, inventoryError("inventory.release", repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation quantity mismatch: %d != %d", req.Quantity, stored), nil)
	case -3:
		return domain.StockReservation{}, inventoryError("inventory.release", repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), nil)
	}

	fields, err := l.client.HGetAll(ctx, resKey).Result()
	if err != nil {
		return domain.StockReservation{}, wrapRedisError("inventory.release", err)
	}
	return decodeReservation(reservationID, fields)
}

func (l *InventoryLedger) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("inventory get product: id is required")
	}
	fields, err := l.client.HGetAll(ctx, l.productKey(productID)).Result()
	if err != nil {
		return domain.Product{}, wrapRedisError("inventory.getProduct", err)
	}
	if len(fields) == 0 {
		return domain.Product{}, inventoryError("inventory.getProduct", repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), nil)
	}
	return decodeProduct(productID, fields)
}

func (l *InventoryLedger) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		return domain.Product{}, errors.New("inventory upsert product: id is required")
	}
	if product.Stock < 0 || product.UnitPrice < 0 {
		return domain.Product{}, inventoryError("inventory.upsertProduct", repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("product %s: stock and price must be >= 0", product.ID), nil)
	}
	product.Name = strings.TrimSpace(product.Name)
	product.UpdatedAt = product.UpdatedAt.UTC()
	product.Recalculate()

	err := l.client.HSet(ctx, l.productKey(product.ID),
		"name", product.Name,
		"unitPrice", product.UnitPrice,
		"stock", product.Stock,
		"updatedAt", product.UpdatedAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return domain.Product{}, wrapRedisError("inventory.upsertProduct", err)
	}
	return product, nil
}

// PingCheck reports whether the Redis server answers.
func PingCheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return wrapRedisError("health.redis", err)
		}
		return nil
	}
}

func (l *InventoryLedger) productKey(productID string) string {
	return fmt.Sprintf("%s:{%s}:product", l.prefix, productID)
}

func (l *InventoryLedger) reservationKey(productID, reservationID string) string {
	return fmt.Sprintf("%s:{%s}:reservation:%s", l.prefix, productID, reservationID)
}

func decodeProduct(id string, fields map[string]string) (domain.Product, error) {
	price, err := strconv.ParseInt(fields["unitPrice"], 10, 64)
	if err != nil {
		return domain.Product{}, fmt.Errorf("redis inventory: product %s unit price: %w", id, err)
	}
	stock, err := strconv.Atoi(fields["stock"])
	if err != nil {
		return domain.Product{}, fmt.Errorf("redis inventory: product %s stock: %w", id, err)
	}
	product := domain.Product{
		ID:        id,
		Name:      fields["name"],
		UnitPrice: price,
		Stock:     stock,
		UpdatedAt: parseTime(fields["updatedAt"]),
	}
	product.Recalculate()
	return product, nil
}

func decodeReservation(id string, fields map[string]string) (domain.StockReservation, error) {
	qty, err := strconv.Atoi(fields["qty"])
	if err != nil {
		return domain.StockReservation{}, fmt.Errorf("redis inventory: reservation %s quantity: %w", id, err)
	}
	price, _ := strconv.ParseInt(fields["unitPrice"], 10, 64)
	remaining, _ := strconv.Atoi(fields["remaining"])
	reservation := domain.StockReservation{
		ID:          id,
		ProductID:   fields["productId"],
		ProductName: fields["productName"],
		OrderRef:    fields["orderRef"],
		Quantity:    qty,
		UnitPrice:   price,
		Remaining:   remaining,
		Status:      domain.StockReservationStatus(fields["status"]),
		Reason:      fields["reason"],
		CreatedAt:   parseTime(fields["createdAt"]),
	}
	if raw := fields["releasedAt"]; raw != "" {
		releasedAt := parseTime(raw)
		reservation.ReleasedAt = &releasedAt
	}
	return reservation, nil
}

func parseTime(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func int64At(values []any, idx int) (int64, error) {
	if idx >= len(values) {
		return 0, fmt.Errorf("script result has %d values, want index %d", len(values), idx)
	}
	switch v := values[idx].(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected script value %T", v)
	}
}

func inventoryError(op string, code repositories.InventoryErrorCode, message string, err error) error {
	invErr := repositories.NewInventoryError(code, message, err)
	invErr.Op = op
	return invErr
}

func wrapRedisError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return repositories.NewUnavailableError(op, err)
}
