package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
)

type seedProduct struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Stock     int    `json:"stock"`
}

// LoadProductSeed reads a JSON array of products used to prime a ledger in local runs.
func LoadProductSeed(path string) ([]domain.Product, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("product seed: %w", err)
	}
	defer f.Close()
	return DecodeProductSeed(f)
}

// DecodeProductSeed parses seed products, rejecting duplicates and negative values.
func DecodeProductSeed(r io.Reader) ([]domain.Product, error) {
	var raw []seedProduct
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("product seed: decode: %w", err)
	}
	seen := make(map[string]struct{}, len(raw))
	products := make([]domain.Product, 0, len(raw))
	for i, entry := range raw {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("product seed: entry %d: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("product seed: duplicate product %s", id)
		}
		if entry.Stock < 0 || entry.UnitPrice < 0 {
			return nil, fmt.Errorf("product seed: product %s: stock and price must be >= 0", id)
		}
		seen[id] = struct{}{}
		product := domain.Product{ID: id, Name: strings.TrimSpace(entry.Name), UnitPrice: entry.UnitPrice, Stock: entry.Stock}
		product.Recalculate()
		products = append(products, product)
	}
	return products, nil
}

// SeedInventory upserts products into the ledger, stopping at the first failure.
func SeedInventory(ctx context.Context, ledger InventoryLedger, products []domain.Product, now time.Time) error {
	if ledger == nil {
		return errors.New("product seed: ledger is required")
	}
	for _, product := range products {
		product.UpdatedAt = now
		if _, err := ledger.UpsertProduct(ctx, product); err != nil {
			return fmt.Errorf("product seed: upsert %s: %w", product.ID, err)
		}
	}
	return nil
}
