//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/Babacarjopp/senmedicaltech/internal/platform/config"
	pfirestore "github.com/Babacarjopp/senmedicaltech/internal/platform/firestore"
)

type stockEntity struct {
	Name  string `firestore:"name"`
	Stock int    `firestore:"stock"`
}

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "platform-test",
		EmulatorHost: host,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func TestProviderAndRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[stockEntity](provider, "platformSamples")
	id := "sample-" + time.Now().UTC().Format("150405.000000")

	if err := repo.Create(ctx, id, stockEntity{Name: "gloves", Stock: 1}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := repo.Create(ctx, id, stockEntity{Name: "gloves", Stock: 1})
	var repoErr *pfirestore.Error
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var entity stockEntity
		if err := snap.DataTo(&entity); err != nil {
			return err
		}
		entity.Stock += 2
		return tx.Set(ref, entity)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	doc, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Data.Stock != 3 {
		t.Fatalf("expected stock 3 after transaction, got %d", doc.Data.Stock)
	}

	if _, err := repo.Get(ctx, "missing-"+id); err == nil {
		t.Fatalf("expected not found error")
	} else if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found classification, got %v", err)
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}
