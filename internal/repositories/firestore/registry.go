package firestore

import (
	"context"
	"errors"
	"time"

	"google.golang.org/api/iterator"

	pfirestore "github.com/Babacarjopp/senmedicaltech/internal/platform/firestore"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind repositories.Registry.
type Registry struct {
	provider  *pfirestore.Provider
	inventory repositories.InventoryLedger
	orders    *OrderRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	inventory repositories.InventoryLedger
	checks    []repositories.DependencyCheck
}

// WithInventoryLedger replaces the Firestore ledger, e.g. with the Redis ledger.
func WithInventoryLedger(ledger repositories.InventoryLedger) RegistryOption {
	return func(o *registryOptions) {
		o.inventory = ledger
	}
}

// WithHealthChecks adds dependency checks next to the Firestore check.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(o *registryOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// NewRegistry builds every repository on top of the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	var options registryOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	inventory := options.inventory
	if inventory == nil {
		ledger, err := NewInventoryLedger(provider)
		if err != nil {
			return nil, err
		}
		inventory = ledger
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:     "firestore",
		Critical: true,
		Timeout:  2 * time.Second,
		Check:    PingCheck(provider),
	}}, options.checks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		inventory: inventory,
		orders:    orders,
		counters:  counters,
		health:    health,
	}, nil
}

// PingCheck reads at most one product document to prove the database is reachable.
func PingCheck(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		iter := client.Collection(productsCollection).Limit(1).Documents(ctx)
		defer iter.Stop()
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return pfirestore.WrapError("health.firestore", err)
		}
		return nil
	}
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Inventory() repositories.InventoryLedger { return r.inventory }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx runs fn directly. Each repository call already commits its own Firestore
// transaction; checkout consistency relies on compensation rather than a shared transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}
