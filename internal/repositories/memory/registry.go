package memory

import (
	"context"

	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

// Registry keeps every repository in process. It backs local runs and service tests.
type Registry struct {
	inventory repositories.InventoryLedger
	orders    *OrderRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds an in-process registry. A nil ledger is replaced by an empty
// in-memory one; checks are reported next to the always-healthy memory check.
func NewRegistry(ledger repositories.InventoryLedger, checks ...repositories.DependencyCheck) (*Registry, error) {
	if ledger == nil {
		ledger = NewInventoryLedger()
	}
	health, err := repositories.NewDependencyHealthRepository(append([]repositories.DependencyCheck{{
		Name:     "memory",
		Critical: true,
		Check:    func(context.Context) error { return nil },
	}}, checks...))
	if err != nil {
		return nil, err
	}
	return &Registry{
		inventory: ledger,
		orders:    NewOrderRepository(),
		counters:  NewCounterRepository(),
		health:    health,
	}, nil
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Inventory() repositories.InventoryLedger { return r.inventory }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}
