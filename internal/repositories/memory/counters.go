package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

// CounterRepository hands out sequence numbers from process memory.
type CounterRepository struct {
	mu       sync.Mutex
	counters map[string]*repositories.CounterState
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs an empty counter store.
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{counters: make(map[string]*repositories.CounterState)}
}

func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.counters[id]
	if !ok {
		state = &repositories.CounterState{}
		r.counters[id] = state
	}
	return state.Advance(id, step)
}

func (r *CounterRepository) Configure(_ context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.counters[id]
	if !ok {
		state = &repositories.CounterState{}
		r.counters[id] = state
	}
	if cfg.Step > 0 {
		state.Step = cfg.Step
	}
	if cfg.MaxValue != nil {
		max := *cfg.MaxValue
		state.MaxValue = &max
	}
	if cfg.InitialValue != nil {
		state.Current = *cfg.InitialValue
	}
	return nil
}
