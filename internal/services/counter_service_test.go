package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

type stubCounterRepository struct {
	mu             sync.Mutex
	nextFn         func(context.Context, string, int64) (int64, error)
	configureFn    func(context.Context, string, repositories.CounterConfig) error
	nextCalls      []counterCall
	configureCalls []configureCall
}

type counterCall struct {
	ID   string
	Step int64
}

type configureCall struct {
	ID  string
	Cfg repositories.CounterConfig
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	s.nextCalls = append(s.nextCalls, counterCall{ID: counterID, Step: step})
	s.mu.Unlock()
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 0, nil
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	s.mu.Lock()
	s.configureCalls = append(s.configureCalls, configureCall{ID: counterID, Cfg: cfg})
	s.mu.Unlock()
	if s.configureFn != nil {
		return s.configureFn(ctx, counterID, cfg)
	}
	return nil
}

func TestCounterServiceNextOrderNumber(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 7, nil
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, OrderNumberPrefix: "smt", Clock: func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	for i := 0; i < 2; i++ {
		result, err := svc.NextOrderNumber(context.Background())
		if err != nil {
			t.Fatalf("next order number: %v", err)
		}
		if result != "SMT-2026-000007" {
			t.Fatalf("expected formatted order number, got %s", result)
		}
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.nextCalls) != 2 || repo.nextCalls[0].Step != 1 {
		t.Fatalf("expected two unit increments, got %+v", repo.nextCalls)
	}
	if repo.nextCalls[0].ID != "orders:SMT-2026" {
		t.Fatalf("expected counter id orders:SMT-2026, got %s", repo.nextCalls[0].ID)
	}
	if len(repo.configureCalls) != 1 {
		t.Fatalf("expected configuration to be applied once, got %d", len(repo.configureCalls))
	}
	if max := repo.configureCalls[0].Cfg.MaxValue; max == nil || *max != 999_999 {
		t.Fatalf("expected six digit bound, got %v", max)
	}
}

func TestCounterServiceStartsNewSequenceEachYear(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) { return 1, nil }
	now := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	first, _ := svc.NextOrderNumber(context.Background())
	now = now.Add(2 * time.Minute)
	second, _ := svc.NextOrderNumber(context.Background())

	if first != "SMT-2026-000001" || second != "SMT-2027-000001" {
		t.Fatalf("unexpected numbers %s %s", first, second)
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.configureCalls) != 2 || repo.configureCalls[1].ID != "orders:SMT-2027" {
		t.Fatalf("expected the new year to be configured, got %+v", repo.configureCalls)
	}
}

func TestCounterServiceMapsRepositoryErrors(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "limit", nil)
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	if _, err := svc.NextOrderNumber(context.Background()); !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}

	repo.configureFn = func(context.Context, string, repositories.CounterConfig) error {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "bad id", nil)
	}
	other, err := NewCounterService(CounterServiceDeps{Repository: repo, OrderNumberPrefix: "DKR"})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	if _, err := other.NextOrderNumber(context.Background()); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
