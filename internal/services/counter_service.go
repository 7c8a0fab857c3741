package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the counter store rejected the request.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the yearly order sequence ran out of numbers.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

const (
	defaultOrderNumberPrefix = "SMT"
	// orderSequenceMax keeps the sequence within the six digits of the order number.
	orderSequenceMax int64 = 999_999
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository        repositories.CounterRepository
	OrderNumberPrefix string
	Clock             func() time.Time
}

type counterService struct {
	repo   repositories.CounterRepository
	prefix string
	clock  func() time.Time

	mu         sync.Mutex
	configured map[string]bool
}

// NewCounterService constructs the order number sequencer.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.OrderNumberPrefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	return &counterService{
		repo:       deps.Repository,
		prefix:     prefix,
		clock:      func() time.Time { return clock().UTC() },
		configured: make(map[string]bool),
	}, nil
}

// NextOrderNumber yields {prefix}-{year}-{seq:06}. Each calendar year has its own counter
// document, so the sequence restarts at 1 in January.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	year := s.clock().Year()
	counterID := fmt.Sprintf("orders:%s-%04d", s.prefix, year)

	if err := s.configure(ctx, counterID); err != nil {
		return "", counterError(err)
	}
	seq, err := s.repo.Next(ctx, counterID, 1)
	if err != nil {
		return "", counterError(err)
	}
	return fmt.Sprintf("%s-%04d-%06d", s.prefix, year, seq), nil
}

// configure bounds a yearly counter the first time this process uses it.
func (s *counterService) configure(ctx context.Context, counterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configured[counterID] {
		return nil
	}
	max := orderSequenceMax
	if err := s.repo.Configure(ctx, counterID, repositories.CounterConfig{Step: 1, MaxValue: &max}); err != nil {
		return err
	}
	s.configured[counterID] = true
	return nil
}

func counterError(err error) error {
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) {
		return err
	}
	switch counterErr.Code {
	case repositories.CounterErrorInvalidInput:
		return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
	case repositories.CounterErrorExhausted:
		return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
	default:
		return err
	}
}
