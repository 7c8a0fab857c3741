package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// ErrTransportOpen is returned while the breaker rejects sends.
var ErrTransportOpen = errors.New("notification transport: circuit open")

// BreakerConfig tunes the circuit breaker placed around a notification transport.
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	Cooldown            time.Duration
	HalfOpenRequests    uint32
	Logger              func(ctx context.Context, event string, fields map[string]any)
}

// BreakerSender stops calling a failing transport until the cooldown elapses, so a broker
// outage costs one fast error per confirmation instead of one send timeout.
type BreakerSender struct {
	next    services.OrderNotificationSender
	breaker *gobreaker.CircuitBreaker[struct{}]
}

var _ services.OrderNotificationSender = (*BreakerSender)(nil)

// NewBreakerSender wraps next with a consecutive-failure circuit breaker.
func NewBreakerSender(next services.OrderNotificationSender, cfg BreakerConfig) (*BreakerSender, error) {
	if next == nil {
		return nil, errors.New("breaker sender: transport is required")
	}
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	halfOpen := cfg.HalfOpenRequests
	if halfOpen == 0 {
		halfOpen = 1
	}
	name := cfg.Name
	if name == "" {
		name = "notifications"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpen,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger(context.Background(), "notification.breaker.state", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}
	return &BreakerSender{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}, nil
}

// SendOrderConfirmation forwards to the wrapped transport unless the circuit is open.
func (b *BreakerSender) SendOrderConfirmation(ctx context.Context, confirmation services.OrderConfirmation) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.SendOrderConfirmation(ctx, confirmation)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrTransportOpen, err)
	}
	return err
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *BreakerSender) State() string {
	return b.breaker.State().String()
}
