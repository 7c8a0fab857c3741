package jobs

import (
	"context"

	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

// LogSender records confirmations in the application log instead of delivering them. It is
// the transport for local runs without a broker.
type LogSender struct {
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ services.OrderNotificationSender = (*LogSender)(nil)

// NewLogSender returns a sender writing to logger.
func NewLogSender(logger func(ctx context.Context, event string, fields map[string]any)) *LogSender {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendOrderConfirmation(ctx context.Context, confirmation services.OrderConfirmation) error {
	s.logger(ctx, "notification.logged", map[string]any{
		"orderId":     confirmation.OrderID,
		"orderNumber": confirmation.OrderNumber,
		"recipient":   confirmation.Recipient,
		"subject":     confirmation.Subject,
		"locale":      confirmation.Locale,
		"total":       confirmation.TotalDisplay,
	})
	return ctx.Err()
}
