package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

// EventOrderConfirmation tags confirmation messages for the mail worker.
const EventOrderConfirmation = "order.confirmation"

// PubSubNotificationPublisher publishes rendered order confirmations to a Pub/Sub topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderNotificationSender = (*PubSubNotificationPublisher)(nil)

// NewPubSubNotificationPublisher constructs a Pub/Sub backed confirmation publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// SendOrderConfirmation publishes the confirmation and waits for the server ack.
func (p *PubSubNotificationPublisher) SendOrderConfirmation(ctx context.Context, confirmation services.OrderConfirmation) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(confirmation)
	if err != nil {
		return fmt.Errorf("marshal order confirmation: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: confirmationAttributes(confirmation),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order confirmation: %w", err)
	}
	return nil
}

func confirmationAttributes(confirmation services.OrderConfirmation) map[string]string {
	attrs := map[string]string{"eventType": EventOrderConfirmation}
	setAttr(attrs, "orderId", confirmation.OrderID)
	setAttr(attrs, "orderNumber", confirmation.OrderNumber)
	setAttr(attrs, "locale", confirmation.Locale)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
