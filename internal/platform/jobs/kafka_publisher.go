package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

// MessageWriter is the subset of *kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotificationPublisher writes rendered order confirmations to a Kafka topic, keyed by
// order id so retries for one order stay on one partition.
type KafkaNotificationPublisher struct {
	writer  MessageWriter
	marshal func(any) ([]byte, error)
}

var _ services.OrderNotificationSender = (*KafkaNotificationPublisher)(nil)

// NewKafkaWriter builds a writer for the confirmation topic.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	addrs := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka notification publisher: at least one broker is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("kafka notification publisher: topic is required")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, nil
}

// NewKafkaNotificationPublisher constructs a publisher around writer.
func NewKafkaNotificationPublisher(writer MessageWriter) (*KafkaNotificationPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka notification publisher: writer is required")
	}
	return &KafkaNotificationPublisher{
		writer:  writer,
		marshal: json.Marshal,
	}, nil
}

// SendOrderConfirmation writes one message and blocks until the brokers acknowledge it.
func (p *KafkaNotificationPublisher) SendOrderConfirmation(ctx context.Context, confirmation services.OrderConfirmation) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka notification publisher: not initialised")
	}

	data, err := p.marshal(confirmation)
	if err != nil {
		return fmt.Errorf("marshal order confirmation: %w", err)
	}

	attrs := confirmationAttributes(confirmation)
	headers := make([]kafka.Header, 0, len(attrs))
	for _, key := range []string{"eventType", "orderId", "orderNumber", "locale"} {
		if value, ok := attrs[key]; ok {
			headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
		}
	}

	msg := kafka.Message{
		Key:     []byte(confirmation.OrderID),
		Value:   data,
		Headers: headers,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write order confirmation: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaNotificationPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
