package config

import "strings"

type checker struct {
	fields []string
}

func (c *checker) require(ok bool, field string) {
	if !ok {
		c.fields = append(c.fields, field)
	}
}

func present(value string) bool { return strings.TrimSpace(value) != "" }

func validate(cfg Config) error {
	var c checker
	c.require(present(cfg.Server.Port), "Server.Port")
	c.require(present(cfg.Firebase.ProjectID), "Firebase.ProjectID")
	c.require(present(cfg.Firestore.ProjectID) || cfg.Inventory.Backend == InventoryBackendMemory, "Firestore.ProjectID")

	c.require(present(cfg.Idempotency.Header), "Idempotency.Header")
	c.require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	c.require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	c.require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	switch cfg.Inventory.Backend {
	case InventoryBackendFirestore, InventoryBackendMemory:
	case InventoryBackendRedis:
		c.require(present(cfg.Inventory.Redis.Addr), "Inventory.Redis.Addr")
	default:
		c.require(false, "Inventory.Backend")
	}

	c.require(len(cfg.Orders.AllowedPaymentMethods) > 0, "Orders.AllowedPaymentMethods")
	c.require(len(cfg.Orders.Currency) == 3, "Orders.Currency")
	c.require(present(cfg.Orders.NumberPrefix), "Orders.NumberPrefix")

	notifications := cfg.Notifications
	switch notifications.Transport {
	case NotificationTransportLog:
	case NotificationTransportPubSub:
		c.require(present(notifications.Topic), "Notifications.Topic")
	case NotificationTransportKafka:
		c.require(present(notifications.Topic), "Notifications.Topic")
		c.require(len(notifications.Brokers) > 0, "Notifications.Brokers")
	default:
		c.require(false, "Notifications.Transport")
	}
	c.require(notifications.QueueSize > 0, "Notifications.QueueSize")
	c.require(notifications.Workers > 0, "Notifications.Workers")
	c.require(notifications.SendTimeout > 0, "Notifications.SendTimeout")

	if len(c.fields) > 0 {
		return &ValidationError{fields: c.fields}
	}
	return nil
}
