package domain

import "time"

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but the service keeps running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a critical dependency such as the stock ledger is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// NotificationHealth snapshots the confirmation pipeline: transport breaker and dispatcher
// queue.
type NotificationHealth struct {
	Transport     string
	BreakerState  string
	QueueDepth    int
	QueueCapacity int
	Dropped       int64
	Failed        int64
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status           string
	Checks           map[string]SystemHealthCheck
	Version          string
	CommitSHA        string
	Environment      string
	InventoryBackend string
	Notifications    NotificationHealth
	Uptime           time.Duration
	GeneratedAt      time.Time
}
