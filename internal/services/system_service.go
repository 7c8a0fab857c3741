package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	"github.com/Babacarjopp/senmedicaltech/internal/repositories"
)

const (
	notificationsCheck = "notifications"
	breakerOpen        = "open"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps wires readiness reporting. Queue and BreakerState are optional; without
// them the notifications check is omitted.
type SystemServiceDeps struct {
	HealthRepository      repositories.HealthRepository
	Clock                 func() time.Time
	Build                 BuildInfo
	InventoryBackend      string
	NotificationTransport string
	Queue                 NotificationQueue
	BreakerState          func() string
}

type systemService struct {
	checks    repositories.HealthRepository
	now       func() time.Time
	build     BuildInfo
	backend   string
	transport string
	queue     NotificationQueue
	breaker   func() string
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		checks:    deps.HealthRepository,
		now:       func() time.Time { return clock().UTC() },
		build:     build,
		backend:   strings.TrimSpace(deps.InventoryBackend),
		transport: strings.TrimSpace(deps.NotificationTransport),
		queue:     deps.Queue,
		breaker:   deps.BreakerState,
	}, nil
}

// HealthReport runs the dependency checks, then folds in build metadata and the state of the
// confirmation pipeline. An open breaker or a saturated queue marks the report degraded,
// which keeps the instance ready.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.checks.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, fmt.Errorf("system service: collect checks: %w", err)
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.CommitSHA == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	report.InventoryBackend = s.backend
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}

	if s.queue != nil || s.breaker != nil {
		health, check := s.notifications(now)
		report.Notifications = health
		report.Checks[notificationsCheck] = check
	} else {
		report.Notifications.Transport = s.transport
	}

	report.Status = worstStatus(report.Status, report.Checks)
	return report, nil
}

func (s *systemService) notifications(now time.Time) (domain.NotificationHealth, domain.SystemHealthCheck) {
	health := domain.NotificationHealth{Transport: s.transport}
	if s.breaker != nil {
		health.BreakerState = s.breaker()
	}
	if s.queue != nil {
		stats := s.queue.QueueStats()
		health.QueueDepth = stats.Depth
		health.QueueCapacity = stats.Capacity
		health.Dropped = stats.Dropped
		health.Failed = stats.Failed
	}

	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    fmt.Sprintf("transport=%s breaker=%s queue=%d/%d", health.Transport, health.BreakerState, health.QueueDepth, health.QueueCapacity),
		CheckedAt: now,
	}
	var problems []string
	if health.BreakerState == breakerOpen {
		problems = append(problems, "breaker open")
	}
	if health.QueueCapacity > 0 && health.QueueDepth >= health.QueueCapacity {
		problems = append(problems, "queue full")
	}
	if len(problems) > 0 {
		check.Status = domain.HealthStatusDegraded
		check.Error = strings.Join(problems, ", ")
	}
	return health, check
}

var statusRank = map[string]int{
	"":                          0,
	domain.HealthStatusOK:       0,
	domain.HealthStatusDegraded: 1,
	domain.HealthStatusError:    2,
}

// worstStatus combines the collected status with every check. Unknown statuses count as degraded.
func worstStatus(current string, checks map[string]domain.SystemHealthCheck) string {
	worst := domain.HealthStatusOK
	consider := func(status string) {
		rank, ok := statusRank[status]
		if !ok {
			rank, status = 1, domain.HealthStatusDegraded
		}
		if rank > statusRank[worst] {
			worst = status
		}
	}
	consider(current)
	for _, check := range checks {
		consider(check.Status)
	}
	return worst
}
