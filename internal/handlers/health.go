package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	"github.com/Babacarjopp/senmedicaltech/internal/platform/httpx"
	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService provides the dependency checks used by /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo sets the version metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the liveness and readiness handlers. Without a system service /readyz only reports
// process liveness.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type readyzCheck struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type readyzNotifications struct {
	Transport     string `json:"transport,omitempty"`
	BreakerState  string `json:"breakerState,omitempty"`
	QueueDepth    int    `json:"queueDepth"`
	QueueCapacity int    `json:"queueCapacity"`
	Dropped       int64  `json:"dropped"`
	Failed        int64  `json:"failed"`
}

type readyzResponse struct {
	Status           string                 `json:"status"`
	Version          string                 `json:"version,omitempty"`
	CommitSHA        string                 `json:"commitSha,omitempty"`
	Environment      string                 `json:"environment,omitempty"`
	Uptime           string                 `json:"uptime,omitempty"`
	GeneratedAt      string                 `json:"generatedAt"`
	InventoryBackend string                 `json:"inventoryBackend,omitempty"`
	Notifications    *readyzNotifications   `json:"notifications,omitempty"`
	Checks           map[string]readyzCheck `json:"checks"`
	Details          []string               `json:"details,omitempty"`
}

// Healthz reports that the process is serving requests.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz runs the dependency checks. Degraded reports still answer 200 with details; any
// other non-ok status answers 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.clock().UTC()

	if h.system == nil {
		httpx.WriteJSON(w, http.StatusOK, readyzResponse{
			Status:      domain.HealthStatusOK,
			GeneratedAt: now.Format(time.RFC3339),
			Checks:      map[string]readyzCheck{},
		})
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_check_failed", "unable to collect dependency status", http.StatusServiceUnavailable))
		return
	}

	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = now
	}
	response := readyzResponse{
		Status:           report.Status,
		Version:          report.Version,
		CommitSHA:        report.CommitSHA,
		Environment:      report.Environment,
		GeneratedAt:      generated.UTC().Format(time.RFC3339),
		InventoryBackend: report.InventoryBackend,
		Checks:           make(map[string]readyzCheck, len(report.Checks)),
	}
	if n := report.Notifications; n != (domain.NotificationHealth{}) {
		response.Notifications = &readyzNotifications{
			Transport:     n.Transport,
			BreakerState:  n.BreakerState,
			QueueDepth:    n.QueueDepth,
			QueueCapacity: n.QueueCapacity,
			Dropped:       n.Dropped,
			Failed:        n.Failed,
		}
	}
	if report.Uptime > 0 {
		response.Uptime = report.Uptime.Round(time.Second).String()
	}
	if strings.TrimSpace(response.Status) == "" {
		response.Status = domain.HealthStatusOK
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		entry := readyzCheck{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		}
		if !check.CheckedAt.IsZero() {
			entry.CheckedAt = check.CheckedAt.UTC().Format(time.RFC3339)
		}
		response.Checks[name] = entry
		if check.Status != domain.HealthStatusOK && check.Status != "" {
			reason := check.Error
			if reason == "" {
				reason = check.Status
			}
			response.Details = append(response.Details, fmt.Sprintf("%s: %s", name, reason))
		}
	}

	status := http.StatusOK
	if response.Status != domain.HealthStatusOK && response.Status != domain.HealthStatusDegraded {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, response)
}
