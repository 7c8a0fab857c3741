package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
	"github.com/Babacarjopp/senmedicaltech/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func decodeHealthBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
}

func TestHealthzReportsBuildAndUptime(t *testing.T) {
	started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(90 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var body healthzResponse
	decodeHealthBody(t, rr, &body)
	want := healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     "1.0.0",
		CommitSHA:   "abc123",
		Environment: "prod",
		Uptime:      "1m30s",
		Timestamp:   "2026-03-01T00:01:30Z",
	}
	if body != want {
		t.Fatalf("healthz = %+v, want %+v", body, want)
	}
}

func TestReadyz(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 1, 0, 0, time.UTC)

	tests := []struct {
		name        string
		system      services.SystemService
		wantStatus  int
		wantHealth  string
		wantDetails []string
		wantChecks  []string
		wantBackend string
		wantNotify  *readyzNotifications
	}{
		{
			name:       "no dependencies configured",
			wantStatus: http.StatusOK,
			wantHealth: domain.HealthStatusOK,
		},
		{
			name: "all checks pass",
			system: &stubSystemService{report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				Version:     "1.0.0",
				Uptime:      time.Minute,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
					"inventory": {Status: domain.HealthStatusOK, Detail: "redis"},
				},
			}},
			wantStatus: http.StatusOK,
			wantHealth: domain.HealthStatusOK,
			wantChecks: []string{"firestore", "inventory"},
		},
		{
			name: "degraded notifier",
			system: &stubSystemService{report: services.SystemHealthReport{
				Status:           domain.HealthStatusDegraded,
				InventoryBackend: "redis",
				Notifications: domain.NotificationHealth{
					Transport:     "pubsub",
					BreakerState:  "open",
					QueueDepth:    4,
					QueueCapacity: 256,
					Failed:        3,
				},
				Checks: map[string]domain.SystemHealthCheck{
					"firestore":     {Status: domain.HealthStatusOK},
					"notifications": {Status: domain.HealthStatusDegraded, Error: "breaker open"},
				},
			}},
			wantStatus:  http.StatusOK,
			wantHealth:  domain.HealthStatusDegraded,
			wantDetails: []string{"notifications: breaker open"},
			wantChecks:  []string{"firestore", "notifications"},
			wantBackend: "redis",
			wantNotify:  &readyzNotifications{Transport: "pubsub", BreakerState: "open", QueueDepth: 4, QueueCapacity: 256, Failed: 3},
		},
		{
			name: "status without error text",
			system: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"inventory": {Status: domain.HealthStatusError},
				},
			}},
			wantStatus:  http.StatusServiceUnavailable,
			wantHealth:  domain.HealthStatusError,
			wantDetails: []string{"inventory: " + domain.HealthStatusError},
			wantChecks:  []string{"inventory"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := []HealthOption{WithHealthClock(func() time.Time { return now })}
			if tc.system != nil {
				opts = append(opts, WithHealthSystemService(tc.system))
			}
			rr := httptest.NewRecorder()
			NewHealthHandlers(opts...).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			var body readyzResponse
			decodeHealthBody(t, rr, &body)
			if body.Status != tc.wantHealth {
				t.Fatalf("health = %q, want %q", body.Status, tc.wantHealth)
			}
			if !slices.Equal(body.Details, tc.wantDetails) {
				t.Fatalf("details = %v, want %v", body.Details, tc.wantDetails)
			}
			var names []string
			for name := range body.Checks {
				names = append(names, name)
			}
			slices.Sort(names)
			if !slices.Equal(names, tc.wantChecks) {
				t.Fatalf("checks = %v, want %v", names, tc.wantChecks)
			}
			if body.GeneratedAt != now.Format(time.RFC3339) {
				t.Fatalf("generatedAt = %q", body.GeneratedAt)
			}
			if body.InventoryBackend != tc.wantBackend {
				t.Fatalf("inventoryBackend = %q, want %q", body.InventoryBackend, tc.wantBackend)
			}
			switch {
			case tc.wantNotify == nil && body.Notifications != nil:
				t.Fatalf("did not expect notifications, got %+v", body.Notifications)
			case tc.wantNotify != nil && (body.Notifications == nil || *body.Notifications != *tc.wantNotify):
				t.Fatalf("notifications = %+v, want %+v", body.Notifications, tc.wantNotify)
			}
		})
	}
}

func TestReadyzReportErrorUsesEnvelope(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("firestore down")}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	decodeHealthBody(t, rr, &body)
	if body["error"] != "health_check_failed" {
		t.Fatalf("body = %v", body)
	}
}
