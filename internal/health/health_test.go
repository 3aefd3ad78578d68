package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/hms/internal/domain"
)

func okCheck(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", okCheck))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}
	if len(response.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", func(context.Context) error {
		return errors.New("connection refused")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", response.Status)
	}
	if response.Checks["postgres"].Message != "connection refused" {
		t.Errorf("unexpected message %q", response.Checks["postgres"].Message)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %s", w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("outbox", &OutboxBacklogChecker{
		source: stubStats{stats: domain.OutboxStats{PendingCount: 3, OldestPendingAt: time.Unix(0, 0)}},
		maxAge: time.Minute,
		now:    time.Now,
	})

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("degraded must stay ready, got %d", w.Code)
	}

	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", func(context.Context) error {
		return errors.New("down")
	}))
	w = httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if w.Body.String() != "not ready" {
		t.Errorf("expected body 'not ready', got %s", w.Body.String())
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestPingChecker(t *testing.T) {
	if got := NewPingChecker("postgres", stubPinger{}).Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", got.Status)
	}
	got := NewPingChecker("postgres", stubPinger{err: errors.New("timeout")}).Check(context.Background())
	if got.Status != StatusUnhealthy || got.Message != "timeout" {
		t.Errorf("unexpected check %+v", got)
	}
}

type stubStats struct {
	stats domain.OutboxStats
	err   error
}

func (s stubStats) Stats(context.Context) (domain.OutboxStats, error) { return s.stats, s.err }

func TestOutboxBacklogChecker(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tests := []struct {
		name  string
		stats domain.OutboxStats
		err   error
		want  Status
	}{
		{name: "empty", want: StatusHealthy},
		{name: "fresh", stats: domain.OutboxStats{PendingCount: 2, OldestPendingAt: now.Add(-10 * time.Second)}, want: StatusHealthy},
		{name: "stale", stats: domain.OutboxStats{PendingCount: 2, OldestPendingAt: now.Add(-10 * time.Minute)}, want: StatusDegraded},
		{name: "error", err: errors.New("db down"), want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewOutboxBacklogChecker(stubStats{stats: tt.stats, err: tt.err}, time.Minute)
			c.now = clock
			if got := c.Check(context.Background()); got.Status != tt.want {
				t.Errorf("expected %s, got %s (%s)", tt.want, got.Status, got.Message)
			}
		})
	}
}
