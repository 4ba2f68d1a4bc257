package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ehr/urgencias/internal/config"
	"github.com/ehr/urgencias/internal/platform/auth"
	"github.com/ehr/urgencias/internal/platform/metrics"
	"github.com/ehr/urgencias/internal/platform/websocket"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                       "development",
		CORSOrigins:               []string{"http://localhost:3000"},
		WaitAlertSchedule:         "0 */1 * * * *",
		NotificationPurgeSchedule: "0 30 3 * * *",
		NotificationRetentionDays: 30,
	}
}

func TestRouter_Health(t *testing.T) {
	e := newRouter(testConfig(), zerolog.Nop(), metrics.NewCollector("test"), noop.NewTracerProvider())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), version) {
		t.Errorf("expected version in body, got %s", rec.Body.String())
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected request id header")
	}
}

func TestRouter_Metrics(t *testing.T) {
	collector := metrics.NewCollector("test")
	collector.WaitAlertsTotal.Inc()
	e := newRouter(testConfig(), zerolog.Nop(), collector, noop.NewTracerProvider())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wait_alerts_total") {
		t.Errorf("expected wait alert counter exposed")
	}
}

func TestAuthMiddleware_DevAllowsAnonymousAdmin(t *testing.T) {
	e := echo.New()
	var roles []string
	h := authMiddleware(testConfig())(func(c echo.Context) error {
		roles = auth.RolesFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 || roles[0] != auth.RoleAdmin {
		t.Errorf("expected admin role, got %v", roles)
	}
}

func TestAuthMiddleware_ProductionRequiresToken(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthJWKSURL = "http://127.0.0.1:1/jwks"
	e := echo.New()
	h := authMiddleware(cfg)(func(c echo.Context) error { return nil })
	err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

type fakeWaits struct{ calls int }

func (f *fakeWaits) AlertOverdueWaits(context.Context) (int, error) {
	f.calls++
	return 2, nil
}

type fakePurger struct {
	retention time.Duration
	err       error
}

func (f *fakePurger) PurgeRead(_ context.Context, retention time.Duration) (int, error) {
	f.retention = retention
	return 5, f.err
}

func TestMaintenanceJobs(t *testing.T) {
	cfg := testConfig()
	cfg.NotificationRetentionDays = 7
	waits, purger := &fakeWaits{}, &fakePurger{}
	jobs := maintenanceJobs(cfg, waits, purger, zerolog.Nop())
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Schedule != cfg.WaitAlertSchedule || jobs[1].Schedule != cfg.NotificationPurgeSchedule {
		t.Errorf("unexpected schedules %q %q", jobs[0].Schedule, jobs[1].Schedule)
	}
	for _, j := range jobs {
		if err := j.Run(context.Background()); err != nil {
			t.Errorf("%s: unexpected error: %v", j.Name, err)
		}
	}
	if waits.calls != 1 {
		t.Errorf("expected wait scan once, got %d", waits.calls)
	}
	if purger.retention != 7*24*time.Hour {
		t.Errorf("expected 7 day retention, got %s", purger.retention)
	}

	purger.err = errors.New("db down")
	if err := jobs[1].Run(context.Background()); err == nil {
		t.Error("expected purge error returned to the runner")
	}
}

func TestPushTransports_LocalOnly(t *testing.T) {
	got := pushTransports(websocket.NewHub(zerolog.Nop()), nil, nil)
	if len(got) != 1 || got[0].Name != "websocket" {
		t.Fatalf("expected only the websocket hub, got %+v", got)
	}
}

func TestMigrationFiles_Embedded(t *testing.T) {
	f, err := migrationFiles("").Open("001_core.sql")
	if err != nil {
		t.Fatalf("expected embedded migration, got %v", err)
	}
	f.Close()
}
