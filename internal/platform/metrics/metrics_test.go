package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector_Twice(t *testing.T) {
	// Separate registries mean no duplicate registration panic.
	NewCollector("urgencias")
	NewCollector("urgencias")
}

func TestMiddleware_CountsByRoute(t *testing.T) {
	c := NewCollector("urgencias")
	e := echo.New()
	e.Use(c.Middleware())
	e.GET("/api/v1/beds/:id", func(ctx echo.Context) error { return ctx.NoContent(http.StatusOK) })
	e.GET("/api/v1/missing", func(ctx echo.Context) error { return echo.NewHTTPError(http.StatusNotFound) })

	for _, path := range []string{"/api/v1/beds/a", "/api/v1/beds/b", "/api/v1/missing"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	ok := testutil.ToFloat64(c.RequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/beds/:id", "200"))
	if ok != 2 {
		t.Errorf("expected 2 requests on bed route, got %v", ok)
	}
	nf := testutil.ToFloat64(c.RequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/missing", "404"))
	if nf != 1 {
		t.Errorf("expected 1 404, got %v", nf)
	}
	if v := testutil.ToFloat64(c.InFlightGauge); v != 0 {
		t.Errorf("expected in-flight gauge back at 0, got %v", v)
	}
}

func TestHandler_ExposesDomainCounters(t *testing.T) {
	c := NewCollector("urgencias")
	c.EncounterTransitions.WithLabelValues("seen", "in_icu").Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `urgencias_encounter_transitions_total{from="seen",to="in_icu"} 1`) {
		t.Errorf("expected transition counter in output")
	}
}
