package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its own registry so tests can build one per case.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	EncounterTransitions *prometheus.CounterVec
	BedOperations        *prometheus.CounterVec
	NotificationsCreated *prometheus.CounterVec
	PushFailures         *prometheus.CounterVec
	WaitAlertsTotal      prometheus.Counter
	NotificationsPurged  prometheus.Counter
}

func NewCollector(serviceName string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		EncounterTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "encounter",
			Name:      "transitions_total",
			Help:      "Committed encounter state transitions.",
		}, []string{"from", "to"}),

		BedOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "bed",
			Name:      "operations_total",
			Help:      "Bed registry operations by kind and outcome.",
		}, []string{"operation", "outcome"}),

		NotificationsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "notification",
			Name:      "created_total",
			Help:      "Inbox notifications persisted by type and priority.",
		}, []string{"type", "priority"}),

		PushFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "notification",
			Name:      "push_failures_total",
			Help:      "Best-effort push deliveries that failed.",
		}, []string{"transport"}),

		WaitAlertsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "encounter",
			Name:      "wait_alerts_total",
			Help:      "Encounters alerted for exceeding their triage maximum wait.",
		}),

		NotificationsPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "notification",
			Name:      "purged_total",
			Help:      "Read notifications deleted by the retention job.",
		}),
	}
}

// Registry exposes the collector's registry for extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency labelled by route template.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if ctx.Path() == "/metrics" {
				return next(ctx)
			}
			c.InFlightGauge.Inc()
			defer c.InFlightGauge.Dec()

			start := time.Now()
			err := next(ctx)

			status := ctx.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			labels := prometheus.Labels{
				"method": ctx.Request().Method,
				"path":   ctx.Path(),
				"status": strconv.Itoa(status),
			}
			c.RequestsTotal.With(labels).Inc()
			c.RequestDuration.With(labels).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
