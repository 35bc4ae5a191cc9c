package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remu",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "remu",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remu",
			Subsystem: "ledger",
			Name:      "registrations_total",
			Help:      "Account registrations by outcome.",
		},
		[]string{"outcome"},
	)

	referralBonuses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remu",
			Subsystem: "ledger",
			Name:      "referral_bonus_total",
			Help:      "Referral bonus attempts by outcome (applied, ignored, failed).",
		},
		[]string{"outcome"},
	)

	orphanIdentities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remu",
			Subsystem: "reconcile",
			Name:      "orphan_identities",
			Help:      "Identities without an account record found by the last sweep.",
		},
	)
)

func init() {
	Registry.MustRegister(httpRequests, httpDuration, registrations, referralBonuses, orphanIdentities)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per route template.
func Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
		}
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
		return err
	}
}

func RecordRegistration(outcome string) {
	registrations.WithLabelValues(outcome).Inc()
}

func RecordReferralBonus(outcome string) {
	referralBonuses.WithLabelValues(outcome).Inc()
}

func SetOrphanIdentities(n int) {
	orphanIdentities.Set(float64(n))
}
