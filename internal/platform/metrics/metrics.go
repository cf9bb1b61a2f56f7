// Package metrics holds the Prometheus collectors for matching, referral
// lifecycle, directory sync and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	MatchRequests       *prometheus.CounterVec
	MatchDuration       *prometheus.HistogramVec
	MatchResults        prometheus.Histogram
	ReferralsCreated    prometheus.Counter
	ReferralTransitions *prometheus.CounterVec
	ReferralOutcomes    *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	SyncRuns            *prometheus.CounterVec
	SyncDuration        *prometheus.HistogramVec
	SyncRecords         *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates all collectors and registers them with reg. A nil reg uses a
// fresh private registry, which keeps tests independent of each other.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		MatchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdoh_match_requests_total",
			Help: "Matching requests by kind (search, needs)",
		}, []string{"kind"}),
		MatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sdoh_match_duration_seconds",
			Help:    "Matching pipeline duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"kind"}),
		MatchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sdoh_match_results",
			Help:    "Matched resources per search before pagination",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		ReferralsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sdoh_referrals_created_total",
			Help: "Total referrals created",
		}),
		ReferralTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdoh_referral_transitions_total",
			Help: "Referral status transitions",
		}, []string{"from", "to"}),
		ReferralOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdoh_referral_outcomes_total",
			Help: "Referral outcomes recorded by type",
		}, []string{"type"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdoh_events_published_total",
			Help: "Referral events published by result (ok, error)",
		}, []string{"result"}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdoh_directory_sync_runs_total",
			Help: "Directory sync runs per provider by result (ok, error)",
		}, []string{"provider", "result"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sdoh_directory_sync_duration_seconds",
			Help:    "Directory sync duration per provider",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		SyncRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdoh_directory_sync_records_total",
			Help: "Directory records processed per provider by action (created, updated, skipped)",
		}, []string{"provider", "action"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sdoh_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdoh_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sdoh_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.MatchRequests,
		m.MatchDuration,
		m.MatchResults,
		m.ReferralsCreated,
		m.ReferralTransitions,
		m.ReferralOutcomes,
		m.EventsPublished,
		m.SyncRuns,
		m.SyncDuration,
		m.SyncRecords,
		m.CircuitBreakerState,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for the registry m was built on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
