// Package metrics holds the Prometheus collectors shared by the HTTP
// middleware, the sample workflow and the alerts watcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	sampleTransitions *prometheus.CounterVec
	alertsPublished   *prometheus.CounterVec
	gatherer          prometheus.Gatherer
}

// New creates the collectors and registers them on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lims_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lims_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		sampleTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lims_sample_transitions_total",
				Help: "Sample status transitions by target status",
			},
			[]string{"to"},
		),
		alertsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lims_alerts_published_total",
				Help: "Alert items pushed to websocket subscribers",
			},
			[]string{"kind"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.sampleTransitions, m.alertsPublished)
	return m
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

// SampleTransition counts a sample moving to status to.
func (m *Metrics) SampleTransition(to string) {
	if m == nil {
		return
	}
	m.sampleTransitions.WithLabelValues(to).Inc()
}

// AlertsPublished counts n alert items of kind delivered to the hub.
func (m *Metrics) AlertsPublished(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.alertsPublished.WithLabelValues(kind).Add(float64(n))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
