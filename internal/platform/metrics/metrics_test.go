package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SampleTransition("collected")
	m.SampleTransition("collected")
	m.SampleTransition("rejected")
	m.AlertsPublished("results", 3)
	m.AlertsPublished("results", 0)
	m.ObserveRequest("GET", "/api/v1/samples", "200", 0.01)

	body := scrape(t, m)
	assert.Contains(t, body, `lims_sample_transitions_total{to="collected"} 2`)
	assert.Contains(t, body, `lims_sample_transitions_total{to="rejected"} 1`)
	assert.Contains(t, body, `lims_alerts_published_total{kind="results"} 3`)
	assert.Contains(t, body, `lims_http_requests_total{method="GET",route="/api/v1/samples",status_code="200"} 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.SampleTransition("collected")
	m.AlertsPublished("rejections", 1)
	m.ObserveRequest("GET", "/", "200", 0)
}
