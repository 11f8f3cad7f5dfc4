package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lims/lims/internal/platform/metrics"
)

func TestMetrics_RecordsRouteTemplate(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/samples/abc", nil), httptest.NewRecorder())
	c.SetPath("/api/v1/samples/:id")
	Metrics(m)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound)
	})(c)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `lims_http_requests_total{method="GET",route="/api/v1/samples/:id",status_code="404"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("expected %s in scrape output", want)
	}
}
