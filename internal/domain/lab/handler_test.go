package lab

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(actorCtx())
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withID(c echo.Context, id uuid.UUID) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	return c
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected *echo.HTTPError, got %T (%v)", err, err)
	return he.Code
}

func TestHandler_RegisterSample(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()

	body := `{"hospital_id":"` + hospitalID.String() + `",
		"patient":{"name":"Meera Nair","age":34,"gender":"female"},
		"investigation_ids":["` + f.hb.String() + `"]}`
	c, rec := request(e, http.MethodPost, "/api/v1/samples", body)
	require.NoError(t, h.RegisterSample(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var s Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, StatusRegistered, s.Status)
	assert.Equal(t, nodalID, s.NodalID)
}

func TestHandler_RegisterSample_Invalid(t *testing.T) {
	h, e := NewHandler(newFixture().svc), echo.New()
	c, _ := request(e, http.MethodPost, "/api/v1/samples", `{"priority":"later"}`)
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.RegisterSample(c)))
}

func TestHandler_WorkflowSteps(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	s := f.register(t)

	c, rec := request(e, http.MethodPost, "/", `{"notes":"left arm"}`)
	require.NoError(t, h.Collect(withID(c, s.ID)))
	assert.Contains(t, rec.Body.String(), `"status":"collected"`)

	c, rec = request(e, http.MethodPost, "/", "")
	require.NoError(t, h.Receive(withID(c, s.ID)))
	assert.Contains(t, rec.Body.String(), `"status":"received"`)

	c, _ = request(e, http.MethodPost, "/", "")
	assert.Equal(t, http.StatusConflict, httpCode(t, h.Approve(withID(c, s.ID))))

	c, _ = request(e, http.MethodPost, "/", `{}`)
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.Reject(withID(c, s.ID))))

	c, rec = request(e, http.MethodPost, "/", `{"reason":"insufficient volume"}`)
	require.NoError(t, h.Reject(withID(c, s.ID)))
	assert.Contains(t, rec.Body.String(), `"reject_reason":"insufficient volume"`)
}

func TestHandler_EnterResults(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	s := f.received(t)

	body := `{"results":[{"investigation_id":"` + f.hb.String() + `","value":"17"},
		{"investigation_id":"` + f.glu.String() + `","value":"90"}]}`
	c, rec := request(e, http.MethodPut, "/", body)
	require.NoError(t, h.EnterResults(withID(c, s.ID)))

	var resp resultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusResulted, resp.Sample.Status)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "H", resp.Results[0].Flag)
	assert.Equal(t, "N", resp.Results[1].Flag)
}

func TestHandler_GetSample_NotFound(t *testing.T) {
	h, e := NewHandler(newFixture().svc), echo.New()
	c, _ := request(e, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusNotFound, httpCode(t, h.GetSample(withID(c, uuid.New()))))

	c, _ = request(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.GetSample(c)))
}

func TestHandler_ListSamples_Filters(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	f.register(t)

	c, rec := request(e, http.MethodGet, "/api/v1/samples?status=registered&hospital_id="+hospitalID.String(), "")
	require.NoError(t, h.ListSamples(c))
	assert.Contains(t, rec.Body.String(), `"total":1`)

	c, _ = request(e, http.MethodGet, "/api/v1/samples?nodal_id=xyz", "")
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.ListSamples(c)))

	c, _ = request(e, http.MethodGet, "/api/v1/samples?status=lost", "")
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.ListSamples(c)))
}

func TestHandler_GetReport(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	s := f.resulted(t)

	c, rec := request(e, http.MethodGet, "/", "")
	require.NoError(t, h.GetReport(withID(c, s.ID)))

	var r Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Len(t, r.Lines, 2)
	assert.False(t, r.Final)
}

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	NewHandler(newFixture().svc).RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST /api/v1/samples":                   false,
		"GET /api/v1/samples/barcode/:barcode":   false,
		"POST /api/v1/samples/:id/collect":       false,
		"POST /api/v1/samples/:id/recollect":     false,
		"POST /api/v1/samples/:id/receive":       false,
		"POST /api/v1/samples/:id/reject":        false,
		"PUT /api/v1/samples/:id/results":        false,
		"POST /api/v1/samples/:id/approve":       false,
		"POST /api/v1/samples/:id/cancel":        false,
		"POST /api/v1/samples/:id/rerun":         false,
		"GET /api/v1/samples/:id/report":         false,
		"GET /api/v1/samples/:id/events":         false,
		"PUT /api/v1/patients/:id":               false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		assert.True(t, found, "route %s not registered", route)
	}
}
