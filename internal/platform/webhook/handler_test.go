package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEcho(m *Manager) *echo.Echo {
	e := echo.New()
	NewHandler(m).RegisterRoutes(e.Group("/admin"))
	return e
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateShowsSecretOnce(t *testing.T) {
	e := newTestEcho(newTestManager(newMemStore()))

	rec := serve(e, http.MethodPost, "/admin/webhooks",
		`{"url":"https://example.com/hook","kinds":["results"],"description":"ward board"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Len(t, created["secret"], 64)
	assert.Equal(t, "active", created["status"])
	assert.Equal(t, "ward board", created["description"])

	rec = serve(e, http.MethodGet, "/admin/webhooks/"+created["id"].(string), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.NotContains(t, fetched, "secret")

	rec = serve(e, http.MethodGet, "/admin/webhooks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created["secret"].(string))
}

func TestHandler_Errors(t *testing.T) {
	e := newTestEcho(newTestManager(newMemStore()))

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"invalid body", http.MethodPost, "/admin/webhooks", `{"url":`, http.StatusBadRequest},
		{"validation", http.MethodPost, "/admin/webhooks", `{"url":"nope","kinds":["results"]}`, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/admin/webhooks/not-a-uuid", "", http.StatusBadRequest},
		{"unknown", http.MethodGet, "/admin/webhooks/7d8e9f00-0000-4000-8000-000000000000", "", http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/admin/webhooks/7d8e9f00-0000-4000-8000-000000000000", "", http.StatusNotFound},
		{"retry unknown", http.MethodPost, "/admin/webhooks/deliveries/7d8e9f00-0000-4000-8000-000000000000/retry", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_Lifecycle(t *testing.T) {
	rcv := newReceiver(t)
	e := newTestEcho(newTestManager(newMemStore()))

	rec := serve(e, http.MethodPost, "/admin/webhooks", `{"url":"`+rcv.URL+`","kinds":["results"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var ep Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ep))
	base := "/admin/webhooks/" + ep.ID.String()

	rec = serve(e, http.MethodPost, base+"/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"paused"`)

	rec = serve(e, http.MethodPost, base+"/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)

	rec = serve(e, http.MethodPut, base, `{"url":"`+rcv.URL+`/v2","kinds":["results","rejections"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"kinds":["results","rejections"]`)

	rec = serve(e, http.MethodPost, base+"/test", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var d Delivery
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, DeliverySuccess, d.Status)

	rec = serve(e, http.MethodGet, base+"/deliveries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), d.ID.String())

	rec = serve(e, http.MethodPost, "/admin/webhooks/deliveries/"+d.ID.String()+"/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(e, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = serve(e, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
