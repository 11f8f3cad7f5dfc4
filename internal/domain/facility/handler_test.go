package facility

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(newTestService()), echo.New()
}

func jsonContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTP %d, got %v", code, err)
	}
	if he.Code != code {
		t.Fatalf("expected HTTP %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_CreateNodal(t *testing.T) {
	h, e := newTestHandler()
	c, rec := jsonContext(e, http.MethodPost, "/api/v1/nodals",
		`{"name":"District Lab Rampur","code":"NL-RMP","city":"Rampur","pincode":"244901"}`)

	if err := h.CreateNodal(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var n Nodal
	json.Unmarshal(rec.Body.Bytes(), &n)
	if n.Code != "NL-RMP" || n.City != "Rampur" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_CreateNodal_ValidationFields(t *testing.T) {
	h, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodPost, "/api/v1/nodals", `{"name":"District Lab","code":"x"}`)

	err := h.CreateNodal(c)
	expectHTTPError(t, err, http.StatusBadRequest)
	body := err.(*echo.HTTPError).Message.(map[string]interface{})
	if !strings.Contains(jsonString(body["fields"]), `"code"`) {
		t.Errorf("expected code field error, got %v", body)
	}
}

func jsonString(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestHandler_CreateNodal_Duplicate(t *testing.T) {
	h, e := newTestHandler()
	body := `{"name":"District Lab Rampur","code":"NL-RMP"}`
	c, _ := jsonContext(e, http.MethodPost, "/api/v1/nodals", body)
	if err := h.CreateNodal(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, _ = jsonContext(e, http.MethodPost, "/api/v1/nodals", body)
	expectHTTPError(t, h.CreateNodal(c), http.StatusConflict)
}

func TestHandler_GetNodal(t *testing.T) {
	h, e := newTestHandler()
	n := validNodal()
	h.svc.CreateNodal(context.Background(), n)

	c, rec := jsonContext(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if err := h.GetNodal(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetNodal_InvalidID(t *testing.T) {
	h, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPError(t, h.GetNodal(c), http.StatusBadRequest)
}

func TestHandler_GetNodal_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	expectHTTPError(t, h.GetNodal(c), http.StatusNotFound)
}

func TestHandler_ListNodals(t *testing.T) {
	h, e := newTestHandler()
	h.svc.CreateNodal(context.Background(), validNodal())

	c, rec := jsonContext(e, http.MethodGet, "/api/v1/nodals?q=rampur&limit=5", "")
	if err := h.ListNodals(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Data  []Nodal `json:"data"`
		Total int     `json:"total"`
		Limit int     `json:"limit"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Data) != 1 || resp.Limit != 5 {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
}

func TestHandler_DeleteNodal_Conflict(t *testing.T) {
	h, e := newTestHandler()
	n := validNodal()
	h.svc.CreateNodal(context.Background(), n)
	h.svc.CreateHospital(context.Background(), validHospital(n.ID))

	c, _ := jsonContext(e, http.MethodDelete, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	expectHTTPError(t, h.DeleteNodal(c), http.StatusConflict)
}

func TestHandler_CreateAndUpdateHospital(t *testing.T) {
	h, e := newTestHandler()
	n := validNodal()
	h.svc.CreateNodal(context.Background(), n)

	c, rec := jsonContext(e, http.MethodPost, "/api/v1/hospitals",
		`{"name":"CHC Bilaspur","code":"CHC-BLS","nodal_id":"`+n.ID.String()+`"}`)
	if err := h.CreateHospital(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var created Hospital
	json.Unmarshal(rec.Body.Bytes(), &created)

	c, rec = jsonContext(e, http.MethodPut, "/",
		`{"name":"CHC Bilaspur Town","code":"CHC-BLS","nodal_id":"`+n.ID.String()+`","active":true}`)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.UpdateHospital(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var updated Hospital
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Name != "CHC Bilaspur Town" || updated.ID != created.ID {
		t.Errorf("unexpected update response %s", rec.Body.String())
	}
}

func TestHandler_ListHospitalsByNodal(t *testing.T) {
	h, e := newTestHandler()
	n := validNodal()
	h.svc.CreateNodal(context.Background(), n)
	h.svc.CreateHospital(context.Background(), validHospital(n.ID))

	c, rec := jsonContext(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if err := h.ListHospitalsByNodal(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one hospital, got %s", rec.Body.String())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := []string{
		"GET /api/v1/nodals", "POST /api/v1/nodals", "GET /api/v1/nodals/:id",
		"PUT /api/v1/nodals/:id", "DELETE /api/v1/nodals/:id", "GET /api/v1/nodals/:id/hospitals",
		"GET /api/v1/hospitals", "POST /api/v1/hospitals", "GET /api/v1/hospitals/:id",
		"PUT /api/v1/hospitals/:id", "DELETE /api/v1/hospitals/:id",
	}
	routes := map[string]bool{}
	for _, r := range e.Routes() {
		routes[r.Method+" "+r.Path] = true
	}
	for _, w := range want {
		if !routes[w] {
			t.Errorf("missing route %s", w)
		}
	}
}
