package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newTestContext(method, path string, opts ...func(*http.Request)) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withAuth(userID, username string, roles ...string) func(*http.Request) {
	return func(req *http.Request) {
		*req = *req.WithContext(auth.WithIdentity(req.Context(), userID, username, roles))
	}
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

const sampleID = "0b6a2c1e-9f0d-4a57-8d3e-2f6a7b8c9d01"

func TestAudit_RecordsWorkflowAction(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newTestContext(http.MethodPost, "/api/v1/samples/"+sampleID+"/reject",
		withAuth("tech-1", "reena", auth.RoleTechnician))
	c.Set("request_id", "rid-9")

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry := rec.last()
	if entry.Resource != "samples" || entry.ResourceID != sampleID || entry.Action != "reject" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.UserID != "tech-1" || entry.Username != "reena" || entry.RequestID != "rid-9" {
		t.Errorf("unexpected identity fields: %+v", entry)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", entry.StatusCode)
	}
}

func TestAudit_CRUDActions(t *testing.T) {
	tests := []struct {
		method, path, resource, action string
	}{
		{http.MethodGet, "/api/v1/hospitals", "hospitals", "read"},
		{http.MethodPost, "/api/v1/hospitals", "hospitals", "create"},
		{http.MethodPut, "/api/v1/kits/" + sampleID, "kits", "update"},
		{http.MethodDelete, "/api/v1/profiles/" + sampleID, "profiles", "delete"},
		{http.MethodGet, "/api/v1/alerts/results", "alerts", "read"},
		{http.MethodPost, "/api/v1/auth/login", "auth", "login"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := &mockRecorder{}
			c, _ := newTestContext(tt.method, tt.path)
			Audit(zerolog.Nop(), rec)(okHandler)(c)
			entry := rec.last()
			if entry.Resource != tt.resource || entry.Action != tt.action {
				t.Errorf("got resource=%s action=%s, want %s %s", entry.Resource, entry.Action, tt.resource, tt.action)
			}
		})
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	rec := &mockRecorder{}
	for _, path := range []string{"/health", "/metrics", "/"} {
		c, _ := newTestContext(http.MethodGet, path)
		Audit(zerolog.Nop(), rec)(okHandler)(c)
	}
	if rec.count() != 0 {
		t.Errorf("expected no audit entries, got %d", rec.count())
	}
}

func TestAudit_ForbiddenLoggedAsWarning(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	c, _ := newTestContext(http.MethodGet, "/api/v1/users", withAuth("doc-1", "dr", auth.RoleDoctor))

	err := Audit(zerolog.New(&buf), rec)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "required role: admin")
	})(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if rec.last().StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 status on entry, got %d", rec.last().StatusCode)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"type":"lims_audit"`) {
		t.Errorf("unexpected log output %s", out)
	}
}

func TestAudit_RecorderError_DoesNotBreakRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	c, resp := newTestContext(http.MethodGet, "/api/v1/samples")

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.Code)
	}
}

func TestAuditRecorderFunc(t *testing.T) {
	var got AuditEntry
	f := AuditRecorderFunc(func(e AuditEntry) error {
		got = e
		return nil
	})
	c, _ := newTestContext(http.MethodGet, "/api/v1/nodals")
	Audit(zerolog.Nop(), f)(okHandler)(c)
	if got.Resource != "nodals" {
		t.Errorf("expected nodals, got %q", got.Resource)
	}
}

func TestSplitResourcePath(t *testing.T) {
	tests := []struct {
		path, resource, id, verb string
	}{
		{"/api/v1/samples", "samples", "", ""},
		{"/api/v1/samples/" + sampleID, "samples", sampleID, ""},
		{"/api/v1/samples/" + sampleID + "/results", "samples", sampleID, "results"},
		{"/api/v1/me/password", "me", "", "password"},
		{"/api/v1/", "unknown", "", ""},
	}
	for _, tt := range tests {
		r, id, verb := splitResourcePath(tt.path)
		if r != tt.resource || id != tt.id || verb != tt.verb {
			t.Errorf("splitResourcePath(%q) = %q %q %q", tt.path, r, id, verb)
		}
	}
}
