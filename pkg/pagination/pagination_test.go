package pagination

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	return e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(newContext("/"))
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Params(t *testing.T) {
	tests := []struct {
		target      string
		limit, offs int
	}{
		{"/?limit=10&offset=30", 10, 30},
		{"/?_count=5&_offset=15", 5, 15},
		{"/?limit=500", MaxLimit, 0},
		{"/?limit=-3&offset=-9", DefaultLimit, 0},
		{"/?limit=abc", DefaultLimit, 0},
		{"/?page_size=25&page=3", 25, 50},
		{"/?page=2", DefaultLimit, DefaultLimit},
		{"/?limit=10&offset=7&page=4", 10, 7},
	}
	for _, tt := range tests {
		p := FromContext(newContext(tt.target))
		if p.Limit != tt.limit || p.Offset != tt.offs {
			t.Errorf("%s: got limit=%d offset=%d, want %d %d", tt.target, p.Limit, p.Offset, tt.limit, tt.offs)
		}
	}
}

func TestQuery(t *testing.T) {
	if q := Query(newContext("/?q=%20city%20")); q != "city" {
		t.Errorf("expected trimmed q, got %q", q)
	}
	if q := Query(newContext("/")); q != "" {
		t.Errorf("expected empty q, got %q", q)
	}
	long := strings.Repeat("a", 150)
	if q := Query(newContext("/?q=" + long)); len(q) != MaxQueryLen {
		t.Errorf("expected q truncated to %d, got %d", MaxQueryLen, len(q))
	}
}

func TestLikePattern(t *testing.T) {
	if got := LikePattern("50%_off"); got != `%50\%\_off%` {
		t.Errorf("unexpected pattern %q", got)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a"}, 45, 20, 20)
	if !r.HasMore || r.NextOffset == nil || *r.NextOffset != 40 {
		t.Errorf("expected next offset 40, got %+v", r)
	}
	last := NewResponse([]string{"a"}, 45, 20, 40)
	if last.HasMore || last.NextOffset != nil {
		t.Errorf("expected last page without next, got %+v", last)
	}
}

func TestParams_Navigation(t *testing.T) {
	p := Params{Limit: 10, Offset: 20}
	if !p.HasNext(31) || p.HasNext(30) {
		t.Error("HasNext mismatch")
	}
	if !p.HasPrevious() || (Params{Limit: 10}).HasPrevious() {
		t.Error("HasPrevious mismatch")
	}
	if p.Page() != 3 {
		t.Errorf("expected page 3, got %d", p.Page())
	}
}
