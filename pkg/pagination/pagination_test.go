package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
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

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(newContext("/?limit=50&offset=10"))
	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := FromContext(newContext("/?limit=500"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := FromContext(newContext("/?offset=-5"))
	if p.Offset != 0 {
		t.Errorf("expected negative offset clamped to 0, got %d", p.Offset)
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	got := Page(items, Params{Limit: 2, Offset: 1})
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("unexpected page %v", got)
	}

	got = Page(items, Params{Limit: 10, Offset: 3})
	if len(got) != 2 || got[0] != 4 {
		t.Errorf("expected tail page, got %v", got)
	}

	got = Page(items, Params{Limit: 10, Offset: 5})
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil page, got %v", got)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 10, 2, 0)
	if resp.Total != 10 {
		t.Errorf("expected total 10, got %d", resp.Total)
	}
	if !resp.HasMore {
		t.Error("expected HasMore to be true")
	}

	resp = NewResponse([]string{"a"}, 3, 2, 2)
	if resp.HasMore {
		t.Error("expected HasMore to be false on last page")
	}
}

func TestParams_Navigation(t *testing.T) {
	p := Params{Limit: 20, Offset: 0}
	if !p.HasNext(50) {
		t.Error("expected HasNext for total 50")
	}
	if p.HasPrevious() {
		t.Error("expected no previous page at offset 0")
	}
	if p.NextOffset() != 20 {
		t.Errorf("expected next offset 20, got %d", p.NextOffset())
	}
	p.Offset = 40
	if p.HasNext(50) {
		t.Error("expected no next page at offset 40 of 50")
	}
	if !p.HasPrevious() {
		t.Error("expected previous page at offset 40")
	}
}
