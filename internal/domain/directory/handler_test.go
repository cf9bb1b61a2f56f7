package directory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestHandler_Sync(t *testing.T) {
	a := &fakeAdapter{name: "alpha", pages: [][]string{{`{"id":"a1","name":"Pantry","category":"food"}`}}}
	h := NewHandler(NewSyncer(newCatalog(), zerolog.Nop(), a))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"zip":"62701","max_pages":2}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Sync(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var report SyncReport
	json.Unmarshal(rec.Body.Bytes(), &report)
	if report.Created != 1 || len(report.Providers) != 1 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestHandler_Sync_EmptyBody(t *testing.T) {
	a := &fakeAdapter{name: "alpha"}
	h := NewHandler(NewSyncer(newCatalog(), zerolog.Nop(), a))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	if err := h.Sync(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.callCount() != 1 {
		t.Errorf("expected one search call, got %d", a.callCount())
	}
}

func TestHandler_Sync_Rejects(t *testing.T) {
	e := echo.New()

	h := NewHandler(NewSyncer(newCatalog(), zerolog.Nop()))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	err := h.Sync(e.NewContext(req, httptest.NewRecorder()))
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without providers, got %v", err)
	}

	h = NewHandler(NewSyncer(newCatalog(), zerolog.Nop(), &fakeAdapter{name: "alpha"}))
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"max_pages":-1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err = h.Sync(e.NewContext(req, httptest.NewRecorder()))
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListProviders(t *testing.T) {
	fh := NewFindhelpAdapter(ProviderConfig{APIURL: "http://unused", APIKey: "k"})
	h := NewHandler(NewSyncer(newCatalog(), zerolog.Nop(), fh))
	e := echo.New()

	rec := httptest.NewRecorder()
	if err := h.ListProviders(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"provider":"findhelp"`) || !strings.Contains(body, `"accepts_referrals":true`) ||
		!strings.Contains(body, `"breaker_state":"closed"`) {
		t.Errorf("unexpected body %s", body)
	}
}
