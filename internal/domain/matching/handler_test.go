package matching

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/metrics"
)

type staticCatalog struct {
	items []*resource.CommunityResource
	err   error
}

func (s *staticCatalog) Snapshot(_ context.Context) ([]*resource.CommunityResource, error) {
	return s.items, s.err
}

func newTestHandler() (*Handler, *echo.Echo, *metrics.Metrics) {
	svc := NewService(&staticCatalog{items: fixtures()}, zerolog.Nop())
	svc.now = func() time.Time { return monday10am }
	m := metrics.New(nil)
	svc.SetMetrics(m)
	return NewHandler(svc), echo.New(), m
}

func postJSON(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_Search(t *testing.T) {
	h, e, m := newTestHandler()
	c, rec := postJSON(e, `{"categories":["food"],"keywords":"pantry"}`)
	if err := h.Search(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.Results[0].Resource.ID != "r-pantry" {
		t.Errorf("unexpected results %+v", resp)
	}
	if got := testutil.ToFloat64(m.MatchRequests.WithLabelValues("search")); got != 1 {
		t.Errorf("expected 1 search recorded, got %v", got)
	}
}

func TestHandler_Search_BadSort(t *testing.T) {
	h, e, _ := newTestHandler()
	c, _ := postJSON(e, `{"sort_by":"popularity"}`)
	err := h.Search(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Search_CatalogFailure(t *testing.T) {
	svc := NewService(&staticCatalog{err: errors.New("db down")}, zerolog.Nop())
	h := NewHandler(svc)
	c, _ := postJSON(echo.New(), `{}`)
	err := h.Search(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %v", err)
	}
}

func TestHandler_MatchNeeds(t *testing.T) {
	h, e, _ := newTestHandler()
	c, rec := postJSON(e, `{"needs":["food","housing"],"patient":{"age":16}}`)
	if err := h.MatchNeeds(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res MultiNeedResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Needs) != 2 || res.Needs[0].Need != resource.CategoryFood || res.Needs[1].Need != resource.CategoryHousing {
		t.Fatalf("unexpected need groups %+v", res.Needs)
	}
	shelter := res.Needs[1].TopMatch
	if shelter == nil || shelter.Eligibility.Eligible {
		t.Errorf("expected the shelter flagged ineligible but returned, got %+v", shelter)
	}
}

func TestHandler_MatchNeeds_Empty(t *testing.T) {
	h, e, _ := newTestHandler()
	c, _ := postJSON(e, `{"needs":[]}`)
	err := h.MatchNeeds(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
