package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.ReferralsCreated.Inc()
	if got := testutil.ToFloat64(b.ReferralsCreated); got != 0 {
		t.Errorf("expected independent registries, got %v", got)
	}
	if got := testutil.ToFloat64(a.ReferralsCreated); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestMiddleware_RecordsRoute(t *testing.T) {
	m := New(nil)
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/resources/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/resources/abc", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/api/v1/resources/:id", "200"))
	if got != 1 {
		t.Errorf("expected 1 request recorded, got %v", got)
	}
}

func TestMiddleware_RecordsErrorStatus(t *testing.T) {
	m := New(nil)
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "nope")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/boom", "404"))
	if got != 1 {
		t.Errorf("expected 404 recorded, got %v", got)
	}
}

func TestHandler_Exposition(t *testing.T) {
	m := New(nil)
	m.SyncRuns.WithLabelValues("findhelp", "ok").Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `sdoh_directory_sync_runs_total{provider="findhelp",result="ok"} 1`) {
		t.Errorf("expected sync counter in exposition, got:\n%s", body)
	}
}
