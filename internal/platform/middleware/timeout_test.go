package middleware

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/v1/resources")
	if err := RequestTimeout(time.Second)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_ReturnsGatewayTimeout(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/api/v1/matches/search")
	err := RequestTimeout(20 * time.Millisecond)(func(c echo.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRequestTimeout_SkipsPrefixes(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/api/v1/directory/sync")
	err := RequestTimeout(time.Millisecond, "/api/v1/directory/")(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			return errors.New("skipped path should have no deadline")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatal(err)
	}
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/")
	want := echo.NewHTTPError(http.StatusNotFound, "missing")
	if err := RequestTimeout(time.Second)(func(echo.Context) error { return want })(c); err != want {
		t.Errorf("expected handler error, got %v", err)
	}
}
