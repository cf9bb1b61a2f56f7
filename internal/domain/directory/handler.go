package directory

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/sdoh/internal/platform/auth"
)

type Handler struct {
	syncer *Syncer
}

func NewHandler(syncer *Syncer) *Handler {
	return &Handler{syncer: syncer}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/directory/providers", h.ListProviders)
	admin.POST("/directory/sync", h.Sync)
}

func (h *Handler) ListProviders(c echo.Context) error {
	out := make([]map[string]interface{}, 0)
	for _, name := range h.syncer.Providers() {
		_, gateway := h.syncer.Gateway(name)
		out = append(out, map[string]interface{}{
			"provider":          name,
			"breaker_state":     h.syncer.BreakerState(name).String(),
			"accepts_referrals": gateway,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// Sync runs a directory import and returns the per-provider report. Provider
// failures are part of the report, so a partial sync still answers 200.
func (h *Handler) Sync(c echo.Context) error {
	if len(h.syncer.Providers()) == 0 {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no directory providers configured")
	}
	var req SyncRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if req.MaxPages < 0 || req.RadiusMiles < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_pages and radius_miles must not be negative")
	}
	report := h.syncer.SyncAll(c.Request().Context(), req)
	return c.JSON(http.StatusOK, report)
}
