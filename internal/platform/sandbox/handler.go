package sandbox

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/sdoh/internal/platform/auth"
)

type Handler struct {
	seeder *Seeder
}

func NewHandler(seeder *Seeder) *Handler {
	return &Handler{seeder: seeder}
}

// RegisterRoutes should only be called in development deployments.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sandbox/seed", h.Seed, auth.RequireRole(auth.RoleAdmin))
}

// Seed accepts an optional SeedConfig body; an empty body seeds the defaults.
func (h *Handler) Seed(c echo.Context) error {
	var cfg SeedConfig
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&cfg); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if cfg.ResourceCount > 1000 {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_count must be at most 1000")
	}
	result, err := h.seeder.Seed(c.Request().Context(), cfg)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, result)
}
