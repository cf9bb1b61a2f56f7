package webhook

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/sdoh/internal/platform/auth"
	"github.com/ehr/sdoh/pkg/pagination"
)

type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webhooks", auth.RequireRole(auth.RoleAdmin))
	g.POST("", h.Register)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.GET("/:id/deliveries", h.Deliveries)
}

func errorResponse(err error) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

type registerRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	ResourceID string   `json:"resource_id"`
	Events     []string `json:"events"`
}

// Register answers with the endpoint including its secret. Later reads omit it.
func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, err := h.manager.Register(c.Request().Context(), req.URL, req.Secret, req.ResourceID, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

func redact(ep *Endpoint) *Endpoint {
	ep.Secret = ""
	return ep
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	eps, err := h.manager.List(c.Request().Context())
	if err != nil {
		return errorResponse(err)
	}
	for _, ep := range eps {
		redact(ep)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(eps, pg), len(eps), pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	ep, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, redact(ep))
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.manager.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return errorResponse(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Pause(c echo.Context) error {
	ep, err := h.manager.SetStatus(c.Request().Context(), c.Param("id"), StatusPaused)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, redact(ep))
}

func (h *Handler) Resume(c echo.Context) error {
	ep, err := h.manager.SetStatus(c.Request().Context(), c.Param("id"), StatusActive)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, redact(ep))
}

func (h *Handler) Deliveries(c echo.Context) error {
	pg := pagination.FromContext(c)
	logs, err := h.manager.Deliveries(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(logs, pg), len(logs), pg.Limit, pg.Offset))
}
