package matching

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/sdoh/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/matches", auth.RequireRole(auth.RoleCareCoordinator, auth.RoleAnalyst))
	g.POST("/search", h.Search)
	g.POST("/needs", h.MatchNeeds)
}

func (h *Handler) Search(c echo.Context) error {
	var criteria SearchCriteria
	if err := c.Bind(&criteria); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validateSort(criteria.SortBy, criteria.SortOrder); err != nil {
		return err
	}
	resp, err := h.svc.Search(c.Request().Context(), criteria)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) MatchNeeds(c echo.Context) error {
	var req NeedsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validateSort(req.Base.SortBy, req.Base.SortOrder); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.MatchNeeds(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, ErrNoNeeds) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func validateSort(field SortField, order SortOrder) error {
	switch field {
	case "", SortByScore, SortByDistance, SortByName, SortByRating:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "sort_by must be score, distance, name or rating")
	}
	switch order {
	case "", OrderAsc, OrderDesc:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "sort_order must be asc or desc")
	}
	return nil
}
