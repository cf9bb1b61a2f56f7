package resource

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/sdoh/internal/platform/auth"
	"github.com/ehr/sdoh/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleCareCoordinator, auth.RoleResourceManager, auth.RoleAnalyst))
	read.GET("/resources", h.ListResources)
	read.GET("/resources/needing-verification", h.ListNeedingVerification)
	read.GET("/resources/:id", h.GetResource)

	write := api.Group("", auth.RequireRole(auth.RoleResourceManager))
	write.POST("/resources", h.CreateResource)
	write.PATCH("/resources/:id", h.UpdateResource)
	write.DELETE("/resources/:id", h.DeleteResource)
	write.POST("/resources/:id/verify", h.VerifyResource)
}

// errorResponse maps catalog errors onto HTTP errors.
func errorResponse(err error) error {
	var verrs ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": "validation failed",
			"errors":  verrs,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) CreateResource(c echo.Context) error {
	var r CommunityResource
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Add(c.Request().Context(), &r); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetResource(c echo.Context) error {
	r, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, r)
}

// ListResources serves the whole catalog, one category (?category=) or a
// keyword search (?q=).
func (h *Handler) ListResources(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)

	var (
		items []*CommunityResource
		err   error
	)
	switch {
	case c.QueryParam("q") != "":
		items, err = h.svc.SearchByKeyword(ctx, c.QueryParam("q"))
	case c.QueryParam("category") != "":
		cat := Category(c.QueryParam("category"))
		if !cat.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown category")
		}
		items, err = h.svc.GetByCategory(ctx, cat)
	default:
		items, err = h.svc.GetAll(ctx)
	}
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), len(items), pg.Limit, pg.Offset))
}

func (h *Handler) ListNeedingVerification(c echo.Context) error {
	days := 0
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be a non-negative integer")
		}
		days = n
	}
	pg := pagination.FromContext(c)
	items, err := h.svc.NeedingVerification(c.Request().Context(), days)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), len(items), pg.Limit, pg.Offset))
}

func (h *Handler) UpdateResource(c echo.Context) error {
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.Update(c.Request().Context(), c.Param("id"), &patch)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteResource(c echo.Context) error {
	soft, err := h.svc.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(err)
	}
	if soft {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"id":        c.Param("id"),
			"is_active": false,
			"message":   "resource has open referrals and was deactivated",
		})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) VerifyResource(c echo.Context) error {
	by := auth.UserIDFromContext(c.Request().Context())
	var body struct {
		VerifiedBy string `json:"verified_by"`
	}
	if err := c.Bind(&body); err == nil && body.VerifiedBy != "" {
		by = body.VerifiedBy
	}
	if by == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "verified_by is required")
	}
	r, err := h.svc.Verify(c.Request().Context(), c.Param("id"), by)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, r)
}
