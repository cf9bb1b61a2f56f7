package referral

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/sdoh/internal/domain/resource"
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
	read := api.Group("", auth.RequireRole(auth.RoleCareCoordinator, auth.RoleAnalyst))
	read.GET("/referrals", h.ListReferrals)
	read.GET("/referrals/follow-up", h.ListNeedingFollowUp)
	read.GET("/referrals/metrics", h.GetMetrics)
	read.GET("/referrals/:id", h.GetReferral)
	read.GET("/patients/:patientId/referrals", h.ListPatientReferrals)

	write := api.Group("", auth.RequireRole(auth.RoleCareCoordinator))
	write.POST("/referrals", h.CreateReferral)
	write.POST("/referrals/:id/status", h.UpdateStatus)
	write.POST("/referrals/:id/contact-attempts", h.RecordContactAttempt)
	write.POST("/referrals/:id/outcomes", h.RecordOutcome)
}

// errorResponse maps referral errors onto HTTP errors.
func errorResponse(err error) error {
	var (
		verrs ValidationErrors
		terr  *InvalidTransitionError
	)
	switch {
	case errors.As(err, &verrs):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": "validation failed",
			"errors":  verrs,
		})
	case errors.As(err, &terr):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message": terr.Error(),
			"from":    terr.From,
			"to":      terr.To,
			"allowed": NextStatuses(terr.From),
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "referral not found")
	case errors.Is(err, ErrResourceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// actor prefers an explicit name from the request body over the caller's
// token subject.
func actor(c echo.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) CreateReferral(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.ReferredBy = actor(c, in.ReferredBy)
	r, err := h.svc.CreateReferral(c.Request().Context(), in)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetReferral(c echo.Context) error {
	r, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, r)
}

// filterFromQuery reads patient_id, resource_id, status, need, from and to.
// Dates are RFC 3339 or YYYY-MM-DD.
func filterFromQuery(c echo.Context) (Filter, error) {
	f := Filter{
		PatientID:  c.QueryParam("patient_id"),
		ResourceID: c.QueryParam("resource_id"),
		Status:     Status(c.QueryParam("status")),
		Need:       resource.Category(c.QueryParam("need")),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}
	if f.Need != "" && !f.Need.Valid() {
		return f, echo.NewHTTPError(http.StatusBadRequest, "unknown need category")
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := c.QueryParam(p.name)
		if v == "" {
			continue
		}
		t, err := parseDate(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, p.name+" must be RFC 3339 or YYYY-MM-DD")
		}
		*p.dst = &t
	}
	return f, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func (h *Handler) ListReferrals(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), len(items), pg.Limit, pg.Offset))
}

func (h *Handler) ListPatientReferrals(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.ListByPatient(c.Request().Context(), c.Param("patientId"))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), len(items), pg.Limit, pg.Offset))
}

func (h *Handler) ListNeedingFollowUp(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, err := h.svc.NeedingFollowUp(c.Request().Context(), f)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), len(items), pg.Limit, pg.Offset))
}

func (h *Handler) GetMetrics(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	m, err := h.svc.Metrics(c.Request().Context(), f)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, m)
}

type statusRequest struct {
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ChangedBy string `json:"changed_by,omitempty"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var body statusRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.UpdateStatus(c.Request().Context(), c.Param("id"), body.Status, body.Reason, actor(c, body.ChangedBy))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) RecordContactAttempt(c echo.Context) error {
	var in ContactInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.ContactedBy = actor(c, in.ContactedBy)
	r, err := h.svc.RecordContactAttempt(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) RecordOutcome(c echo.Context) error {
	var in OutcomeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.RecordedBy = actor(c, in.RecordedBy)
	r, err := h.svc.RecordOutcome(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, r)
}
