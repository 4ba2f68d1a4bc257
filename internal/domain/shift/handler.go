package shift

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/auth"
	"github.com/ehr/urgencias/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	own := api.Group("", auth.RequireRole(auth.RoleParamedic, auth.RoleTENS, auth.RolePhysician))
	own.GET("/shifts/me", h.MyShift)
	own.POST("/shifts/start", h.StartScheduled)
	own.POST("/shifts/start-voluntary", h.StartVoluntary)
	own.POST("/shifts/end", h.EndShift)
	own.GET("/shifts/on-duty", h.OnDutyStaff)
	own.GET("/shifts/hours", h.GetHours)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/shifts", h.ListAssignments)
	admin.PUT("/shifts", h.Upsert)
	admin.POST("/shifts/bulk", h.BulkAssign)
	admin.DELETE("/shifts/:id", h.Delete)
}

func actor(c echo.Context) (uuid.UUID, error) {
	id := auth.ActorFromContext(c.Request().Context())
	if id == uuid.Nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated staff member")
	}
	return id, nil
}

func (h *Handler) MyShift(c echo.Context) error {
	id, err := actor(c)
	if err != nil {
		return err
	}
	st, err := h.svc.MyShift(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) StartScheduled(c echo.Context) error {
	id, err := actor(c)
	if err != nil {
		return err
	}
	a, err := h.svc.StartScheduled(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) StartVoluntary(c echo.Context) error {
	id, err := actor(c)
	if err != nil {
		return err
	}
	a, err := h.svc.StartVoluntary(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) EndShift(c echo.Context) error {
	id, err := actor(c)
	if err != nil {
		return err
	}
	a, err := h.svc.EndShift(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) OnDutyStaff(c echo.Context) error {
	var roles []string
	if r := c.QueryParam("role"); r != "" {
		roles = strings.Split(r, ",")
	}
	entries, err := h.svc.OnDutyStaff(c.Request().Context(), roles...)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) GetHours(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Hours().Describe())
}

func (h *Handler) ListAssignments(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	if v := c.QueryParam("staff_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid staff_id")
		}
		f.StaffID = &id
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := c.QueryParam(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+p.name+" date")
		}
		*p.dst = &t
	}
	items, total, err := h.svc.ListAssignments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type upsertRequest struct {
	StaffID uuid.UUID `json:"staff_id"`
	Date    string    `json:"shift_date"`
	Type    string    `json:"shift_type"`
	Notes   string    `json:"notes"`
}

func (h *Handler) Upsert(c echo.Context) error {
	var req upsertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "shift_date must be YYYY-MM-DD")
	}
	a := &Assignment{StaffID: req.StaffID, Date: date, Type: req.Type, Notes: req.Notes}
	if err := h.svc.Upsert(c.Request().Context(), a); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) BulkAssign(c echo.Context) error {
	var req BulkAssignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.BulkAssign(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"created": len(out), "assignments": out})
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
