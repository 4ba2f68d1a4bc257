package bed

import (
	"net/http"

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
	read := api.Group("", auth.RequireRole(auth.RoleParamedic, auth.RoleTENS, auth.RolePhysician))
	read.GET("/beds", h.ListBeds)
	read.GET("/beds/stats", h.Stats)
	read.GET("/beds/:id", h.GetBed)

	ward := api.Group("", auth.RequireRole(auth.RoleTENS, auth.RolePhysician))
	ward.POST("/beds/:id/assign", h.Assign)
	ward.POST("/beds/:id/release", h.Release)
	ward.POST("/beds/:id/ready", h.MarkReady)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/beds", h.CreateBed)
	admin.POST("/beds/seed", h.Seed)
	admin.PATCH("/beds/:id/state", h.ChangeState)
}

func bedID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) ListBeds(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{Type: c.QueryParam("type"), State: c.QueryParam("state")}
	beds, total, err := h.svc.ListBeds(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(beds, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := bedID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBed(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Stats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

type assignRequest struct {
	EncounterID uuid.UUID `json:"encounter_id"`
}

func (h *Handler) Assign(c echo.Context) error {
	id, err := bedID(c)
	if err != nil {
		return err
	}
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.EncounterID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "encounter_id is required")
	}
	ctx := c.Request().Context()
	b, err := h.svc.Assign(ctx, id, req.EncounterID, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Release(c echo.Context) error {
	id, err := bedID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	b, err := h.svc.Release(ctx, id, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) MarkReady(c echo.Context) error {
	id, err := bedID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	b, err := h.svc.MarkReady(ctx, id, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type changeStateRequest struct {
	State       string     `json:"state"`
	EncounterID *uuid.UUID `json:"encounter_id"`
}

func (h *Handler) ChangeState(c echo.Context) error {
	id, err := bedID(c)
	if err != nil {
		return err
	}
	var req changeStateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	b, err := h.svc.ChangeState(ctx, id, req.State, req.EncounterID, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CreateBed(c echo.Context) error {
	var b Bed
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateBed(c.Request().Context(), &b); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) Seed(c echo.Context) error {
	n, err := h.svc.SeedDefaults(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"created": n})
}
