package encounter

import (
	"net/http"
	"strconv"

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
	// Read endpoints – all clinical staff
	read := api.Group("", auth.RequireRole(auth.RoleParamedic, auth.RoleTENS, auth.RolePhysician))
	read.GET("/encounters", h.ListEncounters)
	read.GET("/encounters/:id", h.GetEncounter)
	read.GET("/encounters/:id/status-history", h.GetStatusHistory)
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/patients/by-national-id/:rut", h.FindPatient)
	read.GET("/encounters/:id/vital-signs", h.ListVitalSigns)
	read.GET("/encounters/:id/medication-requests", h.ListEncounterMedications)
	read.GET("/encounters/:id/exam-requests", h.ListEncounterExams)
	read.GET("/medication-requests", h.ListMedicationRequests)
	read.GET("/exam-requests", h.ListExamRequests)

	// Dispatch – paramedics
	field := api.Group("", auth.RequireRole(auth.RoleParamedic))
	field.POST("/encounters", h.CreateEncounter)
	field.POST("/patients", h.RegisterPatient)
	field.POST("/encounters/:id/medication-requests", h.RequestMedication)

	// Vital signs – field and ward
	api.POST("/encounters/:id/vital-signs", h.RecordVitalSigns, auth.RequireRole(auth.RoleParamedic, auth.RoleTENS))

	// Reception and triage – TENS and physicians
	ward := api.Group("", auth.RequireRole(auth.RoleTENS, auth.RolePhysician))
	ward.POST("/encounters/:id/arrival", h.RegisterArrival)
	ward.POST("/encounters/:id/triage", h.RecordTriage)
	ward.PATCH("/exam-requests/:id", h.UpdateExam)

	// Diagnosis and disposition – physicians
	clinic := api.Group("", auth.RequireRole(auth.RolePhysician))
	clinic.POST("/encounters/:id/diagnosis", h.RecordDiagnosis)
	clinic.POST("/encounters/:id/disposition", h.ApplyDisposition)
	clinic.PATCH("/encounters/:id/state", h.TransitionEncounter)
	clinic.POST("/encounters/:id/exam-requests", h.RequestExam)
	clinic.POST("/medication-requests/:id/authorize", h.AnswerMedication(true))
	clinic.POST("/medication-requests/:id/reject", h.AnswerMedication(false))
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func actor(c echo.Context) uuid.UUID {
	return auth.ActorFromContext(c.Request().Context())
}

// -- Encounters --

func (h *Handler) CreateEncounter(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc, err := h.svc.CreateEncounter(c.Request().Context(), req, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	enc, err := h.svc.GetEncounter(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		State:    c.QueryParam("state"),
		Priority: c.QueryParam("priority"),
		Active:   c.QueryParam("active") == "true",
	}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	if c.QueryParam("mine") == "true" {
		me := actor(c)
		f.ParamedicID = &me
	}
	encs, total, err := h.svc.ListEncounters(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	history, err := h.svc.GetStatusHistory(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) RegisterArrival(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	enc, err := h.svc.RegisterArrival(c.Request().Context(), id, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) RecordTriage(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var t Triage
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.RecordTriage(c.Request().Context(), id, &t, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) RecordDiagnosis(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var d Diagnosis
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.RecordDiagnosis(c.Request().Context(), id, &d, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ApplyDisposition(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req DispositionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc, err := h.svc.ApplyDisposition(c.Request().Context(), id, req, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) TransitionEncounter(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		State string `json:"state"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc, err := h.svc.TransitionEncounter(c.Request().Context(), id, body.State, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

// -- Patients --

func (h *Handler) RegisterPatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterPatient(c.Request().Context(), &p, actor(c)); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) FindPatient(c echo.Context) error {
	p, err := h.svc.FindPatient(c.Request().Context(), c.Param("rut"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	var unidentified *bool
	if v := c.QueryParam("unidentified"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid unidentified flag")
		}
		unidentified = &b
	}
	patients, total, err := h.svc.ListPatients(c.Request().Context(), unidentified, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

// -- Vital signs and orders --

func (h *Handler) RecordVitalSigns(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var v VitalSigns
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.RecordVitalSigns(c.Request().Context(), id, &v, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListVitalSigns(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.ListVitalSigns(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) RequestMedication(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var m MedicationRequest
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.RequestMedication(c.Request().Context(), id, &m, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) AnswerMedication(authorize bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		a := MedicationAnswer{Authorize: authorize}
		if err := c.Bind(&a); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		out, err := h.svc.AnswerMedication(c.Request().Context(), id, a, actor(c))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(http.StatusOK, out)
	}
}

func orderFilter(c echo.Context) (OrderFilter, error) {
	f := OrderFilter{State: c.QueryParam("state")}
	if v := c.QueryParam("encounter_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid encounter_id")
		}
		f.EncounterID = &id
	}
	return f, nil
}

func (h *Handler) ListMedicationRequests(c echo.Context) error {
	f, err := orderFilter(c)
	if err != nil {
		return err
	}
	return h.listMedications(c, f)
}

func (h *Handler) ListEncounterMedications(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	return h.listMedications(c, OrderFilter{EncounterID: &id, State: c.QueryParam("state")})
}

func (h *Handler) listMedications(c echo.Context, f OrderFilter) error {
	pg := pagination.FromContext(c)
	out, total, err := h.svc.ListMedicationRequests(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg.Limit, pg.Offset))
}

func (h *Handler) RequestExam(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var x ExamRequest
	if err := c.Bind(&x); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.RequestExam(c.Request().Context(), id, &x, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) UpdateExam(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var u ExamUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.UpdateExam(c.Request().Context(), id, u, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListExamRequests(c echo.Context) error {
	f, err := orderFilter(c)
	if err != nil {
		return err
	}
	return h.listExams(c, f)
}

func (h *Handler) ListEncounterExams(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	return h.listExams(c, OrderFilter{EncounterID: &id, State: c.QueryParam("state")})
}

func (h *Handler) listExams(c echo.Context, f OrderFilter) error {
	pg := pagination.FromContext(c)
	out, total, err := h.svc.ListExamRequests(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg.Limit, pg.Offset))
}
