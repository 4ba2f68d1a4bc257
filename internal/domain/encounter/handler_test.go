package encounter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/urgencias/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func jsonRequest(method, body string, actor uuid.UUID, role string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithActor(req.Context(), actor.String(), []string{role}))
}

func withID(c echo.Context, id uuid.UUID) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	return c
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestHandler_CreateEncounter(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"patient":{"unidentified":true},"chief_complaint":"fall from height","priority":"C2","eta":"10 min"}`
	rec := httptest.NewRecorder()
	if err := h.CreateEncounter(e.NewContext(jsonRequest(http.MethodPost, body, f.paramedic, auth.RoleParamedic), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Encounter
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != StateEnRoute || got.ParamedicID != f.paramedic {
		t.Errorf("expected en_route encounter owned by the caller, got %s %s", got.State, got.ParamedicID)
	}
}

func TestHandler_CreateEncounter_Invalid(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"patient":{"unidentified":true},"chief_complaint":"x","priority":"C7"}`
	err := h.CreateEncounter(e.NewContext(jsonRequest(http.MethodPost, body, f.paramedic, auth.RoleParamedic), httptest.NewRecorder()))
	if code := statusOf(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestHandler_GetEncounter_NotFound(t *testing.T) {
	h, f, e := newTestHandler()
	c := withID(e.NewContext(jsonRequest(http.MethodGet, "", f.physician, auth.RolePhysician), httptest.NewRecorder()), uuid.New())
	if code := statusOf(t, h.GetEncounter(c)); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestHandler_GetEncounter_BadID(t *testing.T) {
	h, f, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodGet, "", f.physician, auth.RolePhysician), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := statusOf(t, h.GetEncounter(c)); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestHandler_DispositionWithoutDiagnosis(t *testing.T) {
	h, f, e := newTestHandler()
	enc := f.arrived(t, PriorityC3)
	c := withID(e.NewContext(jsonRequest(http.MethodPost, `{"disposition_type":"home"}`, f.physician, auth.RolePhysician), httptest.NewRecorder()), enc.ID)
	if code := statusOf(t, h.ApplyDisposition(c)); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
}

func TestHandler_DuplicateTriage(t *testing.T) {
	h, f, e := newTestHandler()
	enc := f.arrived(t, PriorityC3)
	first := httptest.NewRecorder()
	c := withID(e.NewContext(jsonRequest(http.MethodPost, `{"severity":3}`, f.physician, auth.RolePhysician), first), enc.ID)
	if err := h.RecordTriage(c); err != nil {
		t.Fatalf("first triage: %v", err)
	}
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}
	c = withID(e.NewContext(jsonRequest(http.MethodPost, `{"severity":1}`, f.physician, auth.RolePhysician), httptest.NewRecorder()), enc.ID)
	if code := statusOf(t, h.RecordTriage(c)); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
}

func TestHandler_RecordDiagnosis(t *testing.T) {
	h, f, e := newTestHandler()
	enc := f.arrived(t, PriorityC3)
	rec := httptest.NewRecorder()
	c := withID(e.NewContext(jsonRequest(http.MethodPost, `{"description":"pneumonia","icd10_code":"J18.9","disposition_type":"ward"}`, f.physician, auth.RolePhysician), rec), enc.ID)
	if err := h.RecordDiagnosis(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		State     string `json:"state"`
		Diagnosis struct {
			Code string `json:"code"`
		} `json:"diagnosis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != StateAdmitted {
		t.Errorf("expected admitted, got %s", got.State)
	}
	if got.Diagnosis.Code != "DX-20260310-0001" {
		t.Errorf("expected generated code, got %s", got.Diagnosis.Code)
	}
}

func TestHandler_TransitionUnknownState(t *testing.T) {
	h, f, e := newTestHandler()
	enc := f.create(t, PriorityC3)
	c := withID(e.NewContext(jsonRequest(http.MethodPatch, `{"state":"vanished"}`, f.physician, auth.RolePhysician), httptest.NewRecorder()), enc.ID)
	if code := statusOf(t, h.TransitionEncounter(c)); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestHandler_ListEncounters_Mine(t *testing.T) {
	h, f, e := newTestHandler()
	f.create(t, PriorityC3)
	f.create(t, PriorityC4)
	other := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/encounters?mine=true", nil)
	req = req.WithContext(auth.WithActor(req.Context(), other.String(), []string{auth.RoleParamedic}))
	rec := httptest.NewRecorder()
	if err := h.ListEncounters(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 0 {
		t.Errorf("expected no encounters for another paramedic, got %d", body.Total)
	}
}

func TestHandler_ListPatients_BadFlag(t *testing.T) {
	h, f, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/patients?unidentified=maybe", nil)
	req = req.WithContext(auth.WithActor(req.Context(), f.physician.String(), []string{auth.RolePhysician}))
	if code := statusOf(t, h.ListPatients(e.NewContext(req, httptest.NewRecorder()))); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestHandler_AnswerMedicationTwice(t *testing.T) {
	h, f, e := newTestHandler()
	enc := f.create(t, PriorityC3)
	m := f.medication(t, enc)

	rec := httptest.NewRecorder()
	c := withID(e.NewContext(jsonRequest(http.MethodPost, `{"response":"give slowly"}`, f.physician, auth.RolePhysician), rec), m.ID)
	if err := h.AnswerMedication(true)(c); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	var got MedicationRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != MedicationAuthorized || got.Response != "give slowly" {
		t.Errorf("expected authorized with the physician's note, got %s %q", got.State, got.Response)
	}

	c = withID(e.NewContext(jsonRequest(http.MethodPost, "", f.physician, auth.RolePhysician), httptest.NewRecorder()), m.ID)
	if code := statusOf(t, h.AnswerMedication(false)(c)); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
}

func TestHandler_RecordVitalSigns_OutOfRange(t *testing.T) {
	h, f, e := newTestHandler()
	enc := f.create(t, PriorityC3)
	body := `{"systolic":120,"diastolic":80,"heart_rate":72,"respiratory_rate":16,"spo2":140,"temperature":36.5}`
	c := withID(e.NewContext(jsonRequest(http.MethodPost, body, f.paramedic, auth.RoleParamedic), httptest.NewRecorder()), enc.ID)
	if code := statusOf(t, h.RecordVitalSigns(c)); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestHandler_ListMedicationRequests_BadEncounter(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/medication-requests?encounter_id=nope", nil)
	if code := statusOf(t, h.ListMedicationRequests(e.NewContext(req, httptest.NewRecorder()))); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}
