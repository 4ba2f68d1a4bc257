package encounter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/urgencias/internal/domain/notification"
	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/auth"
)

// Medication request states. A request is answered exactly once.
const (
	MedicationPending    = "pending"
	MedicationAuthorized = "authorized"
	MedicationRejected   = "rejected"
)

// MedicationRequest is a paramedic asking a physician to authorize a drug.
type MedicationRequest struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	EncounterID   uuid.UUID  `db:"encounter_id" json:"encounter_id"`
	RequestedBy   uuid.UUID  `db:"requested_by" json:"requested_by"`
	Medication    string     `db:"medication" json:"medication"`
	Dose          string     `db:"dose" json:"dose"`
	Route         string     `db:"route" json:"route"`
	Justification string     `db:"justification" json:"justification"`
	State         string     `db:"state" json:"state"`
	RespondedBy   *uuid.UUID `db:"responded_by" json:"responded_by,omitempty"`
	Response      string     `db:"response" json:"response,omitempty"`
	RequestedAt   time.Time  `db:"requested_at" json:"requested_at"`
	RespondedAt   *time.Time `db:"responded_at" json:"responded_at,omitempty"`
}

// Exam request states and priorities.
const (
	ExamPending    = "pending"
	ExamInProgress = "in_progress"
	ExamCompleted  = "completed"
	ExamCancelled  = "cancelled"

	ExamUrgent   = "urgent"
	ExamNormal   = "normal"
	ExamDeferred = "deferred"
)

var examSuccessors = map[string][]string{
	ExamPending:    {ExamInProgress, ExamCancelled},
	ExamInProgress: {ExamCompleted, ExamCancelled},
}

func canMoveExam(from, to string) bool {
	for _, next := range examSuccessors[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExamRequest is a physician ordering laboratory or imaging studies.
type ExamRequest struct {
	ID            uuid.UUID `db:"id" json:"id"`
	EncounterID   uuid.UUID `db:"encounter_id" json:"encounter_id"`
	RequestedBy   uuid.UUID `db:"requested_by" json:"requested_by"`
	ExamType      string    `db:"exam_type" json:"exam_type"`
	Exams         string    `db:"exams" json:"exams"`
	Justification string    `db:"justification" json:"justification"`
	Priority      string    `db:"priority" json:"priority"`
	State         string    `db:"state" json:"state"`
	Observations  string    `db:"observations" json:"observations,omitempty"`
	Results       string    `db:"results" json:"results,omitempty"`
	RequestedAt   time.Time `db:"requested_at" json:"requested_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// OrderFilter narrows medication and exam request listings.
type OrderFilter struct {
	EncounterID *uuid.UUID
	State       string
}

// MedicationAnswer is a physician's decision on a pending request.
type MedicationAnswer struct {
	Authorize bool   `json:"-"`
	Response  string `json:"response"`
}

// ExamUpdate moves an exam request along and records its outcome.
type ExamUpdate struct {
	State        string `json:"state"`
	Observations string `json:"observations"`
	Results      string `json:"results"`
}

func required(fields ...[2]string) error {
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			return fmt.Errorf("%s is required: %w", f[0], apperr.ErrValidation)
		}
	}
	return nil
}

func patientName(ctx context.Context, repo Repository, e *Encounter) string {
	p, err := repo.GetPatient(ctx, e.PatientID)
	if err != nil {
		return e.PatientID.String()
	}
	return p.DisplayName()
}

// -- Medication requests --

// RequestMedication opens a pending medication request on an open encounter.
// The encounter's paramedic and the on-duty physicians are alerted.
func (s *Service) RequestMedication(ctx context.Context, encounterID uuid.UUID, m *MedicationRequest, actor uuid.UUID) (*MedicationRequest, error) {
	m.Medication = strings.TrimSpace(m.Medication)
	m.Dose = strings.TrimSpace(m.Dose)
	m.Route = strings.TrimSpace(m.Route)
	m.Justification = strings.TrimSpace(m.Justification)
	if err := required([2]string{"medication", m.Medication}, [2]string{"dose", m.Dose}, [2]string{"justification", m.Justification}); err != nil {
		return nil, err
	}

	_, err := s.run(ctx, "medication.request", encounterID, actor, func(ctx context.Context, e *Encounter, fx *effects) error {
		if IsTerminal(e.State) {
			return fmt.Errorf("encounter %s is closed: %w", e.ID, apperr.ErrInvalidTransition)
		}
		m.EncounterID = e.ID
		m.RequestedBy = actor
		m.State = MedicationPending
		m.RespondedBy, m.RespondedAt, m.Response = nil, nil, ""
		if err := s.repo.CreateMedicationRequest(ctx, m); err != nil {
			return err
		}

		fx.record("medication.requested", "medication_request", m.ID, map[string]any{
			"encounter_id": e.ID.String(), "medication": m.Medication, "dose": m.Dose,
		})
		alert := notification.Alert{
			Type:  notification.TypeMedicationRequest,
			Title: "New medication request",
			Message: fmt.Sprintf("Medication: %s. Route: %s. Patient: %s",
				m.Medication, m.Route, patientName(ctx, s.repo, e)),
			EncounterID: encounterRef(e),
			Priority:    notification.PriorityMedium,
			Data:        map[string]any{"request_id": m.ID.String(), "medication": m.Medication, "dose": m.Dose, "route": m.Route},
		}
		fx.notify(notification.ToStaff(e.ParamedicID), alert)
		if Critical(e.Priority) {
			alert.Priority = notification.PriorityHigh
		}
		fx.notify(notification.OnDutyByRole(auth.RolePhysician), alert)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AnswerMedication authorizes or rejects a pending request. A request that
// was already answered returns ErrConflict.
func (s *Service) AnswerMedication(ctx context.Context, id uuid.UUID, a MedicationAnswer, actor uuid.UUID) (*MedicationRequest, error) {
	current, err := s.repo.GetMedicationRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *MedicationRequest
	_, err = s.run(ctx, "medication.answer", current.EncounterID, actor, func(ctx context.Context, e *Encounter, fx *effects) error {
		m, err := s.repo.GetMedicationRequest(ctx, id)
		if err != nil {
			return err
		}
		if m.State != MedicationPending {
			return fmt.Errorf("medication request %s already %s: %w", m.ID, m.State, apperr.ErrConflict)
		}

		now := s.clock.Now()
		m.State, m.Response = MedicationRejected, "Rejected"
		if a.Authorize {
			m.State, m.Response = MedicationAuthorized, "Authorized"
		}
		if r := strings.TrimSpace(a.Response); r != "" {
			m.Response = r
		}
		m.RespondedBy = &actor
		m.RespondedAt = &now
		if err := s.repo.AnswerMedicationRequest(ctx, m); err != nil {
			return err
		}
		out = m

		fx.record("medication."+m.State, "medication_request", m.ID, map[string]any{
			"encounter_id": e.ID.String(), "response": m.Response,
		})
		fx.notify(notification.ToStaff(m.RequestedBy), notification.Alert{
			Type:        notification.TypeMedicationAnswered,
			Title:       "Medication request " + m.State,
			Message:     fmt.Sprintf("%s %s: %s", m.Medication, m.Dose, m.Response),
			EncounterID: encounterRef(e),
			Priority:    notification.PriorityHigh,
			Data:        map[string]any{"request_id": m.ID.String(), "state": m.State},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ListMedicationRequests(ctx context.Context, f OrderFilter, limit, offset int) ([]*MedicationRequest, int, error) {
	switch f.State {
	case "", MedicationPending, MedicationAuthorized, MedicationRejected:
	default:
		return nil, 0, fmt.Errorf("invalid state %q: %w", f.State, apperr.ErrValidation)
	}
	return s.repo.ListMedicationRequests(ctx, f, limit, offset)
}

// -- Exam requests --

// RequestExam orders studies for an open encounter and alerts its paramedic.
func (s *Service) RequestExam(ctx context.Context, encounterID uuid.UUID, x *ExamRequest, actor uuid.UUID) (*ExamRequest, error) {
	x.ExamType = strings.TrimSpace(x.ExamType)
	x.Exams = strings.TrimSpace(x.Exams)
	x.Justification = strings.TrimSpace(x.Justification)
	if err := required([2]string{"exam_type", x.ExamType}, [2]string{"exams", x.Exams}, [2]string{"justification", x.Justification}); err != nil {
		return nil, err
	}
	switch x.Priority {
	case "":
		x.Priority = ExamNormal
	case ExamUrgent, ExamNormal, ExamDeferred:
	default:
		return nil, fmt.Errorf("invalid exam priority %q: %w", x.Priority, apperr.ErrValidation)
	}

	_, err := s.run(ctx, "exam.request", encounterID, actor, func(ctx context.Context, e *Encounter, fx *effects) error {
		if IsTerminal(e.State) {
			return fmt.Errorf("encounter %s is closed: %w", e.ID, apperr.ErrInvalidTransition)
		}
		x.EncounterID = e.ID
		x.RequestedBy = actor
		x.State = ExamPending
		x.Results = ""
		if err := s.repo.CreateExamRequest(ctx, x); err != nil {
			return err
		}

		fx.record("exam.requested", "exam_request", x.ID, map[string]any{
			"encounter_id": e.ID.String(), "exam_type": x.ExamType, "priority": x.Priority,
		})
		priority := notification.PriorityMedium
		if x.Priority == ExamUrgent {
			priority = notification.PriorityHigh
		}
		fx.notify(notification.ToStaff(e.ParamedicID), notification.Alert{
			Type:  notification.TypeExamRequest,
			Title: "New exam request",
			Message: fmt.Sprintf("Type: %s. Exams: %s. Patient: %s",
				x.ExamType, truncate(x.Exams, 100), patientName(ctx, s.repo, e)),
			EncounterID: encounterRef(e),
			Priority:    priority,
			Data:        map[string]any{"request_id": x.ID.String(), "exam_type": x.ExamType, "exams": x.Exams},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return x, nil
}

// UpdateExam moves an exam request to its next state. Completing it
// requires results and alerts the requesting physician.
func (s *Service) UpdateExam(ctx context.Context, id uuid.UUID, u ExamUpdate, actor uuid.UUID) (*ExamRequest, error) {
	current, err := s.repo.GetExamRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.State == ExamCompleted && strings.TrimSpace(u.Results) == "" {
		return nil, fmt.Errorf("results are required to complete an exam: %w", apperr.ErrValidation)
	}

	var out *ExamRequest
	_, err = s.run(ctx, "exam.update", current.EncounterID, actor, func(ctx context.Context, e *Encounter, fx *effects) error {
		x, err := s.repo.GetExamRequest(ctx, id)
		if err != nil {
			return err
		}
		from := x.State
		if !canMoveExam(from, u.State) {
			return fmt.Errorf("exam request %s cannot move from %s to %q: %w", x.ID, from, u.State, apperr.ErrInvalidTransition)
		}
		x.State = u.State
		if o := strings.TrimSpace(u.Observations); o != "" {
			x.Observations = o
		}
		if r := strings.TrimSpace(u.Results); r != "" {
			x.Results = r
		}
		if err := s.repo.UpdateExamRequest(ctx, x, from); err != nil {
			return err
		}
		out = x

		fx.record("exam."+x.State, "exam_request", x.ID, map[string]any{"encounter_id": e.ID.String(), "from": from})
		if x.State == ExamCompleted {
			fx.notify(notification.ToStaff(x.RequestedBy), notification.Alert{
				Type:        notification.TypeExamCompleted,
				Title:       "Exam results available",
				Message:     fmt.Sprintf("%s results for %s are ready.", x.ExamType, patientName(ctx, s.repo, e)),
				EncounterID: encounterRef(e),
				Priority:    notification.PriorityHigh,
				Data:        map[string]any{"request_id": x.ID.String()},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ListExamRequests(ctx context.Context, f OrderFilter, limit, offset int) ([]*ExamRequest, int, error) {
	switch f.State {
	case "", ExamPending, ExamInProgress, ExamCompleted, ExamCancelled:
	default:
		return nil, 0, fmt.Errorf("invalid state %q: %w", f.State, apperr.ErrValidation)
	}
	return s.repo.ListExamRequests(ctx, f, limit, offset)
}
