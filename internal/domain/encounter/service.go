package encounter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ehr/urgencias/internal/domain/bed"
	"github.com/ehr/urgencias/internal/domain/notification"
	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/audit"
	"github.com/ehr/urgencias/internal/platform/auth"
	"github.com/ehr/urgencias/internal/platform/clock"
	"github.com/ehr/urgencias/internal/platform/db"
	"github.com/ehr/urgencias/internal/platform/metrics"
	"github.com/ehr/urgencias/internal/platform/telemetry"
	"github.com/ehr/urgencias/internal/platform/websocket"
)

// BedReleaser frees the bed an encounter holds. ReleaseForEncounter joins
// the caller's transaction; AnnounceRelease runs after it commits.
type BedReleaser interface {
	ReleaseForEncounter(ctx context.Context, encounterID uuid.UUID) (*bed.Bed, error)
	AnnounceRelease(ctx context.Context, b *bed.Bed, encounterID, actor uuid.UUID)
}

// Notifier delivers alerts to a recipient selector.
type Notifier interface {
	Notify(ctx context.Context, sel notification.Selector, alert notification.Alert) ([]*notification.Notification, error)
}

// Broadcaster publishes board changes to connected clients.
type Broadcaster interface {
	Broadcast(topic string, event websocket.Event)
}

type Service struct {
	repo     Repository
	tx       db.TxRunner
	beds     BedReleaser
	notifier Notifier
	clock    clock.Clock
	audit    audit.Sink
	logger   zerolog.Logger
	loc      *time.Location
	board    Broadcaster
	metrics  *metrics.Collector
}

func NewService(repo Repository, tx db.TxRunner, beds BedReleaser, notifier Notifier, clk clock.Clock, sink audit.Sink, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		beds:     beds,
		notifier: notifier,
		clock:    clk,
		audit:    sink,
		logger:   logger.With().Str("component", "encounter").Logger(),
		loc:      time.UTC,
	}
}

// SetLocation sets the hospital time zone used for diagnosis codes and
// temporary patient ids.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// SetBroadcaster attaches the websocket hub used for board updates.
func (s *Service) SetBroadcaster(b Broadcaster) { s.board = b }

// SetMetrics attaches an optional metrics collector.
func (s *Service) SetMetrics(m *metrics.Collector) { s.metrics = m }

// ---------------------------------------------------------------------------
// Deferred side effects
// ---------------------------------------------------------------------------

type pendingAlert struct {
	sel   notification.Selector
	alert notification.Alert
}

type auditEntry struct {
	action     string
	entityType string
	entityID   uuid.UUID
	details    map[string]any
}

type stateChange struct{ from, to string }

// effects collects what a transaction wants done once it has committed.
// Nothing in here runs if the transaction rolls back.
type effects struct {
	audits   []auditEntry
	alerts   []pendingAlert
	released []*bed.Bed
	changes  []stateChange
	touched  *Encounter
}

func (fx *effects) record(action, entityType string, id uuid.UUID, details map[string]any) {
	fx.audits = append(fx.audits, auditEntry{action, entityType, id, details})
}

func (fx *effects) notify(sel notification.Selector, a notification.Alert) {
	fx.alerts = append(fx.alerts, pendingAlert{sel, a})
}

func (s *Service) flush(ctx context.Context, actor uuid.UUID, fx *effects) {
	for _, a := range fx.audits {
		s.audit.Record(ctx, actor, a.action, a.entityType, a.entityID, a.details)
	}
	if fx.touched != nil {
		for _, b := range fx.released {
			s.beds.AnnounceRelease(ctx, b, fx.touched.ID, actor)
		}
		s.broadcast(fx.touched)
	}
	if s.metrics != nil {
		for _, c := range fx.changes {
			s.metrics.EncounterTransitions.WithLabelValues(c.from, c.to).Inc()
		}
	}
	if s.notifier == nil {
		return
	}
	for _, p := range fx.alerts {
		if _, err := s.notifier.Notify(ctx, p.sel, p.alert); err != nil {
			s.logger.Error().Err(err).
				Str("selector", p.sel.String()).
				Str("type", p.alert.Type).
				Msg("alert delivery failed")
		}
	}
}

func (s *Service) broadcast(e *Encounter) {
	if s.board == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error().Err(err).Str("encounter_id", e.ID.String()).Msg("encode encounter event")
		return
	}
	s.board.Broadcast(websocket.TopicBoard, websocket.Event{
		Type:       "encounter.updated",
		EntityType: "encounter",
		EntityID:   e.ID.String(),
		Timestamp:  s.clock.Now(),
		Data:       data,
	})
}

func encounterRef(e *Encounter) *uuid.UUID {
	id := e.ID
	return &id
}

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

// transition moves a locked encounter to the next state and queues the side
// effects of entering it. Entering seen or a terminal state requires a
// diagnosis.
func (s *Service) transition(ctx context.Context, e *Encounter, to string, actor uuid.UUID, fx *effects) error {
	from := e.State
	if !CanTransition(from, to) {
		return fmt.Errorf("encounter %s cannot move from %s to %s: %w", e.ID, from, to, apperr.ErrInvalidTransition)
	}
	if to == StateSeen || IsTerminal(to) {
		if _, err := s.repo.GetDiagnosis(ctx, e.ID); errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("encounter %s has no diagnosis: %w", e.ID, apperr.ErrInvalidTransition)
		} else if err != nil {
			return err
		}
	}

	now := s.clock.Now()
	e.State = to
	if to == StateAtHospital && e.ArrivedAt == nil {
		e.ArrivedAt = &now
	}
	if err := s.repo.Update(ctx, e); err != nil {
		return err
	}
	var changedBy *uuid.UUID
	if actor != uuid.Nil {
		changedBy = &actor
	}
	if err := s.repo.AddStatusChange(ctx, &StatusChange{
		EncounterID: e.ID,
		FromState:   from,
		ToState:     to,
		ChangedBy:   changedBy,
		ChangedAt:   now,
	}); err != nil {
		return err
	}

	if releasesBed(to) && s.beds != nil {
		b, err := s.beds.ReleaseForEncounter(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("release bed: %w", err)
		}
		if b != nil {
			fx.released = append(fx.released, b)
		}
	}

	fx.touched = e
	fx.changes = append(fx.changes, stateChange{from, to})
	fx.record("encounter.transitioned", "encounter", e.ID, map[string]any{"from": from, "to": to})
	s.queueTransitionAlerts(e, from, to, fx)
	return nil
}

func (s *Service) queueTransitionAlerts(e *Encounter, from, to string, fx *effects) {
	ref := encounterRef(e)
	data := map[string]any{"from": from, "to": to, "priority": e.Priority}

	fx.notify(notification.ToStaff(e.ParamedicID), notification.Alert{
		Type:        notification.TypeStateChanged,
		Title:       "Encounter state changed",
		Message:     fmt.Sprintf("Encounter moved from %s to %s.", from, to),
		EncounterID: ref,
		Priority:    notification.PriorityMedium,
		Data:        data,
	})

	switch to {
	case StateAtHospital:
		priority := notification.PriorityHigh
		if Critical(e.Priority) {
			priority = notification.PriorityUrgent
		}
		fx.notify(notification.OnDutyByRoles(auth.RoleTENS, auth.RolePhysician), notification.Alert{
			Type:        notification.TypePatientArrived,
			Title:       "Patient arrived",
			Message:     fmt.Sprintf("%s patient arrived: %s", e.Priority, e.ChiefComplaint),
			EncounterID: ref,
			Priority:    priority,
			Data:        data,
		})
	case StateAdmitted:
		fx.notify(notification.ByRole(auth.RoleAdmin), notification.Alert{
			Type:        notification.TypeAdmissionRequested,
			Title:       "Ward bed requested",
			Message:     "A patient was admitted and needs a ward bed.",
			EncounterID: ref,
			Priority:    notification.PriorityHigh,
			Data:        data,
		})
	case StateInICU:
		fx.notify(notification.OnDutyByRoles(auth.RolePhysician, auth.RoleAdmin), notification.Alert{
			Type:        notification.TypeICUAdmission,
			Title:       "ICU admission",
			Message:     fmt.Sprintf("%s patient admitted to the ICU.", e.Priority),
			EncounterID: ref,
			Priority:    notification.PriorityUrgent,
			Data:        data,
		})
	}
}

// run executes fn in a transaction on a locked encounter and flushes the
// queued side effects after commit.
func (s *Service) run(ctx context.Context, span string, id, actor uuid.UUID, fn func(ctx context.Context, e *Encounter, fx *effects) error) (*Encounter, error) {
	ctx, sp := telemetry.StartSpan(ctx, "encounter."+span, attribute.String("encounter.id", id.String()))
	var (
		fx  effects
		out *Encounter
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, e, &fx); err != nil {
			return err
		}
		out = e
		return nil
	})
	telemetry.EndSpan(sp, err)
	if err != nil {
		return nil, err
	}
	s.flush(ctx, actor, &fx)
	return out, nil
}

// TransitionEncounter moves an encounter directly to state to.
func (s *Service) TransitionEncounter(ctx context.Context, id uuid.UUID, to string, actor uuid.UUID) (*Encounter, error) {
	if !ValidState(to) {
		return nil, fmt.Errorf("unknown state %q: %w", to, apperr.ErrValidation)
	}
	return s.run(ctx, "transition", id, actor, func(ctx context.Context, e *Encounter, fx *effects) error {
		if to == StateAtHospital {
			return s.arrive(ctx, e, actor, fx)
		}
		return s.transition(ctx, e, to, actor, fx)
	})
}

// RegisterArrival records the patient's arrival. Once arrival is recorded,
// calling it again returns the encounter unchanged.
func (s *Service) RegisterArrival(ctx context.Context, id, actor uuid.UUID) (*Encounter, error) {
	return s.run(ctx, "arrival", id, actor, func(ctx context.Context, e *Encounter, fx *effects) error {
		return s.arrive(ctx, e, actor, fx)
	})
}

func (s *Service) arrive(ctx context.Context, e *Encounter, actor uuid.UUID, fx *effects) error {
	if e.ArrivedAt != nil {
		return nil
	}
	return s.transition(ctx, e, StateAtHospital, actor, fx)
}

// RecordTriage stores the one triage assessment and re-classifies the
// encounter priority from its severity. State is unchanged.
func (s *Service) RecordTriage(ctx context.Context, id uuid.UUID, t *Triage, actor uuid.UUID) (*Triage, error) {
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}
	_, err := s.run(ctx, "triage", id, actor, func(ctx context.Context, e *Encounter, fx *effects) error {
		if IsTerminal(e.State) {
			return fmt.Errorf("encounter %s is closed: %w", e.ID, apperr.ErrInvalidTransition)
		}
		if _, err := s.repo.GetTriage(ctx, e.ID); err == nil {
			return fmt.Errorf("encounter %s already triaged: %w", e.ID, apperr.ErrConflict)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		t.EncounterID = e.ID
		t.PerformedBy = actor
		if err := s.repo.CreateTriage(ctx, t); err != nil {
			return err
		}
		previous := e.Priority
		e.Priority = PriorityForSeverity(t.Severity)
		if err := s.repo.Update(ctx, e); err != nil {
			return err
		}

		fx.touched = e
		fx.record("encounter.triaged", "encounter", e.ID, map[string]any{
			"severity": t.Severity, "previous_priority": previous, "priority": e.Priority,
		})
		priority := notification.PriorityHigh
		if t.Severity <= 2 {
			priority = notification.PriorityUrgent
		}
		fx.notify(notification.OnDutyByRole(auth.RolePhysician), notification.Alert{
			Type:        notification.TypeTriageCompleted,
			Title:       fmt.Sprintf("Triage ESI %d", t.Severity),
			Message:     fmt.Sprintf("%s patient triaged, maximum wait %s.", e.Priority, MaxWaitLabel(t.Severity)),
			EncounterID: encounterRef(e),
			Priority:    priority,
			Data: map[string]any{
				"severity":    t.Severity,
				"colour":      ESIColour(t.Severity),
				"max_wait":    MaxWaitLabel(t.Severity),
				"alarm_signs": t.AlarmSigns(),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RecordDiagnosis stores the diagnosis, moves the encounter to seen and, when
// a disposition is given, on to its terminal state, all in one transaction.
func (s *Service) RecordDiagnosis(ctx context.Context, id uuid.UUID, d *Diagnosis, actor uuid.UUID) (*Detail, error) {
	d.Description = strings.TrimSpace(d.Description)
	if d.Description == "" {
		return nil, fmt.Errorf("description is required: %w", apperr.ErrValidation)
	}
	if err := validateDisposition(d); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}

	e, err := s.run(ctx, "diagnosis", id, actor, func(ctx context.Context, e *Encounter, fx *effects) error {
		if _, err := s.repo.GetDiagnosis(ctx, e.ID); err == nil {
			return fmt.Errorf("encounter %s already diagnosed: %w", e.ID, apperr.ErrConflict)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if e.State != StateAtHospital {
			return fmt.Errorf("encounter %s is %s, not at hospital: %w", e.ID, e.State, apperr.ErrInvalidTransition)
		}

		seq, err := s.repo.NextDiagnosisSeq(ctx, s.clock.Now().In(s.loc))
		if err != nil {
			return err
		}
		d.EncounterID = e.ID
		d.PhysicianID = actor
		d.Code = DiagnosisCode(s.clock.Now().In(s.loc), seq)
		if err := s.repo.CreateDiagnosis(ctx, d); err != nil {
			return err
		}
		if actor != uuid.Nil {
			e.PhysicianID = &actor
		}
		if err := s.transition(ctx, e, StateSeen, actor, fx); err != nil {
			return err
		}
		if d.DispositionType != "" {
			target, _ := TargetState(d.DispositionType)
			if err := s.transition(ctx, e, target, actor, fx); err != nil {
				return err
			}
		}

		fx.record("encounter.diagnosed", "encounter", e.ID, map[string]any{
			"code": d.Code, "icd10": d.ICD10Code, "disposition": d.DispositionType,
		})
		fx.notify(notification.ToStaff(e.ParamedicID), notification.Alert{
			Type:        notification.TypeDiagnosisRecorded,
			Title:       "Diagnosis recorded",
			Message:     fmt.Sprintf("Diagnosis %s: %s", d.Code, d.Description),
			EncounterID: encounterRef(e),
			Priority:    notification.PriorityMedium,
			Data: map[string]any{
				"code": d.Code, "icd10": d.ICD10Code, "disposition": d.DispositionType,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Detail{Encounter: e, Diagnosis: d}, nil
}

// DispositionRequest closes a seen encounter.
type DispositionRequest struct {
	Type                string     `json:"disposition_type"`
	TransferDestination string     `json:"transfer_destination"`
	TimeOfDeath         *time.Time `json:"time_of_death,omitempty"`
}

// ApplyDisposition records the disposition on the diagnosis and moves the
// encounter into the terminal state it selects.
func (s *Service) ApplyDisposition(ctx context.Context, id uuid.UUID, req DispositionRequest, actor uuid.UUID) (*Encounter, error) {
	target, ok := TargetState(req.Type)
	if !ok {
		return nil, fmt.Errorf("invalid disposition type %q: %w", req.Type, apperr.ErrValidation)
	}
	return s.run(ctx, "disposition", id, actor, func(ctx context.Context, e *Encounter, fx *effects) error {
		d, err := s.repo.GetDiagnosis(ctx, e.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("encounter %s has no diagnosis: %w", e.ID, apperr.ErrInvalidTransition)
		}
		if err != nil {
			return err
		}
		if !CanTransition(e.State, target) {
			return fmt.Errorf("encounter %s cannot move from %s to %s: %w", e.ID, e.State, target, apperr.ErrInvalidTransition)
		}

		d.DispositionType = req.Type
		d.TransferDestination = strings.TrimSpace(req.TransferDestination)
		d.TimeOfDeath = req.TimeOfDeath
		if err := validateDisposition(d); err != nil {
			return fmt.Errorf("%v: %w", err, apperr.ErrValidation)
		}
		if err := s.repo.UpdateDiagnosis(ctx, d); err != nil {
			return err
		}
		return s.transition(ctx, e, target, actor, fx)
	})
}

// EnsureAssignable rejects bed assignment for closed encounters. It waits
// for any in-flight transition of the encounter to finish.
func (s *Service) EnsureAssignable(ctx context.Context, encounterID uuid.UUID) error {
	e, err := s.repo.GetForShare(ctx, encounterID)
	if err != nil {
		return err
	}
	if IsTerminal(e.State) {
		return fmt.Errorf("encounter %s is %s: %w", e.ID, e.State, apperr.ErrInvalidTransition)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Creation and reads
// ---------------------------------------------------------------------------

// CreateEncounter opens an en_route encounter from a paramedic's report,
// registering the patient first when given inline.
func (s *Service) CreateEncounter(ctx context.Context, req CreateRequest, paramedicID uuid.UUID) (*Encounter, error) {
	req.ChiefComplaint = strings.TrimSpace(req.ChiefComplaint)
	switch {
	case req.ChiefComplaint == "":
		return nil, fmt.Errorf("chief complaint is required: %w", apperr.ErrValidation)
	case !ValidPriority(req.Priority):
		return nil, fmt.Errorf("invalid priority %q: %w", req.Priority, apperr.ErrValidation)
	case (req.PatientID == nil) == (req.Patient == nil):
		return nil, fmt.Errorf("exactly one of patient_id or patient is required: %w", apperr.ErrValidation)
	case paramedicID == uuid.Nil:
		return nil, fmt.Errorf("paramedic is required: %w", apperr.ErrValidation)
	}
	if req.Patient != nil {
		if err := s.preparePatient(req.Patient); err != nil {
			return nil, err
		}
	}

	ctx, sp := telemetry.StartSpan(ctx, "encounter.create")
	var (
		fx effects
		e  *Encounter
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p := req.Patient
		if p != nil {
			if err := s.repo.CreatePatient(ctx, p); err != nil {
				return err
			}
			fx.record("patient.registered", "patient", p.ID, map[string]any{"unidentified": p.Unidentified})
		} else {
			var err error
			if p, err = s.repo.GetPatient(ctx, *req.PatientID); err != nil {
				return err
			}
		}

		e = &Encounter{
			PatientID:          p.ID,
			ParamedicID:        paramedicID,
			ChiefComplaint:     req.ChiefComplaint,
			Circumstances:      strings.TrimSpace(req.Circumstances),
			Symptoms:           strings.TrimSpace(req.Symptoms),
			ConsciousnessLevel: strings.TrimSpace(req.ConsciousnessLevel),
			Priority:           req.Priority,
			State:              StateEnRoute,
			ETA:                strings.TrimSpace(req.ETA),
			Patient:            p,
		}
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		fx.touched = e
		fx.record("encounter.created", "encounter", e.ID, map[string]any{"priority": e.Priority, "patient_id": p.ID.String()})

		priority := notification.PriorityMedium
		if Critical(e.Priority) {
			priority = notification.PriorityUrgent
		}
		fx.notify(notification.ByRole(auth.RolePhysician), notification.Alert{
			Type:        notification.TypeNewEncounter,
			Title:       "New emergency encounter",
			Message:     fmt.Sprintf("Patient: %s. Priority: %s. Complaint: %s", p.DisplayName(), e.Priority, truncate(e.ChiefComplaint, 100)),
			EncounterID: encounterRef(e),
			Priority:    priority,
			Data: map[string]any{
				"patient_id":   p.ID.String(),
				"priority":     e.Priority,
				"paramedic_id": paramedicID.String(),
				"eta":          e.ETA,
			},
		})
		return nil
	})
	telemetry.EndSpan(sp, err)
	if err != nil {
		return nil, err
	}
	s.flush(ctx, paramedicID, &fx)
	return e, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// GetEncounter returns the encounter with its patient, triage and diagnosis.
func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Detail, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Patient, err = s.repo.GetPatient(ctx, e.PatientID); err != nil {
		return nil, err
	}
	out := &Detail{Encounter: e}
	if out.Triage, err = s.repo.GetTriage(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if out.Diagnosis, err = s.repo.GetDiagnosis(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return out, nil
}

func (s *Service) ListEncounters(ctx context.Context, f Filter, limit, offset int) ([]*Encounter, int, error) {
	if f.State != "" && !ValidState(f.State) {
		return nil, 0, fmt.Errorf("unknown state %q: %w", f.State, apperr.ErrValidation)
	}
	if f.Priority != "" && !ValidPriority(f.Priority) {
		return nil, 0, fmt.Errorf("invalid priority %q: %w", f.Priority, apperr.ErrValidation)
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) GetStatusHistory(ctx context.Context, id uuid.UUID) ([]*StatusChange, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListStatusHistory(ctx, id)
}
