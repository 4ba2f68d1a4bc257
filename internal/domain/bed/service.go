package bed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/audit"
	"github.com/ehr/urgencias/internal/platform/auth"
	"github.com/ehr/urgencias/internal/platform/clock"
	"github.com/ehr/urgencias/internal/platform/db"
	"github.com/ehr/urgencias/internal/platform/metrics"
	"github.com/ehr/urgencias/internal/platform/websocket"
)

// EncounterGate confirms that an encounter may be placed in a bed.
type EncounterGate interface {
	EnsureAssignable(ctx context.Context, encounterID uuid.UUID) error
}

// Broadcaster publishes bed board changes to connected clients.
type Broadcaster interface {
	Broadcast(topic string, event websocket.Event)
}

type Service struct {
	repo       Repository
	tx         db.TxRunner
	encounters EncounterGate
	clock      clock.Clock
	audit      audit.Sink
	logger     zerolog.Logger
	board      Broadcaster
	metrics    *metrics.Collector
}

func NewService(repo Repository, tx db.TxRunner, encounters EncounterGate, clk clock.Clock, sink audit.Sink, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		tx:         tx,
		encounters: encounters,
		clock:      clk,
		audit:      sink,
		logger:     logger.With().Str("component", "bed").Logger(),
	}
}

// SetBroadcaster attaches the websocket hub used for board updates.
func (s *Service) SetBroadcaster(b Broadcaster) { s.board = b }

// SetMetrics attaches an optional metrics collector.
func (s *Service) SetMetrics(m *metrics.Collector) { s.metrics = m }

// SetEncounterGate wires the encounter service after construction; the two
// services depend on each other.
func (s *Service) SetEncounterGate(g EncounterGate) { s.encounters = g }

func (s *Service) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, apperr.ErrBedUnavailable):
		outcome = "unavailable"
	case errors.Is(err, apperr.ErrInvalidTransition):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	s.metrics.BedOperations.WithLabelValues(op, outcome).Inc()
}

// announce runs after commit: board broadcast plus audit entry.
func (s *Service) announce(ctx context.Context, actor uuid.UUID, action string, b *Bed, details map[string]any) {
	s.audit.Record(ctx, actor, action, "bed", b.ID, details)
	if s.board == nil {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		s.logger.Error().Err(err).Str("bed_id", b.ID.String()).Msg("encode bed event")
		return
	}
	s.board.Broadcast(websocket.TopicBeds, websocket.Event{
		Type:       action,
		EntityType: "bed",
		EntityID:   b.ID.String(),
		Timestamp:  s.clock.Now(),
		Data:       data,
	})
}

// Assign places encounterID in bedID. The bed must be available; any bed the
// encounter held before moves to cleaning in the same transaction. Assigning
// an encounter to the bed it already occupies changes nothing.
func (s *Service) Assign(ctx context.Context, bedID, encounterID, staffID uuid.UUID) (*Bed, error) {
	var (
		out   *Bed
		prior *Bed
		noop  bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, bedID)
		if err != nil {
			return err
		}
		if b.State == StateOccupied && b.EncounterID != nil && *b.EncounterID == encounterID {
			out, noop = b, true
			return nil
		}
		if b.State != StateAvailable {
			return fmt.Errorf("bed %s is %s: %w", b.Code, b.State, apperr.ErrBedUnavailable)
		}
		if s.encounters != nil {
			if err := s.encounters.EnsureAssignable(ctx, encounterID); err != nil {
				return err
			}
		}

		prior, err = s.repo.FindByEncounterForUpdate(ctx, encounterID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			prior = nil
		case err != nil:
			return err
		default:
			prior.vacate(StateCleaning)
			if err := s.repo.SaveState(ctx, prior); err != nil {
				return err
			}
		}

		b.occupy(encounterID, staffID, s.clock.Now())
		if err := s.repo.SaveState(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	s.observe("assign", err)
	if err != nil {
		return nil, err
	}
	if noop {
		return out, nil
	}

	if prior != nil {
		s.announce(ctx, staffID, "bed.released", prior, map[string]any{"reason": "reassigned", "encounter_id": encounterID.String()})
	}
	s.announce(ctx, staffID, "bed.assigned", out, map[string]any{"encounter_id": encounterID.String(), "code": out.Code})
	return out, nil
}

// Release frees an occupied bed into cleaning.
func (s *Service) Release(ctx context.Context, bedID, actor uuid.UUID) (*Bed, error) {
	var (
		out       *Bed
		encounter uuid.UUID
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, bedID)
		if err != nil {
			return err
		}
		if b.State != StateOccupied {
			return fmt.Errorf("bed %s is %s, not occupied: %w", b.Code, b.State, apperr.ErrInvalidTransition)
		}
		encounter = *b.EncounterID
		b.vacate(StateCleaning)
		out = b
		return s.repo.SaveState(ctx, b)
	})
	s.observe("release", err)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, actor, "bed.released", out, map[string]any{"encounter_id": encounter.String()})
	return out, nil
}

// MarkReady returns a bed from cleaning or maintenance to available.
func (s *Service) MarkReady(ctx context.Context, bedID, actor uuid.UUID) (*Bed, error) {
	var (
		out  *Bed
		from string
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, bedID)
		if err != nil {
			return err
		}
		if b.State != StateCleaning && b.State != StateMaintenance {
			return fmt.Errorf("bed %s is %s: %w", b.Code, b.State, apperr.ErrInvalidTransition)
		}
		from = b.State
		b.vacate(StateAvailable)
		out = b
		return s.repo.SaveState(ctx, b)
	})
	s.observe("mark_ready", err)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, actor, "bed.ready", out, map[string]any{"from": from})
	return out, nil
}

// ChangeState moves a bed to newState administratively. Entering occupied
// needs an encounter and goes through Assign; leaving occupied clears the
// occupancy references.
func (s *Service) ChangeState(ctx context.Context, bedID uuid.UUID, newState string, encounterID *uuid.UUID, actor uuid.UUID) (*Bed, error) {
	if !ValidState(newState) {
		return nil, fmt.Errorf("invalid bed state %q: %w", newState, apperr.ErrValidation)
	}
	if newState == StateOccupied {
		if encounterID == nil || *encounterID == uuid.Nil {
			return nil, fmt.Errorf("occupied requires an encounter: %w", apperr.ErrInvalidTransition)
		}
		return s.Assign(ctx, bedID, *encounterID, actor)
	}

	var (
		out  *Bed
		from string
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, bedID)
		if err != nil {
			return err
		}
		from = b.State
		b.vacate(newState)
		out = b
		return s.repo.SaveState(ctx, b)
	})
	s.observe("change_state", err)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, actor, "bed.state_changed", out, map[string]any{"from": from, "to": newState})
	return out, nil
}

// ReleaseForEncounter moves the bed held by encounterID, if any, to cleaning.
// It joins the caller's transaction and leaves announcing to the caller via
// AnnounceRelease once that transaction commits. A nil bed means the
// encounter held none.
func (s *Service) ReleaseForEncounter(ctx context.Context, encounterID uuid.UUID) (*Bed, error) {
	var out *Bed
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.FindByEncounterForUpdate(ctx, encounterID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		b.vacate(StateCleaning)
		out = b
		return s.repo.SaveState(ctx, b)
	})
	s.observe("release_for_encounter", err)
	return out, err
}

// AnnounceRelease publishes a release done by ReleaseForEncounter.
func (s *Service) AnnounceRelease(ctx context.Context, b *Bed, encounterID, actor uuid.UUID) {
	s.announce(ctx, actor, "bed.released", b, map[string]any{"encounter_id": encounterID.String(), "reason": "disposition"})
}

func (s *Service) CreateBed(ctx context.Context, b *Bed) error {
	b.Code = strings.TrimSpace(b.Code)
	if b.Code == "" {
		return fmt.Errorf("code is required: %w", apperr.ErrValidation)
	}
	if !ValidType(b.Type) {
		return fmt.Errorf("invalid bed type %q: %w", b.Type, apperr.ErrValidation)
	}
	if b.State == "" {
		b.State = StateAvailable
	}
	if !ValidState(b.State) || b.State == StateOccupied {
		return fmt.Errorf("beds cannot be created %s: %w", b.State, apperr.ErrValidation)
	}
	b.EncounterID, b.AssignedAt, b.AssignedBy = nil, nil, nil
	if err := s.repo.Create(ctx, b); err != nil {
		return err
	}
	s.announce(ctx, auth.ActorFromContext(ctx), "bed.created", b, map[string]any{"code": b.Code, "type": b.Type})
	return nil
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.repo.GetByID(ctx, id)
}

// BedForEncounter returns the bed occupied by encounterID.
func (s *Service) BedForEncounter(ctx context.Context, encounterID uuid.UUID) (*Bed, error) {
	return s.repo.GetByEncounter(ctx, encounterID)
}

func (s *Service) ListBeds(ctx context.Context, f Filter, limit, offset int) ([]*Bed, int, error) {
	if f.Type != "" && !ValidType(f.Type) {
		return nil, 0, fmt.Errorf("invalid bed type %q: %w", f.Type, apperr.ErrValidation)
	}
	if f.State != "" && !ValidState(f.State) {
		return nil, 0, fmt.Errorf("invalid bed state %q: %w", f.State, apperr.ErrValidation)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Stats counts beds by type and by state with percentages of the total.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByTypeState(ctx)
	if err != nil {
		return nil, err
	}
	return buildStats(counts), nil
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)*10000/float64(total)) / 100
}

func buildStats(counts []Count) *Stats {
	st := &Stats{
		ByState:     make(map[string]Bucket, len(States)),
		ByType:      make(map[string]Bucket, len(Types)),
		ByTypeState: make(map[string]map[string]int, len(Types)),
	}
	byState := make(map[string]int)
	byType := make(map[string]int)
	for _, c := range counts {
		st.Total += c.N
		byState[c.State] += c.N
		byType[c.Type] += c.N
		if st.ByTypeState[c.Type] == nil {
			st.ByTypeState[c.Type] = make(map[string]int)
		}
		st.ByTypeState[c.Type][c.State] += c.N
	}
	for _, state := range States {
		st.ByState[state] = Bucket{Count: byState[state], Percent: percent(byState[state], st.Total)}
	}
	for _, typ := range Types {
		st.ByType[typ] = Bucket{Count: byType[typ], Percent: percent(byType[typ], st.Total)}
	}
	st.OccupancyRate = st.ByState[StateOccupied].Percent
	return st
}

// DefaultLayout is the bed inventory a fresh department starts with.
func DefaultLayout() []*Bed {
	var beds []*Bed
	for i := 1; i <= 30; i++ {
		beds = append(beds, &Bed{
			Code:  fmt.Sprintf("G-%02d", i),
			Type:  TypeWard,
			Floor: fmt.Sprint(i/10 + 1),
			Room:  fmt.Sprintf("Sala %d", (i-1)/5+1),
		})
	}
	for i := 1; i <= 10; i++ {
		beds = append(beds, &Bed{Code: fmt.Sprintf("UCI-%02d", i), Type: TypeICU, Floor: "3", Room: "UCI"})
	}
	for i := 1; i <= 10; i++ {
		beds = append(beds, &Bed{Code: fmt.Sprintf("ER-%02d", i), Type: TypeEmergencyRoom, Floor: "1", Room: "Emergencia"})
	}
	for _, b := range beds {
		b.State = StateAvailable
	}
	return beds
}

// SeedDefaults inserts DefaultLayout, skipping codes that already exist, and
// returns how many beds were created.
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	created := 0
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		for _, b := range DefaultLayout() {
			ok, err := s.repo.CreateIfMissing(ctx, b)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int("created", created).Msg("bed layout seeded")
	return created, nil
}
