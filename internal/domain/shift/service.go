package shift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/urgencias/internal/domain/staff"
	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/audit"
	"github.com/ehr/urgencias/internal/platform/auth"
	"github.com/ehr/urgencias/internal/platform/clock"
	"github.com/ehr/urgencias/internal/platform/db"
)

// Directory resolves staff members for the on-duty listing.
type Directory interface {
	ActiveByRoles(ctx context.Context, roles ...string) ([]*staff.Staff, error)
}

type Service struct {
	repo   Repository
	tx     db.TxRunner
	hours  Hours
	clock  clock.Clock
	staff  Directory
	audit  audit.Sink
	logger zerolog.Logger
}

func NewService(repo Repository, tx db.TxRunner, hours Hours, clk clock.Clock, dir Directory, sink audit.Sink, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		hours:  hours,
		clock:  clk,
		staff:  dir,
		audit:  sink,
		logger: logger.With().Str("component", "shift").Logger(),
	}
}

// Hours returns the configured shift boundaries.
func (s *Service) Hours() Hours { return s.hours }

// IsActive reports whether a is active at now.
func (s *Service) IsActive(a *Assignment, now time.Time) bool {
	return s.hours.IsActive(a, now)
}

func (s *Service) candidateDates(now time.Time) []time.Time {
	today := s.hours.Today(now)
	return []time.Time{today.AddDate(0, 0, -1), today}
}

func (s *Service) firstActive(list []*Assignment, now time.Time) (*Assignment, error) {
	var first *Assignment
	active := 0
	for _, a := range list {
		if !s.hours.IsActive(a, now) {
			continue
		}
		active++
		if first == nil {
			first = a
		}
	}
	if active > 1 {
		return first, fmt.Errorf("%d overlapping shifts for staff %s: %w", active, first.StaffID, apperr.ErrAmbiguousShift)
	}
	return first, nil
}

// CurrentShiftFor returns the assignment of staffID active at now, looking at
// today's and yesterday's rows. It returns nil when none is active. When
// several overlap it returns the first together with ErrAmbiguousShift.
func (s *Service) CurrentShiftFor(ctx context.Context, staffID uuid.UUID, now time.Time) (*Assignment, error) {
	list, err := s.repo.ListOnDates(ctx, []uuid.UUID{staffID}, s.candidateDates(now))
	if err != nil {
		return nil, err
	}
	return s.firstActive(list, now)
}

// IsOnDuty reports whether staffID has an active assignment now. An
// ambiguous roster counts as on duty.
func (s *Service) IsOnDuty(ctx context.Context, staffID uuid.UUID) (bool, error) {
	a, err := s.CurrentShiftFor(ctx, staffID, s.clock.Now())
	if err != nil && !errors.Is(err, apperr.ErrAmbiguousShift) {
		return false, err
	}
	return a != nil, nil
}

// OnDuty filters staffIDs down to those with an active assignment at at.
// Staff with overlapping active assignments are included and also reported
// in ambiguous.
func (s *Service) OnDuty(ctx context.Context, staffIDs []uuid.UUID, at time.Time) (onDuty, ambiguous []uuid.UUID, err error) {
	if len(staffIDs) == 0 {
		return nil, nil, nil
	}
	list, err := s.repo.ListOnDates(ctx, staffIDs, s.candidateDates(at))
	if err != nil {
		return nil, nil, err
	}
	byStaff := make(map[uuid.UUID][]*Assignment)
	for _, a := range list {
		byStaff[a.StaffID] = append(byStaff[a.StaffID], a)
	}
	for _, id := range staffIDs {
		a, err := s.firstActive(byStaff[id], at)
		if a == nil {
			continue
		}
		onDuty = append(onDuty, id)
		if err != nil {
			ambiguous = append(ambiguous, id)
		}
	}
	return onDuty, ambiguous, nil
}

// StartVoluntary opens an unscheduled, clocked-in shift for the caller.
func (s *Service) StartVoluntary(ctx context.Context, staffID uuid.UUID) (*Assignment, error) {
	now := s.clock.Now()
	var out *Assignment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockStaff(ctx, staffID); err != nil {
			return err
		}
		current, err := s.CurrentShiftFor(ctx, staffID, now)
		if current != nil {
			return fmt.Errorf("staff %s: %w", staffID, apperr.ErrAlreadyOnDuty)
		}
		if err != nil {
			return err
		}

		shiftType, date := s.hours.VoluntaryShift(now)
		out = &Assignment{
			StaffID:   staffID,
			Date:      date,
			Type:      shiftType,
			ClockedIn: true,
			ClockInAt: &now,
			Voluntary: true,
		}
		return s.repo.Create(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, auth.ActorFromContext(ctx), "shift.start_voluntary", "shift_assignment", out.ID,
		map[string]any{"shift_type": out.Type, "shift_date": out.Date.Format(time.DateOnly)})
	return out, nil
}

// StartScheduled clocks the caller into the scheduled assignment active now.
func (s *Service) StartScheduled(ctx context.Context, staffID uuid.UUID) (*Assignment, error) {
	now := s.clock.Now()
	var out *Assignment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockStaff(ctx, staffID); err != nil {
			return err
		}
		list, err := s.repo.ListOnDates(ctx, []uuid.UUID{staffID}, s.candidateDates(now))
		if err != nil {
			return err
		}
		for _, a := range list {
			if !a.Voluntary && s.hours.IsActive(a, now) {
				out = a
				break
			}
		}
		if out == nil {
			return fmt.Errorf("no scheduled shift active for staff %s: %w", staffID, apperr.ErrNotFound)
		}
		if out.ClockedIn {
			return fmt.Errorf("staff %s: %w", staffID, apperr.ErrAlreadyOnDuty)
		}
		out.ClockedIn = true
		out.ClockInAt = &now
		return s.repo.Update(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, auth.ActorFromContext(ctx), "shift.start", "shift_assignment", out.ID,
		map[string]any{"shift_type": out.Type})
	return out, nil
}

// EndShift clocks the caller out of the assignment they are clocked into.
func (s *Service) EndShift(ctx context.Context, staffID uuid.UUID) (*Assignment, error) {
	now := s.clock.Now()
	var out *Assignment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockStaff(ctx, staffID); err != nil {
			return err
		}
		list, err := s.repo.ListOnDates(ctx, []uuid.UUID{staffID}, s.candidateDates(now))
		if err != nil {
			return err
		}
		for _, a := range list {
			if a.ClockedIn && s.hours.IsActive(a, now) {
				out = a
				break
			}
		}
		if out == nil {
			return fmt.Errorf("no open shift for staff %s: %w", staffID, apperr.ErrNotFound)
		}
		out.ClockedIn = false
		out.ClockOutAt = &now
		return s.repo.Update(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, auth.ActorFromContext(ctx), "shift.end", "shift_assignment", out.ID, nil)
	return out, nil
}

// MyShift describes staffID's shift situation at this moment.
func (s *Service) MyShift(ctx context.Context, staffID uuid.UUID) (*Status, error) {
	now := s.clock.Now()
	list, err := s.repo.ListOnDates(ctx, []uuid.UUID{staffID}, s.candidateDates(now))
	if err != nil {
		return nil, err
	}

	st := &Status{}
	for _, a := range list {
		if !a.Voluntary && a.Type != TypeRest {
			st.HasScheduled = true
		}
	}
	current, err := s.firstActive(list, now)
	if err != nil {
		st.Ambiguous = true
		s.logger.Warn().Err(err).Str("staff_id", staffID.String()).Msg("overlapping active shifts")
	}
	if current != nil {
		st.Current = current
		st.InWindow = true
		st.OnDuty = true
		if start, end, ok := s.hours.Window(current.Type, current.Date); ok {
			st.WindowStart, st.WindowEnd = &start, &end
		}
	}
	return st, nil
}

// OnDutyEntry pairs a staff member with the assignment making them on duty.
type OnDutyEntry struct {
	Staff      *staff.Staff `json:"staff"`
	Assignment *Assignment  `json:"assignment"`
}

// OnDutyStaff lists active staff with an active assignment now, restricted
// to roles when given.
func (s *Service) OnDutyStaff(ctx context.Context, roles ...string) ([]OnDutyEntry, error) {
	if len(roles) == 0 {
		roles = []string{auth.RoleParamedic, auth.RoleTENS, auth.RolePhysician, auth.RoleAdmin}
	}
	members, err := s.staff.ActiveByRoles(ctx, roles...)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []OnDutyEntry{}, nil
	}

	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	now := s.clock.Now()
	list, err := s.repo.ListOnDates(ctx, ids, s.candidateDates(now))
	if err != nil {
		return nil, err
	}
	byStaff := make(map[uuid.UUID][]*Assignment)
	for _, a := range list {
		byStaff[a.StaffID] = append(byStaff[a.StaffID], a)
	}

	out := []OnDutyEntry{}
	for _, m := range members {
		if a, _ := s.firstActive(byStaff[m.ID], now); a != nil {
			out = append(out, OnDutyEntry{Staff: m, Assignment: a})
		}
	}
	return out, nil
}

func (s *Service) validateScheduled(a *Assignment) error {
	if a.StaffID == uuid.Nil {
		return fmt.Errorf("staff_id is required: %w", apperr.ErrValidation)
	}
	if !ValidType(a.Type) {
		return fmt.Errorf("invalid shift_type %q: %w", a.Type, apperr.ErrValidation)
	}
	if a.Date.IsZero() {
		return fmt.Errorf("shift_date is required: %w", apperr.ErrValidation)
	}
	return nil
}

// Upsert schedules staff for a date, replacing any scheduled assignment
// already on that date.
func (s *Service) Upsert(ctx context.Context, a *Assignment) error {
	a.Voluntary = false
	if err := s.validateScheduled(a); err != nil {
		return err
	}
	if err := s.repo.Upsert(ctx, a); err != nil {
		return err
	}
	s.audit.Record(ctx, auth.ActorFromContext(ctx), "shift.upsert", "shift_assignment", a.ID,
		map[string]any{"staff_id": a.StaffID.String(), "shift_type": a.Type, "shift_date": a.Date.Format(time.DateOnly)})
	return nil
}

// BulkAssign upserts every (staff, date) pair of req in one transaction.
func (s *Service) BulkAssign(ctx context.Context, req BulkAssignRequest) ([]*Assignment, error) {
	if len(req.StaffIDs) == 0 || len(req.Dates) == 0 {
		return nil, fmt.Errorf("staff_ids and dates are required: %w", apperr.ErrValidation)
	}
	dates := make([]time.Time, 0, len(req.Dates))
	for _, d := range req.Dates {
		t, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return nil, fmt.Errorf("date %q: %w", d, apperr.ErrValidation)
		}
		dates = append(dates, t)
	}

	var out []*Assignment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		for _, staffID := range req.StaffIDs {
			for _, d := range dates {
				a := &Assignment{StaffID: staffID, Date: d, Type: req.Type, Notes: req.Notes}
				if err := s.validateScheduled(a); err != nil {
					return err
				}
				if err := s.repo.Upsert(ctx, a); err != nil {
					return err
				}
				out = append(out, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, auth.ActorFromContext(ctx), "shift.bulk_assign", "shift_assignment", uuid.Nil,
		map[string]any{"count": len(out), "shift_type": req.Type})
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.audit.Record(ctx, auth.ActorFromContext(ctx), "shift.delete", "shift_assignment", id, nil)
	return nil
}

func (s *Service) ListAssignments(ctx context.Context, f Filter, limit, offset int) ([]*Assignment, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}
