package shift

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/urgencias/internal/domain/staff"
	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/audit"
	"github.com/ehr/urgencias/internal/platform/clock"
)

// -- Mock Repository --

type mockRepo struct {
	assignments map[uuid.UUID]*Assignment
	seq         int
	// calls records LockStaff and ListOnDates in order.
	calls []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{assignments: make(map[uuid.UUID]*Assignment)}
}

func (m *mockRepo) Create(_ context.Context, a *Assignment) error {
	a.ID = uuid.New()
	m.seq++
	a.CreatedAt = time.Unix(int64(m.seq), 0)
	m.assignments[a.ID] = a
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Assignment, error) {
	a, ok := m.assignments[id]
	if !ok {
		return nil, fmt.Errorf("shift assignment %s: %w", id, apperr.ErrNotFound)
	}
	return a, nil
}

func (m *mockRepo) Update(_ context.Context, a *Assignment) error {
	m.assignments[a.ID] = a
	return nil
}

func (m *mockRepo) Upsert(ctx context.Context, a *Assignment) error {
	for _, existing := range m.assignments {
		if !existing.Voluntary && existing.StaffID == a.StaffID && existing.Date.Equal(a.Date) {
			existing.Type = a.Type
			existing.Notes = a.Notes
			*a = *existing
			return nil
		}
	}
	return m.Create(ctx, a)
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.assignments[id]; !ok {
		return fmt.Errorf("shift assignment %s: %w", id, apperr.ErrNotFound)
	}
	delete(m.assignments, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Assignment, int, error) {
	var out []*Assignment
	for _, a := range m.assignments {
		if f.StaffID != nil && a.StaffID != *f.StaffID {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (m *mockRepo) LockStaff(_ context.Context, staffID uuid.UUID) error {
	m.calls = append(m.calls, "lock:"+staffID.String())
	return nil
}

func (m *mockRepo) ListOnDates(_ context.Context, staffIDs []uuid.UUID, dates []time.Time) ([]*Assignment, error) {
	m.calls = append(m.calls, "list")
	var out []*Assignment
	for _, a := range m.assignments {
		if !containsDate(dates, a.Date) {
			continue
		}
		if len(staffIDs) > 0 && !containsID(staffIDs, a.StaffID) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func containsDate(dates []time.Time, d time.Time) bool {
	for _, x := range dates {
		if x.Equal(d) {
			return true
		}
	}
	return false
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

type nopTx struct{}

func (nopTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type fakeDirectory struct {
	members []*staff.Staff
}

func (f *fakeDirectory) ActiveByRoles(_ context.Context, roles ...string) ([]*staff.Staff, error) {
	var out []*staff.Staff
	for _, m := range f.members {
		for _, r := range roles {
			if m.Role == r {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

type fixture struct {
	svc   *Service
	repo  *mockRepo
	clock *clock.Fixed
	dir   *fakeDirectory
}

func newFixture(now time.Time) *fixture {
	repo := newMockRepo()
	clk := clock.NewFixed(now)
	dir := &fakeDirectory{}
	svc := NewService(repo, nopTx{}, DefaultHours(santiago), clk, dir, audit.Nop{}, zerolog.Nop())
	return &fixture{svc: svc, repo: repo, clock: clk, dir: dir}
}

func (f *fixture) schedule(staffID uuid.UUID, date time.Time, typ string) *Assignment {
	a := &Assignment{StaffID: staffID, Date: date, Type: typ}
	f.repo.Create(context.Background(), a)
	return a
}

func TestCurrentShiftFor_NightFromYesterday(t *testing.T) {
	f := newFixture(at(2026, 3, 11, 2, 0))
	nurse := uuid.New()
	night := f.schedule(nurse, day(2026, 3, 10), TypeNight)

	got, err := f.svc.CurrentShiftFor(context.Background(), nurse, f.clock.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != night.ID {
		t.Errorf("expected yesterday's night shift, got %+v", got)
	}
}

func TestCurrentShiftFor_NoneActive(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 10, 0))
	nurse := uuid.New()
	f.schedule(nurse, day(2026, 3, 10), TypeNight)

	got, err := f.svc.CurrentShiftFor(context.Background(), nurse, f.clock.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected no active shift, got %+v", got)
	}
}

func TestCurrentShiftFor_Ambiguous(t *testing.T) {
	f := newFixture(at(2026, 3, 11, 2, 0))
	doc := uuid.New()
	first := f.schedule(doc, day(2026, 3, 10), TypeNight)
	f.schedule(doc, day(2026, 3, 10), TypeDouble)

	got, err := f.svc.CurrentShiftFor(context.Background(), doc, f.clock.Now())
	if !errors.Is(err, apperr.ErrAmbiguousShift) {
		t.Fatalf("expected ErrAmbiguousShift, got %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Errorf("expected first active assignment alongside the error, got %+v", got)
	}
}

func TestOnDuty_OnlyMorningPhysician(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 10, 0))
	morningDoc, nightDoc, restDoc := uuid.New(), uuid.New(), uuid.New()
	f.schedule(morningDoc, day(2026, 3, 10), TypeMorning)
	f.schedule(nightDoc, day(2026, 3, 10), TypeNight)
	f.schedule(restDoc, day(2026, 3, 10), TypeRest)

	onDuty, ambiguous, err := f.svc.OnDuty(context.Background(), []uuid.UUID{morningDoc, nightDoc, restDoc}, f.clock.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(onDuty) != 1 || onDuty[0] != morningDoc {
		t.Errorf("expected only the morning physician, got %v", onDuty)
	}
	if len(ambiguous) != 0 {
		t.Errorf("expected no ambiguous staff, got %v", ambiguous)
	}
}

func TestOnDuty_AmbiguousIncluded(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 10, 0))
	doc := uuid.New()
	f.schedule(doc, day(2026, 3, 10), TypeMorning)
	f.schedule(doc, day(2026, 3, 10), TypeDouble)

	onDuty, ambiguous, err := f.svc.OnDuty(context.Background(), []uuid.UUID{doc}, f.clock.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(onDuty) != 1 || len(ambiguous) != 1 {
		t.Errorf("expected 1 on duty and 1 ambiguous, got %v / %v", onDuty, ambiguous)
	}
}

func TestStartVoluntary_NightBeforeMorning(t *testing.T) {
	f := newFixture(at(2026, 3, 11, 3, 0))
	tens := uuid.New()

	a, err := f.svc.StartVoluntary(context.Background(), tens)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Type != TypeNight || !a.Date.Equal(day(2026, 3, 10)) {
		t.Errorf("expected night of 2026-03-10, got %s %s", a.Type, a.Date.Format(time.DateOnly))
	}
	if !a.Voluntary || !a.ClockedIn || a.ClockInAt == nil {
		t.Errorf("expected voluntary clocked-in assignment, got %+v", a)
	}

	onDuty, err := f.svc.IsOnDuty(context.Background(), tens)
	if err != nil || !onDuty {
		t.Errorf("expected on duty after voluntary start, got %v (%v)", onDuty, err)
	}
}

func TestStartVoluntary_AlreadyOnDuty(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 10, 0))
	tens := uuid.New()
	f.schedule(tens, day(2026, 3, 10), TypeMorning)

	if _, err := f.svc.StartVoluntary(context.Background(), tens); !errors.Is(err, apperr.ErrAlreadyOnDuty) {
		t.Errorf("expected ErrAlreadyOnDuty, got %v", err)
	}
}

func TestClockInOut_LocksStaffBeforeReading(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 9, 0))
	doc, tens := uuid.New(), uuid.New()
	f.schedule(doc, day(2026, 3, 10), TypeMorning)
	ctx := context.Background()

	steps := []struct {
		name string
		run  func() error
	}{
		{"voluntary", func() error { _, err := f.svc.StartVoluntary(ctx, tens); return err }},
		{"scheduled", func() error { _, err := f.svc.StartScheduled(ctx, doc); return err }},
		{"end", func() error { _, err := f.svc.EndShift(ctx, doc); return err }},
	}
	for _, step := range steps {
		f.repo.calls = nil
		if err := step.run(); err != nil {
			t.Fatalf("%s: unexpected error: %v", step.name, err)
		}
		if len(f.repo.calls) < 2 || !strings.HasPrefix(f.repo.calls[0], "lock:") {
			t.Errorf("%s: expected the staff lock before any read, got %v", step.name, f.repo.calls)
		}
	}
}

func TestStartScheduledAndEnd(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 9, 0))
	doc := uuid.New()
	f.schedule(doc, day(2026, 3, 10), TypeMorning)
	ctx := context.Background()

	a, err := f.svc.StartScheduled(ctx, doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.ClockedIn {
		t.Error("expected clocked in")
	}
	if _, err := f.svc.StartScheduled(ctx, doc); !errors.Is(err, apperr.ErrAlreadyOnDuty) {
		t.Errorf("expected ErrAlreadyOnDuty on second start, got %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	ended, err := f.svc.EndShift(ctx, doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ended.ClockedIn || ended.ClockOutAt == nil {
		t.Errorf("expected clocked out, got %+v", ended)
	}
	onDuty, _ := f.svc.IsOnDuty(ctx, doc)
	if onDuty {
		t.Error("expected off duty after ending the shift")
	}
	if _, err := f.svc.EndShift(ctx, doc); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound with no open shift, got %v", err)
	}
}

func TestStartScheduled_NoneActive(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 9, 0))
	if _, err := f.svc.StartScheduled(context.Background(), uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMyShift(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 21, 0))
	doc := uuid.New()
	f.schedule(doc, day(2026, 3, 10), TypeNight)

	st, err := f.svc.MyShift(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.HasScheduled || !st.OnDuty || st.Current == nil {
		t.Errorf("expected scheduled on-duty status, got %+v", st)
	}
	if st.WindowEnd == nil || !st.WindowEnd.Equal(at(2026, 3, 11, 8, 0)) {
		t.Errorf("expected window end 08:00 next day, got %v", st.WindowEnd)
	}
}

func TestUpsert_ReplacesScheduled(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 9, 0))
	doc := uuid.New()
	ctx := context.Background()

	first := &Assignment{StaffID: doc, Date: day(2026, 3, 12), Type: TypeMorning}
	if err := f.svc.Upsert(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := &Assignment{StaffID: doc, Date: day(2026, 3, 12), Type: TypeNight}
	if err := f.svc.Upsert(ctx, second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Error("expected upsert to reuse the scheduled row")
	}
	if len(f.repo.assignments) != 1 {
		t.Errorf("expected 1 assignment, got %d", len(f.repo.assignments))
	}
}

func TestUpsert_Validation(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 9, 0))
	err := f.svc.Upsert(context.Background(), &Assignment{StaffID: uuid.New(), Date: day(2026, 3, 12), Type: "evening"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestBulkAssign(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 9, 0))
	req := BulkAssignRequest{
		StaffIDs: []uuid.UUID{uuid.New(), uuid.New()},
		Dates:    []string{"2026-03-12", "2026-03-13", "2026-03-14"},
		Type:     TypeMorning,
	}
	out, err := f.svc.BulkAssign(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 6 {
		t.Errorf("expected 6 assignments, got %d", len(out))
	}

	req.Dates = []string{"12/03/2026"}
	if _, err := f.svc.BulkAssign(context.Background(), req); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation for bad date, got %v", err)
	}
}

func TestOnDutyStaff_FiltersByRole(t *testing.T) {
	f := newFixture(at(2026, 3, 10, 10, 0))
	doc := &staff.Staff{ID: uuid.New(), Role: "physician", Active: true}
	tens := &staff.Staff{ID: uuid.New(), Role: "tens", Active: true}
	f.dir.members = []*staff.Staff{doc, tens}
	f.schedule(doc.ID, day(2026, 3, 10), TypeMorning)
	f.schedule(tens.ID, day(2026, 3, 10), TypeMorning)

	entries, err := f.svc.OnDutyStaff(context.Background(), "physician")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Staff.ID != doc.ID {
		t.Errorf("expected only the physician, got %+v", entries)
	}
}
