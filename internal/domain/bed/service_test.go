package bed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/audit"
	"github.com/ehr/urgencias/internal/platform/clock"
	"github.com/ehr/urgencias/internal/platform/metrics"
	"github.com/ehr/urgencias/internal/platform/websocket"
)

// -- Mock Repository --

type mockRepo struct {
	beds map[uuid.UUID]*Bed
}

func newMockRepo() *mockRepo {
	return &mockRepo{beds: make(map[uuid.UUID]*Bed)}
}

func (m *mockRepo) Create(_ context.Context, b *Bed) error {
	for _, existing := range m.beds {
		if existing.Code == b.Code {
			return fmt.Errorf("create bed: %w", apperr.ErrConflict)
		}
	}
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	cp := *b
	m.beds[b.ID] = &cp
	return nil
}

func (m *mockRepo) CreateIfMissing(ctx context.Context, b *Bed) (bool, error) {
	if err := m.Create(ctx, b); errors.Is(err, apperr.ErrConflict) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Bed, error) {
	b, ok := m.beds[id]
	if !ok {
		return nil, fmt.Errorf("bed %s: %w", id, apperr.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) GetByEncounter(_ context.Context, encounterID uuid.UUID) (*Bed, error) {
	for _, b := range m.beds {
		if b.EncounterID != nil && *b.EncounterID == encounterID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("bed for encounter: %w", apperr.ErrNotFound)
}

func (m *mockRepo) FindByEncounterForUpdate(ctx context.Context, encounterID uuid.UUID) (*Bed, error) {
	return m.GetByEncounter(ctx, encounterID)
}

func (m *mockRepo) SaveState(_ context.Context, b *Bed) error {
	if (b.State == StateOccupied) != (b.EncounterID != nil) {
		return fmt.Errorf("bed %s violates occupancy check", b.Code)
	}
	for id, other := range m.beds {
		if id != b.ID && b.EncounterID != nil && other.EncounterID != nil && *other.EncounterID == *b.EncounterID {
			return fmt.Errorf("encounter already holds a bed: %w", apperr.ErrBedUnavailable)
		}
	}
	cp := *b
	m.beds[b.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Bed, int, error) {
	var out []*Bed
	for _, b := range m.beds {
		if (f.Type == "" || b.Type == f.Type) && (f.State == "" || b.State == f.State) {
			out = append(out, b)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) CountByTypeState(_ context.Context) ([]Count, error) {
	idx := make(map[[2]string]int)
	for _, b := range m.beds {
		idx[[2]string{b.Type, b.State}]++
	}
	var out []Count
	for k, n := range idx {
		out = append(out, Count{Type: k[0], State: k[1], N: n})
	}
	return out, nil
}

// lockingTx serialises units of work the way row locks do.
type lockingTx struct {
	mu sync.Mutex
}

func (l *lockingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

type fakeGate struct {
	err error
}

func (g *fakeGate) EnsureAssignable(context.Context, uuid.UUID) error { return g.err }

type recordingBoard struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (r *recordingBoard) Broadcast(topic string, e websocket.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Topic = topic
	r.events = append(r.events, e)
}

func (r *recordingBoard) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc     *Service
	repo    *mockRepo
	gate    *fakeGate
	board   *recordingBoard
	metrics *metrics.Collector
}

func newFixture() *fixture {
	repo := newMockRepo()
	gate := &fakeGate{}
	board := &recordingBoard{}
	m := metrics.NewCollector("test")
	svc := NewService(repo, &lockingTx{}, gate, clock.NewFixed(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)), audit.Nop{}, zerolog.Nop())
	svc.SetBroadcaster(board)
	svc.SetMetrics(m)
	return &fixture{svc: svc, repo: repo, gate: gate, board: board, metrics: m}
}

func (f *fixture) bed(code, state string) *Bed {
	b := &Bed{Code: code, Type: TypeBox, State: state}
	f.repo.Create(context.Background(), b)
	return b
}

func TestAssign(t *testing.T) {
	f := newFixture()
	b := f.bed("B-01", StateAvailable)
	enc, nurse := uuid.New(), uuid.New()

	got, err := f.svc.Assign(context.Background(), b.ID, enc, nurse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != StateOccupied || got.EncounterID == nil || *got.EncounterID != enc {
		t.Errorf("expected occupied by %s, got %+v", enc, got)
	}
	if got.AssignedBy == nil || *got.AssignedBy != nurse || got.AssignedAt == nil {
		t.Error("expected assignment metadata")
	}
	if types := f.board.types(); len(types) != 1 || types[0] != "bed.assigned" {
		t.Errorf("expected one bed.assigned event, got %v", types)
	}
	if v := testutil.ToFloat64(f.metrics.BedOperations.WithLabelValues("assign", "ok")); v != 1 {
		t.Errorf("expected 1 ok assign, got %v", v)
	}
}

func TestAssign_DoubleAssignUnavailable(t *testing.T) {
	f := newFixture()
	b := f.bed("B-01", StateAvailable)
	ctx := context.Background()

	if _, err := f.svc.Assign(ctx, b.ID, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Assign(ctx, b.ID, uuid.New(), uuid.New()); !errors.Is(err, apperr.ErrBedUnavailable) {
		t.Errorf("expected ErrBedUnavailable, got %v", err)
	}
	if v := testutil.ToFloat64(f.metrics.BedOperations.WithLabelValues("assign", "unavailable")); v != 1 {
		t.Errorf("expected 1 unavailable assign, got %v", v)
	}
}

func TestAssign_ConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture()
	b := f.bed("B-01", StateAvailable)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Assign(context.Background(), b.ID, uuid.New(), uuid.New())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, apperr.ErrBedUnavailable) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one successful assign, got %d", ok)
	}
}

func TestAssign_SameEncounterIsNoop(t *testing.T) {
	f := newFixture()
	b := f.bed("B-01", StateAvailable)
	enc := uuid.New()
	ctx := context.Background()

	first, _ := f.svc.Assign(ctx, b.ID, enc, uuid.New())
	again, err := f.svc.Assign(ctx, b.ID, enc, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *again.AssignedBy != *first.AssignedBy {
		t.Error("expected the original assignment to be kept")
	}
	if n := len(f.board.types()); n != 1 {
		t.Errorf("expected no extra events, got %d total", n)
	}
}

func TestAssign_MovesEncounterFromPriorBed(t *testing.T) {
	f := newFixture()
	first := f.bed("B-01", StateAvailable)
	second := f.bed("B-02", StateAvailable)
	enc := uuid.New()
	ctx := context.Background()

	f.svc.Assign(ctx, first.ID, enc, uuid.New())
	if _, err := f.svc.Assign(ctx, second.ID, enc, uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prior, _ := f.repo.GetByID(ctx, first.ID)
	if prior.State != StateCleaning || prior.EncounterID != nil {
		t.Errorf("expected prior bed in cleaning with no encounter, got %+v", prior)
	}
	held, _ := f.svc.BedForEncounter(ctx, enc)
	if held.ID != second.ID {
		t.Errorf("expected encounter in B-02, got %s", held.Code)
	}
}

func TestAssign_GateRejects(t *testing.T) {
	f := newFixture()
	b := f.bed("B-01", StateAvailable)
	f.gate.err = fmt.Errorf("encounter discharged: %w", apperr.ErrInvalidTransition)

	if _, err := f.svc.Assign(context.Background(), b.ID, uuid.New(), uuid.New()); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), b.ID)
	if got.State != StateAvailable {
		t.Errorf("expected bed to stay available, got %s", got.State)
	}
}

func TestAssign_NotAvailableStates(t *testing.T) {
	for _, state := range []string{StateReserved, StateMaintenance, StateCleaning} {
		f := newFixture()
		b := f.bed("B-01", state)
		if _, err := f.svc.Assign(context.Background(), b.ID, uuid.New(), uuid.New()); !errors.Is(err, apperr.ErrBedUnavailable) {
			t.Errorf("%s: expected ErrBedUnavailable, got %v", state, err)
		}
	}
}

func TestRelease(t *testing.T) {
	f := newFixture()
	b := f.bed("B-01", StateAvailable)
	ctx := context.Background()

	if _, err := f.svc.Release(ctx, b.ID, uuid.New()); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition releasing an available bed, got %v", err)
	}

	f.svc.Assign(ctx, b.ID, uuid.New(), uuid.New())
	got, err := f.svc.Release(ctx, b.ID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != StateCleaning || got.EncounterID != nil || got.AssignedAt != nil {
		t.Errorf("expected cleaning with cleared references, got %+v", got)
	}
}

func TestMarkReady(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, state := range []string{StateCleaning, StateMaintenance} {
		b := f.bed("R-"+state, state)
		got, err := f.svc.MarkReady(ctx, b.ID, uuid.New())
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", state, err)
		}
		if got.State != StateAvailable {
			t.Errorf("expected available, got %s", got.State)
		}
	}

	reserved := f.bed("R-reserved", StateReserved)
	if _, err := f.svc.MarkReady(ctx, reserved.ID, uuid.New()); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestChangeState(t *testing.T) {
	f := newFixture()
	b := f.bed("B-01", StateAvailable)
	ctx := context.Background()

	if _, err := f.svc.ChangeState(ctx, b.ID, StateOccupied, nil, uuid.New()); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition without encounter, got %v", err)
	}
	if _, err := f.svc.ChangeState(ctx, b.ID, "broken", nil, uuid.New()); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown state, got %v", err)
	}

	enc := uuid.New()
	got, err := f.svc.ChangeState(ctx, b.ID, StateOccupied, &enc, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != StateOccupied || *got.EncounterID != enc {
		t.Errorf("expected occupied by encounter, got %+v", got)
	}

	got, err = f.svc.ChangeState(ctx, b.ID, StateMaintenance, nil, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.EncounterID != nil || got.AssignedBy != nil {
		t.Errorf("expected references cleared leaving occupied, got %+v", got)
	}
}

func TestReleaseForEncounter(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	none, err := f.svc.ReleaseForEncounter(ctx, uuid.New())
	if err != nil || none != nil {
		t.Errorf("expected nil bed and no error, got %+v / %v", none, err)
	}

	b := f.bed("B-01", StateAvailable)
	enc := uuid.New()
	f.svc.Assign(ctx, b.ID, enc, uuid.New())
	events := len(f.board.types())

	released, err := f.svc.ReleaseForEncounter(ctx, enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released == nil || released.State != StateCleaning {
		t.Errorf("expected released bed in cleaning, got %+v", released)
	}
	if len(f.board.types()) != events {
		t.Error("expected no broadcast before AnnounceRelease")
	}
	f.svc.AnnounceRelease(ctx, released, enc, uuid.New())
	if len(f.board.types()) != events+1 {
		t.Error("expected AnnounceRelease to broadcast")
	}
}

func TestStats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.bed(fmt.Sprintf("A-%d", i), StateAvailable)
	}
	b := f.bed("O-1", StateAvailable)
	f.svc.Assign(ctx, b.ID, uuid.New(), uuid.New())

	st, err := f.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Total != 4 {
		t.Errorf("expected 4 beds, got %d", st.Total)
	}
	if st.ByState[StateOccupied].Count != 1 || st.OccupancyRate != 25 {
		t.Errorf("expected 1 occupied at 25%%, got %+v / %v", st.ByState[StateOccupied], st.OccupancyRate)
	}
	if st.ByType[TypeBox].Percent != 100 {
		t.Errorf("expected 100%% boxes, got %v", st.ByType[TypeBox].Percent)
	}
	if st.ByState[StateMaintenance].Count != 0 {
		t.Error("expected zero-filled maintenance bucket")
	}
}

func TestStats_Empty(t *testing.T) {
	st := buildStats(nil)
	if st.Total != 0 || st.OccupancyRate != 0 {
		t.Errorf("expected empty stats, got %+v", st)
	}
}

func TestCreateBed_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cases := []*Bed{
		{Code: "", Type: TypeBox},
		{Code: "X-1", Type: "sofa"},
		{Code: "X-2", Type: TypeBox, State: StateOccupied},
	}
	for _, b := range cases {
		if err := f.svc.CreateBed(ctx, b); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("expected ErrValidation for %+v, got %v", b, err)
		}
	}
	ok := &Bed{Code: "X-3", Type: TypeStretcher}
	if err := f.svc.CreateBed(ctx, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok.State != StateAvailable {
		t.Errorf("expected available by default, got %s", ok.State)
	}
}

func TestSeedDefaults(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	n, err := f.svc.SeedDefaults(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 50 {
		t.Errorf("expected 50 beds, got %d", n)
	}
	again, _ := f.svc.SeedDefaults(ctx)
	if again != 0 {
		t.Errorf("expected reseeding to create nothing, got %d", again)
	}

	icu, _, _ := f.svc.ListBeds(ctx, Filter{Type: TypeICU}, 100, 0)
	if len(icu) != 10 {
		t.Errorf("expected 10 icu beds, got %d", len(icu))
	}
}

func TestDefaultLayout_Codes(t *testing.T) {
	layout := DefaultLayout()
	if layout[0].Code != "G-01" || layout[29].Code != "G-30" {
		t.Errorf("unexpected ward codes %s..%s", layout[0].Code, layout[29].Code)
	}
	if layout[30].Code != "UCI-01" || layout[49].Code != "ER-10" {
		t.Errorf("unexpected codes %s / %s", layout[30].Code, layout[49].Code)
	}
	if layout[9].Floor != "2" || layout[9].Room != "Sala 2" {
		t.Errorf("expected G-10 on floor 2 room Sala 2, got %s / %s", layout[9].Floor, layout[9].Room)
	}
}
