package staff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/audit"
)

// -- Mock Repository --

type mockRepo struct {
	staff map[uuid.UUID]*Staff
}

func newMockRepo() *mockRepo {
	return &mockRepo{staff: make(map[uuid.UUID]*Staff)}
}

func (m *mockRepo) Create(_ context.Context, s *Staff) error {
	for _, existing := range m.staff {
		if existing.Username == s.Username {
			return fmt.Errorf("create staff: %w", apperr.ErrConflict)
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	m.staff[s.ID] = s
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Staff, error) {
	s, ok := m.staff[id]
	if !ok {
		return nil, fmt.Errorf("staff %s: %w", id, apperr.ErrNotFound)
	}
	return s, nil
}

func (m *mockRepo) Update(_ context.Context, s *Staff) error {
	if _, ok := m.staff[s.ID]; !ok {
		return fmt.Errorf("staff %s: %w", s.ID, apperr.ErrNotFound)
	}
	m.staff[s.ID] = s
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Staff, int, error) {
	var result []*Staff
	for _, s := range m.staff {
		if f.Role != "" && s.Role != f.Role {
			continue
		}
		if f.ActiveOnly && !s.Active {
			continue
		}
		result = append(result, s)
	}
	return result, len(result), nil
}

func (m *mockRepo) ListActiveByRoles(_ context.Context, roles []string) ([]*Staff, error) {
	var result []*Staff
	for _, s := range m.staff {
		if !s.Active {
			continue
		}
		for _, r := range roles {
			if s.Role == r {
				result = append(result, s)
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

func newTestService() *Service {
	return NewService(newMockRepo(), audit.Nop{})
}

func TestCreateStaff(t *testing.T) {
	svc := newTestService()
	st := &Staff{Username: " jperez ", FullName: "Juan Pérez", Role: "physician"}
	if err := svc.CreateStaff(context.Background(), st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if st.Username != "jperez" {
		t.Errorf("expected trimmed username, got %q", st.Username)
	}
	if !st.Active {
		t.Error("expected new staff to be active")
	}
}

func TestCreateStaff_Validation(t *testing.T) {
	svc := newTestService()
	cases := []*Staff{
		{FullName: "No Username", Role: "tens"},
		{Username: "nofull", Role: "tens"},
		{Username: "nurse", FullName: "Nurse", Role: "nurse"},
	}
	for _, st := range cases {
		if err := svc.CreateStaff(context.Background(), st); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("expected ErrValidation for %+v, got %v", st, err)
		}
	}
}

func TestCreateStaff_DuplicateUsername(t *testing.T) {
	svc := newTestService()
	svc.CreateStaff(context.Background(), &Staff{Username: "ana", FullName: "Ana", Role: "tens"})
	err := svc.CreateStaff(context.Background(), &Staff{Username: "ana", FullName: "Ana B", Role: "tens"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestDeactivateStaff(t *testing.T) {
	svc := newTestService()
	st := &Staff{Username: "doc", FullName: "Doc", Role: "physician"}
	svc.CreateStaff(context.Background(), st)

	if err := svc.DeactivateStaff(context.Background(), st.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	active, _ := svc.ActiveByRoles(context.Background(), "physician")
	if len(active) != 0 {
		t.Errorf("expected no active physicians, got %d", len(active))
	}
}

func TestDeactivateStaff_NotFound(t *testing.T) {
	svc := newTestService()
	if err := svc.DeactivateStaff(context.Background(), uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestActiveByRoles_Deduplicates(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	svc.CreateStaff(ctx, &Staff{Username: "a", FullName: "A", Role: "physician"})
	svc.CreateStaff(ctx, &Staff{Username: "b", FullName: "B", Role: "tens"})
	svc.CreateStaff(ctx, &Staff{Username: "c", FullName: "C", Role: "paramedic"})

	got, err := svc.ActiveByRoles(ctx, "physician", "tens", "physician")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 staff, got %d", len(got))
	}
	if got[0].Username != "a" || got[1].Username != "b" {
		t.Errorf("expected a,b got %s,%s", got[0].Username, got[1].Username)
	}
}

func TestListStaff_InvalidRole(t *testing.T) {
	svc := newTestService()
	if _, _, err := svc.ListStaff(context.Background(), Filter{Role: "janitor"}, 10, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
