package staff

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/audit"
	"github.com/ehr/urgencias/internal/platform/auth"
)

type Service struct {
	repo  Repository
	audit audit.Sink
}

func NewService(repo Repository, sink audit.Sink) *Service {
	return &Service{repo: repo, audit: sink}
}

func (s *Service) CreateStaff(ctx context.Context, st *Staff) error {
	st.Username = strings.TrimSpace(st.Username)
	if st.Username == "" {
		return fmt.Errorf("username is required: %w", apperr.ErrValidation)
	}
	if strings.TrimSpace(st.FullName) == "" {
		return fmt.Errorf("full_name is required: %w", apperr.ErrValidation)
	}
	if !ValidRole(st.Role) {
		return fmt.Errorf("invalid role %q: %w", st.Role, apperr.ErrValidation)
	}
	st.Active = true
	if err := s.repo.Create(ctx, st); err != nil {
		return err
	}
	s.audit.Record(ctx, auth.ActorFromContext(ctx), "staff.create", "staff", st.ID,
		map[string]any{"username": st.Username, "role": st.Role})
	return nil
}

func (s *Service) GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateStaff(ctx context.Context, st *Staff) error {
	if !ValidRole(st.Role) {
		return fmt.Errorf("invalid role %q: %w", st.Role, apperr.ErrValidation)
	}
	if err := s.repo.Update(ctx, st); err != nil {
		return err
	}
	s.audit.Record(ctx, auth.ActorFromContext(ctx), "staff.update", "staff", st.ID,
		map[string]any{"role": st.Role, "active": st.Active})
	return nil
}

// DeactivateStaff removes the member from every recipient selector without
// deleting their history.
func (s *Service) DeactivateStaff(ctx context.Context, id uuid.UUID) error {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	st.Active = false
	if err := s.repo.Update(ctx, st); err != nil {
		return err
	}
	s.audit.Record(ctx, auth.ActorFromContext(ctx), "staff.deactivate", "staff", id, nil)
	return nil
}

func (s *Service) ListStaff(ctx context.Context, f Filter, limit, offset int) ([]*Staff, int, error) {
	if f.Role != "" && !ValidRole(f.Role) {
		return nil, 0, fmt.Errorf("invalid role %q: %w", f.Role, apperr.ErrValidation)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// ActiveByRoles returns active members of any of roles, each member once.
func (s *Service) ActiveByRoles(ctx context.Context, roles ...string) ([]*Staff, error) {
	seen := make(map[string]bool, len(roles))
	var uniq []string
	for _, r := range roles {
		if !seen[r] {
			seen[r] = true
			uniq = append(uniq, r)
		}
	}
	if len(uniq) == 0 {
		return nil, nil
	}
	return s.repo.ListActiveByRoles(ctx, uniq)
}
