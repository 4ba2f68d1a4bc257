package staff

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *Staff) error
	GetByID(ctx context.Context, id uuid.UUID) (*Staff, error)
	Update(ctx context.Context, s *Staff) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Staff, int, error)
	// ListActiveByRoles returns every active member holding any of roles.
	ListActiveByRoles(ctx context.Context, roles []string) ([]*Staff, error)
}
