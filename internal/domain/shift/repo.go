package shift

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Assignment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Assignment, error)
	Update(ctx context.Context, a *Assignment) error
	// Upsert inserts a scheduled assignment or replaces the type and notes
	// of the one already scheduled for the same staff and date.
	Upsert(ctx context.Context, a *Assignment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Assignment, int, error)
	// ListOnDates returns assignments dated on any of dates, restricted to
	// staffIDs when non-empty, oldest first.
	ListOnDates(ctx context.Context, staffIDs []uuid.UUID, dates []time.Time) ([]*Assignment, error)
	// LockStaff serialises clock-in and clock-out for one staff member
	// until the surrounding transaction ends.
	LockStaff(ctx context.Context, staffID uuid.UUID) error
}
