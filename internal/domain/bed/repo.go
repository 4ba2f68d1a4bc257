package bed

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, b *Bed) error
	// CreateIfMissing inserts b unless a bed with the same code exists.
	CreateIfMissing(ctx context.Context, b *Bed) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Bed, error)
	// GetForUpdate locks the bed row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error)
	// FindByEncounterForUpdate locks and returns the bed occupied by
	// encounterID, or ErrNotFound.
	FindByEncounterForUpdate(ctx context.Context, encounterID uuid.UUID) (*Bed, error)
	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Bed, error)
	// SaveState persists state, occupancy references and notes.
	SaveState(ctx context.Context, b *Bed) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Bed, int, error)
	CountByTypeState(ctx context.Context) ([]Count, error)
}
