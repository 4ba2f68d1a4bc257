package bed

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const bedCols = `id, code, type, state, floor, room, encounter_id, assigned_at, assigned_by, notes, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.Code, &b.Type, &b.State, &b.Floor, &b.Room,
		&b.EncounterID, &b.AssignedAt, &b.AssignedBy, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repoPG) Create(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bed (id, code, type, state, floor, room, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		b.ID, b.Code, b.Type, b.State, b.Floor, b.Room, b.Notes,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return db.MapError(err, "create bed "+b.Code)
}

func (r *repoPG) CreateIfMissing(ctx context.Context, b *Bed) (bool, error) {
	b.ID = uuid.New()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bed (id, code, type, state, floor, room, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO NOTHING`,
		b.ID, b.Code, b.Type, b.State, b.Floor, b.Room, b.Notes)
	if err != nil {
		return false, fmt.Errorf("seed bed %s: %w", b.Code, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) get(ctx context.Context, what, query string, args ...interface{}) (*Bed, error) {
	b, err := r.scan(r.conn(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		return nil, db.MapError(err, what)
	}
	return b, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return r.get(ctx, "bed "+id.String(), `SELECT `+bedCols+` FROM bed WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return r.get(ctx, "bed "+id.String(), `SELECT `+bedCols+` FROM bed WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) FindByEncounterForUpdate(ctx context.Context, encounterID uuid.UUID) (*Bed, error) {
	return r.get(ctx, "bed for encounter "+encounterID.String(),
		`SELECT `+bedCols+` FROM bed WHERE encounter_id = $1 FOR UPDATE`, encounterID)
}

func (r *repoPG) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Bed, error) {
	return r.get(ctx, "bed for encounter "+encounterID.String(),
		`SELECT `+bedCols+` FROM bed WHERE encounter_id = $1`, encounterID)
}

func (r *repoPG) SaveState(ctx context.Context, b *Bed) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE bed SET state = $2, encounter_id = $3, assigned_at = $4, assigned_by = $5,
			notes = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.State, b.EncounterID, b.AssignedAt, b.AssignedBy, b.Notes,
	).Scan(&b.UpdatedAt)
	if db.IsUniqueViolation(err, "bed_encounter_id_key") {
		return fmt.Errorf("encounter already holds a bed: %w", apperr.ErrBedUnavailable)
	}
	return db.MapError(err, "save bed "+b.Code)
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Bed, int, error) {
	where := ` WHERE ($1 = '' OR type = $1) AND ($2 = '' OR state = $2)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bed`+where, f.Type, f.State).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count beds: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+bedCols+` FROM bed`+where+`
		ORDER BY type, code LIMIT $3 OFFSET $4`, f.Type, f.State, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list beds: %w", err)
	}
	defer rows.Close()

	var out []*Bed
	for rows.Next() {
		b, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

func (r *repoPG) CountByTypeState(ctx context.Context) ([]Count, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT type, state, COUNT(*) FROM bed GROUP BY type, state`)
	if err != nil {
		return nil, fmt.Errorf("count beds by type and state: %w", err)
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Type, &c.State, &c.N); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
