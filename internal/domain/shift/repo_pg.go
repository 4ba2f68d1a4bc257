package shift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const assignmentCols = `id, staff_id, shift_date, shift_type, clocked_in, clock_in_at, clock_out_at,
	voluntary, notes, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.StaffID, &a.Date, &a.Type, &a.ClockedIn, &a.ClockInAt, &a.ClockOutAt,
		&a.Voluntary, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) collect(rows pgx.Rows) ([]*Assignment, error) {
	defer rows.Close()
	var out []*Assignment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, a *Assignment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO shift_assignment (id, staff_id, shift_date, shift_type, clocked_in, clock_in_at,
			clock_out_at, voluntary, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		a.ID, a.StaffID, a.Date, a.Type, a.ClockedIn, a.ClockInAt, a.ClockOutAt, a.Voluntary, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return db.MapError(err, "create shift assignment")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	a, err := r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM shift_assignment WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "shift assignment "+id.String())
	}
	return a, nil
}

func (r *repoPG) Update(ctx context.Context, a *Assignment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE shift_assignment SET shift_type = $2, clocked_in = $3, clock_in_at = $4,
			clock_out_at = $5, notes = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Type, a.ClockedIn, a.ClockInAt, a.ClockOutAt, a.Notes,
	).Scan(&a.UpdatedAt)
	return db.MapError(err, "update shift assignment "+a.ID.String())
}

func (r *repoPG) Upsert(ctx context.Context, a *Assignment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO shift_assignment (id, staff_id, shift_date, shift_type, notes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (staff_id, shift_date) WHERE NOT voluntary
		DO UPDATE SET shift_type = EXCLUDED.shift_type, notes = EXCLUDED.notes, updated_at = NOW()
		RETURNING `+assignmentCols,
		uuid.New(), a.StaffID, a.Date, a.Type, a.Notes,
	).Scan(&a.ID, &a.StaffID, &a.Date, &a.Type, &a.ClockedIn, &a.ClockInAt, &a.ClockOutAt,
		&a.Voluntary, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	return db.MapError(err, "upsert shift assignment")
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM shift_assignment WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete shift assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows, "shift assignment "+id.String())
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Assignment, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR staff_id = $1)
		AND ($2::date IS NULL OR shift_date >= $2)
		AND ($3::date IS NULL OR shift_date <= $3)`
	args := []interface{}{f.StaffID, f.From, f.To}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM shift_assignment`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count shift assignments: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+assignmentCols+` FROM shift_assignment`+where+`
		ORDER BY shift_date DESC, created_at DESC LIMIT $4 OFFSET $5`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list shift assignments: %w", err)
	}
	out, err := r.collect(rows)
	return out, total, err
}

func (r *repoPG) ListOnDates(ctx context.Context, staffIDs []uuid.UUID, dates []time.Time) ([]*Assignment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+assignmentCols+` FROM shift_assignment
		WHERE shift_date = ANY($1::date[])
		  AND ($2::uuid[] IS NULL OR cardinality($2::uuid[]) = 0 OR staff_id = ANY($2::uuid[]))
		ORDER BY shift_date, created_at`, dates, staffIDs)
	if err != nil {
		return nil, fmt.Errorf("list shift assignments on dates: %w", err)
	}
	return r.collect(rows)
}

var errNoTx = errors.New("staff shift lock requires a transaction")

func (r *repoPG) LockStaff(ctx context.Context, staffID uuid.UUID) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return errNoTx
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('shift:' || $1::text))`, staffID); err != nil {
		return fmt.Errorf("lock shifts of staff %s: %w", staffID, err)
	}
	return nil
}
