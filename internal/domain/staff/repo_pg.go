package staff

import (
	"context"
	"fmt"

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

const staffCols = `id, username, full_name, role, active, phone, specialty, registry_number, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Staff, error) {
	var s Staff
	err := row.Scan(&s.ID, &s.Username, &s.FullName, &s.Role, &s.Active,
		&s.Phone, &s.Specialty, &s.RegistryNumber, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) Create(ctx context.Context, s *Staff) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO staff (id, username, full_name, role, active, phone, specialty, registry_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		s.ID, s.Username, s.FullName, s.Role, s.Active, s.Phone, s.Specialty, s.RegistryNumber,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return db.MapError(err, "create staff")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	s, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+staffCols+` FROM staff WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "staff "+id.String())
	}
	return s, nil
}

func (r *repoPG) Update(ctx context.Context, s *Staff) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE staff SET full_name = $2, role = $3, active = $4, phone = $5,
			specialty = $6, registry_number = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.FullName, s.Role, s.Active, s.Phone, s.Specialty, s.RegistryNumber,
	).Scan(&s.UpdatedAt)
	return db.MapError(err, "update staff "+s.ID.String())
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Staff, int, error) {
	where := ` WHERE ($1 = '' OR role = $1) AND (NOT $2 OR active)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM staff`+where, f.Role, f.ActiveOnly).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count staff: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+staffCols+` FROM staff`+where+`
		ORDER BY full_name LIMIT $3 OFFSET $4`, f.Role, f.ActiveOnly, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	var out []*Staff
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ListActiveByRoles(ctx context.Context, roles []string) ([]*Staff, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+staffCols+` FROM staff
		WHERE active AND role = ANY($1) ORDER BY id`, roles)
	if err != nil {
		return nil, fmt.Errorf("list staff by roles: %w", err)
	}
	defer rows.Close()

	var out []*Staff
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
