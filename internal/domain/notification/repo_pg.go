package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/urgencias/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const notificationCols = `id, recipient_id, type, title, message, encounter_id, priority, read, read_at, data, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var (
		n    Notification
		data []byte
	)
	err := row.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message, &n.EncounterID,
		&n.Priority, &n.Read, &n.ReadAt, &data, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode notification data: %w", err)
		}
	}
	return &n, nil
}

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("encode notification data: %w", err)
	}
	if n.Data == nil {
		data = []byte("{}")
	}
	err = conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notification (id, recipient_id, type, title, message, encounter_id, priority, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		n.ID, n.RecipientID, n.Type, n.Title, n.Message, n.EncounterID, n.Priority, data,
	).Scan(&n.CreatedAt)
	return db.MapError(err, "create notification")
}

func (r *repoPG) List(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := ` WHERE recipient_id = $1 AND (NOT $2 OR NOT read)`

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM notification`+where,
		recipientID, unreadOnly).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+notificationCols+` FROM notification`+where+`
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, recipientID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *repoPG) CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM notification WHERE recipient_id = $1 AND NOT read`, recipientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

func (r *repoPG) MarkRead(ctx context.Context, recipientID, id uuid.UUID, at time.Time) (*Notification, error) {
	n, err := scanNotification(conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE notification SET read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationCols, id, recipientID, at))
	if err != nil {
		return nil, db.MapError(err, "notification "+id.String())
	}
	return n, nil
}

func (r *repoPG) MarkAllRead(ctx context.Context, recipientID uuid.UUID, at time.Time) (int, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE notification SET read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND NOT read`, recipientID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) DeleteRead(ctx context.Context, recipientID uuid.UUID) (int, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM notification WHERE recipient_id = $1 AND read`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("delete read notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) PurgeReadBefore(ctx context.Context, before time.Time) (int, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM notification WHERE read AND read_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge read notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type deviceRepoPG struct {
	pool *pgxpool.Pool
}

// NewDeviceRepo returns the device token store; it also satisfies
// fcm.TokenStore.
func NewDeviceRepo(pool *pgxpool.Pool) DeviceRepository {
	return &deviceRepoPG{pool: pool}
}

func (r *deviceRepoPG) Register(ctx context.Context, d *DeviceToken) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO device_token (token, staff_id, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET staff_id = EXCLUDED.staff_id, platform = EXCLUDED.platform
		RETURNING created_at`,
		d.Token, d.StaffID, d.Platform,
	).Scan(&d.CreatedAt)
	return db.MapError(err, "register device token")
}

func (r *deviceRepoPG) TokensForUser(ctx context.Context, userID string) ([]string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("device tokens: invalid user id %q", userID)
	}
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT token FROM device_token WHERE staff_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	return out, rows.Err()
}

func (r *deviceRepoPG) DeleteToken(ctx context.Context, token string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM device_token WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	return nil
}
