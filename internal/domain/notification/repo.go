package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	List(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error)
	// MarkRead flags one of the recipient's notifications as read. read_at
	// keeps its first value.
	MarkRead(ctx context.Context, recipientID, id uuid.UUID, at time.Time) (*Notification, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID, at time.Time) (int, error)
	DeleteRead(ctx context.Context, recipientID uuid.UUID) (int, error)
	PurgeReadBefore(ctx context.Context, before time.Time) (int, error)
}

// DeviceRepository stores FCM registration tokens.
type DeviceRepository interface {
	Register(ctx context.Context, d *DeviceToken) error
	TokensForUser(ctx context.Context, userID string) ([]string, error)
	DeleteToken(ctx context.Context, token string) error
}
