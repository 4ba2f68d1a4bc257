package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/clock"
	"github.com/ehr/urgencias/internal/platform/metrics"
)

// Service is the recipient's view of their inbox.
type Service struct {
	repo    Repository
	devices DeviceRepository
	clock   clock.Clock
	metrics *metrics.Collector
}

func NewService(repo Repository, devices DeviceRepository, clk clock.Clock) *Service {
	return &Service{repo: repo, devices: devices, clock: clk}
}

// SetMetrics attaches an optional metrics collector.
func (s *Service) SetMetrics(m *metrics.Collector) { s.metrics = m }

func (s *Service) List(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.List(ctx, recipientID, unreadOnly, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, recipientID)
}

func (s *Service) MarkRead(ctx context.Context, recipientID, id uuid.UUID) (*Notification, error) {
	return s.repo.MarkRead(ctx, recipientID, id, s.clock.Now())
}

func (s *Service) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int, error) {
	return s.repo.MarkAllRead(ctx, recipientID, s.clock.Now())
}

func (s *Service) DeleteRead(ctx context.Context, recipientID uuid.UUID) (int, error) {
	return s.repo.DeleteRead(ctx, recipientID)
}

var validPlatforms = map[string]bool{"android": true, "ios": true, "web": true}

func (s *Service) RegisterDevice(ctx context.Context, staffID uuid.UUID, token, platform string) (*DeviceToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("token is required: %w", apperr.ErrValidation)
	}
	if platform == "" {
		platform = "android"
	}
	if !validPlatforms[platform] {
		return nil, fmt.Errorf("invalid platform %q: %w", platform, apperr.ErrValidation)
	}
	d := &DeviceToken{Token: token, StaffID: staffID, Platform: platform}
	if err := s.devices.Register(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) UnregisterDevice(ctx context.Context, token string) error {
	return s.devices.DeleteToken(ctx, token)
}

// PurgeRead deletes notifications read more than retention ago.
func (s *Service) PurgeRead(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive: %w", apperr.ErrValidation)
	}
	n, err := s.repo.PurgeReadBefore(ctx, s.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.NotificationsPurged.Add(float64(n))
	}
	return n, nil
}
