package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/urgencias/internal/domain/staff"
	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/clock"
	"github.com/ehr/urgencias/internal/platform/metrics"
	push "github.com/ehr/urgencias/internal/platform/notification"
)

// Directory lists active staff by role.
type Directory interface {
	ActiveByRoles(ctx context.Context, roles ...string) ([]*staff.Staff, error)
}

// Roster answers which staff are on an active shift at a given instant.
// Staff with overlapping active shifts are included in onDuty and also
// listed in ambiguous.
type Roster interface {
	OnDuty(ctx context.Context, staffIDs []uuid.UUID, at time.Time) (onDuty, ambiguous []uuid.UUID, err error)
}

// Dispatcher resolves a Selector to recipients, writes one inbox row each
// and pushes them best-effort. Callers invoke Notify after their own
// transaction has committed.
type Dispatcher struct {
	repo        Repository
	staff       Directory
	roster      Roster
	transport   push.Transport
	clock       clock.Clock
	pushTimeout time.Duration
	metrics     *metrics.Collector
	logger      zerolog.Logger
}

func NewDispatcher(repo Repository, dir Directory, roster Roster, transport push.Transport, clk clock.Clock, pushTimeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if pushTimeout <= 0 {
		pushTimeout = 5 * time.Second
	}
	return &Dispatcher{
		repo:        repo,
		staff:       dir,
		roster:      roster,
		transport:   transport,
		clock:       clk,
		pushTimeout: pushTimeout,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// SetMetrics attaches an optional metrics collector.
func (d *Dispatcher) SetMetrics(m *metrics.Collector) { d.metrics = m }

// Resolve returns the recipients sel selects right now.
func (d *Dispatcher) Resolve(ctx context.Context, sel Selector) ([]uuid.UUID, error) {
	switch sel.kind {
	case kindStaff:
		return sel.staff, nil
	case kindByRoles, kindOnDutyByRoles:
	default:
		return nil, nil
	}

	members, err := d.staff.ActiveByRoles(ctx, sel.roles...)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", sel, err)
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	ids = dedupe(ids)
	if sel.kind == kindByRoles || len(ids) == 0 {
		return ids, nil
	}

	onDuty, ambiguous, err := d.roster.OnDuty(ctx, ids, d.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", sel, err)
	}
	for _, id := range ambiguous {
		d.logger.Warn().
			Err(apperr.ErrAmbiguousShift).
			Str("staff_id", id.String()).
			Msg("overlapping active shifts, treating as on duty")
	}
	return onDuty, nil
}

func validateAlert(a Alert) error {
	if a.Type == "" || a.Title == "" {
		return fmt.Errorf("alert type and title are required: %w", apperr.ErrValidation)
	}
	if !validPriorities[a.Priority] {
		return fmt.Errorf("invalid priority %q: %w", a.Priority, apperr.ErrValidation)
	}
	return nil
}

// Notify persists alert for every recipient of sel, then pushes each row.
// Rows that fail to persist are logged and skipped; the first such error is
// returned after the rest have been written. Push failures never surface.
func (d *Dispatcher) Notify(ctx context.Context, sel Selector, alert Alert) ([]*Notification, error) {
	if err := validateAlert(alert); err != nil {
		return nil, err
	}
	recipients, err := d.Resolve(ctx, sel)
	if err != nil {
		return nil, err
	}

	var (
		created []*Notification
		errs    []error
	)
	for _, id := range recipients {
		n := &Notification{
			RecipientID: id,
			Type:        alert.Type,
			Title:       alert.Title,
			Message:     alert.Message,
			EncounterID: alert.EncounterID,
			Priority:    alert.Priority,
			Data:        alert.Data,
		}
		if err := d.repo.Create(ctx, n); err != nil {
			d.logger.Error().Err(err).
				Str("recipient_id", id.String()).
				Str("type", alert.Type).
				Msg("failed to persist notification")
			errs = append(errs, err)
			continue
		}
		created = append(created, n)
		if d.metrics != nil {
			d.metrics.NotificationsCreated.WithLabelValues(alert.Type, alert.Priority).Inc()
		}
	}

	d.pushAll(ctx, created)
	d.logger.Debug().
		Str("selector", sel.String()).
		Str("type", alert.Type).
		Int("recipients", len(recipients)).
		Int("created", len(created)).
		Msg("alert dispatched")

	if len(errs) > 0 {
		return created, errors.Join(errs...)
	}
	return created, nil
}

func (d *Dispatcher) pushAll(ctx context.Context, list []*Notification) {
	if d.transport == nil || len(list) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, n := range list {
		wg.Add(1)
		go func(n *Notification) {
			defer wg.Done()
			d.push(ctx, n)
		}(n)
	}
	wg.Wait()
}

func (d *Dispatcher) push(ctx context.Context, n *Notification) {
	p := push.Payload{
		ID:        n.ID.String(),
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Priority:  n.Priority,
		Data:      n.Data,
		CreatedAt: n.CreatedAt,
	}
	if n.EncounterID != nil {
		p.EncounterID = n.EncounterID.String()
	}
	payload, err := p.Encode()
	if err != nil {
		d.logger.Error().Err(err).Str("notification_id", p.ID).Msg("encode push payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.pushTimeout)
	defer cancel()
	if err := d.transport.PushToUser(ctx, n.RecipientID.String(), payload); err != nil {
		d.logger.Error().Err(err).
			Str("notification_id", p.ID).
			Str("recipient_id", n.RecipientID.String()).
			Msg("push delivery failed")
	}
}
