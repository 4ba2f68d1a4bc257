package encounter

import (
	"context"
	"fmt"

	"github.com/ehr/urgencias/internal/domain/notification"
	"github.com/ehr/urgencias/internal/platform/auth"
)

// AlertOverdueWaits alerts on-duty physicians about every arrived, triaged
// encounter still without a diagnosis after its maximum wait. Each encounter
// is alerted at most once. It returns how many alerts went out.
func (s *Service) AlertOverdueWaits(ctx context.Context) (int, error) {
	candidates, err := s.repo.ListWaitCandidates(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	sent := 0
	for _, c := range candidates {
		e := c.Encounter
		if e.ArrivedAt == nil {
			continue
		}
		waited := now.Sub(*e.ArrivedAt)
		if waited < MaxWait(c.Severity) {
			continue
		}
		claimed, err := s.repo.MarkWaitAlerted(ctx, e.ID, now)
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}

		priority := notification.PriorityHigh
		if c.Severity <= 2 {
			priority = notification.PriorityUrgent
		}
		if s.notifier != nil {
			if _, err := s.notifier.Notify(ctx, notification.OnDutyByRole(auth.RolePhysician), notification.Alert{
				Type:        notification.TypeWaitExceeded,
				Title:       "Maximum wait exceeded",
				Message:     fmt.Sprintf("ESI %d patient waiting %d minutes (maximum %s).", c.Severity, int(waited.Minutes()), MaxWaitLabel(c.Severity)),
				EncounterID: encounterRef(e),
				Priority:    priority,
				Data: map[string]any{
					"severity":       c.Severity,
					"waited_minutes": int(waited.Minutes()),
					"max_wait":       MaxWaitLabel(c.Severity),
				},
			}); err != nil {
				s.logger.Error().Err(err).Str("encounter_id", e.ID.String()).Msg("wait alert delivery failed")
			}
		}
		if s.metrics != nil {
			s.metrics.WaitAlertsTotal.Inc()
		}
		sent++
	}
	return sent, nil
}
