// Package notification fans a rendered push payload out over every
// configured real-time transport.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/urgencias/internal/platform/metrics"
	"github.com/ehr/urgencias/internal/platform/websocket"
)

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// Transport delivers a payload to one user. Implementations: the websocket
// hub, the Redis relay and the FCM pusher.
type Transport interface {
	PushToUser(ctx context.Context, userID string, payload []byte) error
}

// Payload is the JSON document every transport carries.
type Payload struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Priority    string         `json:"priority"`
	EncounterID string         `json:"encounter_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// ---------------------------------------------------------------------------
// Fan-out
// ---------------------------------------------------------------------------

// Named labels a transport for logs and metrics.
type Named struct {
	Name      string
	Transport Transport
}

// Multi pushes through every transport. A push succeeds when at least one
// transport delivered it; a user without a live socket is not a failure.
type Multi struct {
	transports []Named
	metrics    *metrics.Collector
	logger     zerolog.Logger
}

func NewMulti(logger zerolog.Logger, m *metrics.Collector, transports ...Named) *Multi {
	return &Multi{
		transports: transports,
		metrics:    m,
		logger:     logger.With().Str("component", "push").Logger(),
	}
}

func (m *Multi) PushToUser(ctx context.Context, userID string, payload []byte) error {
	var errs []error
	delivered := 0
	for _, t := range m.transports {
		err := t.Transport.PushToUser(ctx, userID, payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, websocket.ErrNotConnected):
			m.logger.Debug().Str("transport", t.Name).Str("user_id", userID).Msg("user not connected")
		default:
			if m.metrics != nil {
				m.metrics.PushFailures.WithLabelValues(t.Name).Inc()
			}
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	if delivered == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
