// Package pubsub relays per-user pushes between server instances over Redis
// pub/sub, so a socket held by any instance receives alerts raised on
// another.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// DefaultChannel carries push envelopes.
const DefaultChannel = "urgencias:push"

// Deliverer hands a payload to sockets held by this instance.
type Deliverer interface {
	PushToUser(ctx context.Context, userID string, payload []byte) error
}

type envelope struct {
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

func encode(userID string, payload []byte) ([]byte, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("push payload for %s is not JSON", userID)
	}
	return json.Marshal(envelope{UserID: userID, Payload: payload})
}

func decode(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, err
	}
	if env.UserID == "" {
		return env, fmt.Errorf("envelope without user_id")
	}
	return env, nil
}

// Relay publishes pushes to Redis and, while Run is active, delivers every
// envelope on the channel to the local Deliverer. Publishing instances
// receive their own messages, so local delivery happens only through Run.
type Relay struct {
	client  *Client
	channel string
	local   Deliverer
	logger  zerolog.Logger
}

func NewRelay(client *Client, channel string, local Deliverer, logger zerolog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logger.With().Str("component", "push_relay").Logger(),
	}
}

// PushToUser publishes payload for userID to every instance.
func (r *Relay) PushToUser(ctx context.Context, userID string, payload []byte) error {
	data, err := encode(userID, payload)
	if err != nil {
		return err
	}
	if err := r.client.Client().Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish push: %w", err)
	}
	return nil
}

// Run subscribes to the channel and blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Client().Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("push relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(ctx context.Context, data []byte) {
	env, err := decode(data)
	if err != nil {
		r.logger.Warn().Err(err).Msg("dropping malformed push envelope")
		return
	}
	// A user without a socket on this instance is the common case.
	_ = r.local.PushToUser(ctx, env.UserID, env.Payload)
}
