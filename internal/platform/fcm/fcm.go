// Package fcm pushes alerts to registered mobile devices through Firebase
// Cloud Messaging.
package fcm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Sender is the subset of *messaging.Client used here.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// TokenStore resolves and prunes device tokens.
type TokenStore interface {
	TokensForUser(ctx context.Context, userID string) ([]string, error)
	DeleteToken(ctx context.Context, token string) error
}

// NewMessagingClient builds a messaging client from a service-account file.
func NewMessagingClient(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return client, nil
}

// pushBody is the part of the inbox push payload shown on a device.
type pushBody struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Priority    string `json:"priority"`
	EncounterID string `json:"encounter_id,omitempty"`
}

type Pusher struct {
	sender Sender
	tokens TokenStore
	logger zerolog.Logger
}

func NewPusher(sender Sender, tokens TokenStore, logger zerolog.Logger) *Pusher {
	return &Pusher{
		sender: sender,
		tokens: tokens,
		logger: logger.With().Str("component", "fcm").Logger(),
	}
}

// PushToUser sends payload to every device of userID. Tokens Firebase reports
// as unregistered are deleted. It fails only when no device accepted it.
func (p *Pusher) PushToUser(ctx context.Context, userID string, payload []byte) error {
	var body pushBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decode push payload: %w", err)
	}

	tokens, err := p.tokens.TokensForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	var errs []error
	sent := 0
	for _, token := range tokens {
		_, err := p.sender.Send(ctx, buildMessage(token, body))
		if err == nil {
			sent++
			continue
		}
		if messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) {
			if delErr := p.tokens.DeleteToken(ctx, token); delErr != nil {
				p.logger.Error().Err(delErr).Str("user_id", userID).Msg("failed to prune device token")
			}
			continue
		}
		errs = append(errs, err)
	}

	if sent == 0 && len(errs) > 0 {
		return fmt.Errorf("fcm push to %s: %w", userID, errors.Join(errs...))
	}
	return nil
}

func buildMessage(token string, body pushBody) *messaging.Message {
	priority := "normal"
	if body.Priority == "urgent" || body.Priority == "high" {
		priority = "high"
	}
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: body.Title,
			Body:  body.Message,
		},
		Data: map[string]string{
			"notification_id": body.ID,
			"type":            body.Type,
			"priority":        body.Priority,
			"encounter_id":    body.EncounterID,
		},
		Android: &messaging.AndroidConfig{Priority: priority},
	}
}
