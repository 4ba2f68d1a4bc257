package fcm

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []*messaging.Message
	fail map[string]error
}

func (f *fakeSender) Send(_ context.Context, msg *messaging.Message) (string, error) {
	if err, ok := f.fail[msg.Token]; ok {
		return "", err
	}
	f.sent = append(f.sent, msg)
	return "projects/x/messages/1", nil
}

type fakeTokens struct {
	byUser  map[string][]string
	deleted []string
	err     error
}

func (f *fakeTokens) TokensForUser(_ context.Context, userID string) ([]string, error) {
	return f.byUser[userID], f.err
}

func (f *fakeTokens) DeleteToken(_ context.Context, token string) error {
	f.deleted = append(f.deleted, token)
	return nil
}

const payload = `{"id":"n-1","type":"icu_admission","title":"Ingreso UCI","message":"Paciente a UCI","priority":"urgent","encounter_id":"e-1"}`

func TestPushToUser_SendsToEveryDevice(t *testing.T) {
	sender := &fakeSender{}
	tokens := &fakeTokens{byUser: map[string][]string{"staff-1": {"tok-a", "tok-b"}}}
	p := NewPusher(sender, tokens, zerolog.Nop())

	require.NoError(t, p.PushToUser(context.Background(), "staff-1", []byte(payload)))

	require.Len(t, sender.sent, 2)
	msg := sender.sent[0]
	assert.Equal(t, "tok-a", msg.Token)
	assert.Equal(t, "Ingreso UCI", msg.Notification.Title)
	assert.Equal(t, "Paciente a UCI", msg.Notification.Body)
	assert.Equal(t, "e-1", msg.Data["encounter_id"])
	assert.Equal(t, "high", msg.Android.Priority)
}

func TestPushToUser_NoDevices(t *testing.T) {
	sender := &fakeSender{}
	p := NewPusher(sender, &fakeTokens{}, zerolog.Nop())

	assert.NoError(t, p.PushToUser(context.Background(), "staff-1", []byte(payload)))
	assert.Empty(t, sender.sent)
}

func TestPushToUser_PartialFailureSucceeds(t *testing.T) {
	sender := &fakeSender{fail: map[string]error{"tok-a": errors.New("unavailable")}}
	tokens := &fakeTokens{byUser: map[string][]string{"staff-1": {"tok-a", "tok-b"}}}
	p := NewPusher(sender, tokens, zerolog.Nop())

	assert.NoError(t, p.PushToUser(context.Background(), "staff-1", []byte(payload)))
	assert.Len(t, sender.sent, 1)
}

func TestPushToUser_AllFail(t *testing.T) {
	sender := &fakeSender{fail: map[string]error{"tok-a": errors.New("unavailable")}}
	tokens := &fakeTokens{byUser: map[string][]string{"staff-1": {"tok-a"}}}
	p := NewPusher(sender, tokens, zerolog.Nop())

	assert.Error(t, p.PushToUser(context.Background(), "staff-1", []byte(payload)))
}

func TestPushToUser_TokenLookupError(t *testing.T) {
	p := NewPusher(&fakeSender{}, &fakeTokens{err: errors.New("db down")}, zerolog.Nop())
	assert.Error(t, p.PushToUser(context.Background(), "staff-1", []byte(payload)))
}

func TestPushToUser_BadPayload(t *testing.T) {
	p := NewPusher(&fakeSender{}, &fakeTokens{}, zerolog.Nop())
	assert.Error(t, p.PushToUser(context.Background(), "staff-1", []byte("nope")))
}

func TestBuildMessage_NormalPriority(t *testing.T) {
	msg := buildMessage("tok", pushBody{Title: "Turno", Message: "Inicio de turno", Priority: "low"})
	assert.Equal(t, "normal", msg.Android.Priority)
	assert.Equal(t, "tok", msg.Token)
}
