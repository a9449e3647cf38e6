package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"wabridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inbound(id string) *models.Message {
	return &models.Message{ID: id, From: "15551234567", Type: models.MessageTypeText, Text: "hi", Status: models.StatusPending}
}

func TestAutoReplier_RepliesWhileClosed(t *testing.T) {
	sender := &recordingSender{}
	state := &stubState{state: models.State{Closed: true}}
	replier := NewAutoReplier(sender, state, "We are closed", time.Second, quietLogger())

	assert.True(t, replier.Handle(context.Background(), inbound("wamid.1"), true))
	replier.Wait()

	reqs := sender.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, SendRequest{To: "15551234567", Text: "We are closed"}, reqs[0])
}

func TestAutoReplier_Skips(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		state   *stubState
		msg     *models.Message
		created bool
	}{
		{"open", "away", &stubState{}, inbound("a"), true},
		{"duplicate", "away", &stubState{state: models.State{Closed: true}}, inbound("a"), false},
		{"no text configured", "", &stubState{state: models.State{Closed: true}}, inbound("a"), true},
		{"no sender", "away", &stubState{state: models.State{Closed: true}}, &models.Message{ID: "a", Type: models.MessageTypeText}, true},
		{"reaction", "away", &stubState{state: models.State{Closed: true}}, &models.Message{ID: "a", From: "1", Type: models.MessageTypeReaction}, true},
		{"state error", "away", &stubState{err: errors.New("down")}, inbound("a"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{}
			replier := NewAutoReplier(sender, tt.state, tt.text, time.Second, quietLogger())
			assert.False(t, replier.Handle(context.Background(), tt.msg, tt.created))
			replier.Wait()
			assert.Empty(t, sender.requests())
		})
	}
}

func TestAutoReplier_OutlivesRequestContext(t *testing.T) {
	sender := &recordingSender{delay: 20 * time.Millisecond}
	state := &stubState{state: models.State{Closed: true}}
	replier := NewAutoReplier(sender, state, "away", time.Second, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, replier.Handle(ctx, inbound("wamid.2"), true))
	cancel()
	replier.Wait()

	assert.Len(t, sender.requests(), 1)
}

func TestAutoReplier_SendFailureIsLogged(t *testing.T) {
	sender := &recordingSender{err: errors.New("rejected")}
	state := &stubState{state: models.State{Closed: true}}
	replier := NewAutoReplier(sender, state, "away", time.Second, quietLogger())

	assert.True(t, replier.Handle(context.Background(), inbound("wamid.3"), true))
	replier.Wait()
	assert.Len(t, sender.requests(), 1)
}

func TestAutoReplier_NilIsDisabled(t *testing.T) {
	var replier *AutoReplier
	assert.False(t, replier.Enabled())
	replier.Wait()
}
