package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"wabridge/internal/metrics"
	"wabridge/internal/models"
	"wabridge/internal/privacy"

	"github.com/sirupsen/logrus"
)

// StateReader is the part of the store the auto-replier needs.
type StateReader interface {
	GetState(ctx context.Context) (models.State, error)
}

// MessageSender sends one outbound message.
type MessageSender interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// AutoReplier answers first-seen inbound messages with a fixed away text
// while the process-wide closed flag is set.
type AutoReplier struct {
	sender  MessageSender
	state   StateReader
	text    string
	timeout time.Duration
	logger  *logrus.Logger
	wg      sync.WaitGroup
}

func NewAutoReplier(sender MessageSender, state StateReader, text string, timeout time.Duration, logger *logrus.Logger) *AutoReplier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AutoReplier{
		sender:  sender,
		state:   state,
		text:    strings.TrimSpace(text),
		timeout: timeout,
		logger:  logger,
	}
}

// Enabled reports whether an away text is configured.
func (a *AutoReplier) Enabled() bool {
	return a != nil && a.text != ""
}

// Handle schedules a reply for msg when created is true and the closed flag
// is set. It returns whether a reply was scheduled; the send itself runs in
// the background.
func (a *AutoReplier) Handle(ctx context.Context, msg *models.Message, created bool) bool {
	if !a.Enabled() || !created || msg == nil || msg.From == "" {
		return false
	}
	if msg.Type == models.MessageTypeReaction || msg.Type == models.MessageTypeUnknown {
		return false
	}

	state, err := a.state.GetState(ctx)
	if err != nil {
		LogWithContext(ctx, a.logger).WithError(err).Warn("Skipping auto-reply: state unavailable")
		return false
	}
	if !state.Closed {
		return false
	}

	logger := LogWithContext(ctx, a.logger).WithFields(logrus.Fields{
		LogFieldComponent: "auto_reply",
		LogFieldTo:        privacy.MaskPhoneNumber(msg.From),
		LogFieldMessageID: privacy.MaskMessageID(msg.ID),
	})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		// The webhook request is finished by the time this runs.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		result, err := a.sender.Send(sendCtx, SendRequest{To: msg.From, Text: a.text})
		if err != nil {
			metrics.IncrementCounter("auto_replies_total", map[string]string{"outcome": "error"}, "Away replies sent while closed")
			logger.WithError(err).Error("Failed to send auto-reply")
			return
		}
		metrics.IncrementCounter("auto_replies_total", map[string]string{"outcome": "ok"}, "Away replies sent while closed")
		logger.WithField(LogFieldMode, result.Mode).Info("Auto-reply sent")
	}()
	return true
}

// Wait blocks until every scheduled reply has finished.
func (a *AutoReplier) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
