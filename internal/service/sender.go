package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"wabridge/internal/constants"
	apperrors "wabridge/internal/errors"
	"wabridge/internal/metrics"
	"wabridge/internal/models"
	"wabridge/internal/privacy"
	"wabridge/internal/tracing"
	"wabridge/pkg/circuitbreaker"
	"wabridge/pkg/graph"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Send modes reported in SendResult.Mode.
const (
	ModeText     = "text"
	ModeTemplate = "template"
)

// SendRequest is one outbound message.
type SendRequest struct {
	To       string `json:"to" validate:"required,phone"`
	Text     string `json:"text" validate:"required,max=4096"`
	Language string `json:"language,omitempty" validate:"omitempty,language"`
}

// SendResult describes the attempt that succeeded.
type SendResult struct {
	Mode      string          `json:"mode"`
	Language  string          `json:"language,omitempty"`
	Template  string          `json:"template,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	// PreviousError is the free-form text rejection that led to the template path.
	PreviousError interface{} `json:"previous_error,omitempty"`
}

// Sender delivers a message with the text, template, fallback-language chain.
// Attempts are strictly sequential and each runs only after the previous one
// was rejected by the provider.
type Sender struct {
	client graph.Client
	creds  *CredentialResolver
	cfg    models.WhatsAppConfig
	logger *logrus.Logger
}

func NewSender(client graph.Client, creds *CredentialResolver, cfg models.WhatsAppConfig, logger *logrus.Logger) *Sender {
	return &Sender{client: client, creds: creds, cfg: cfg, logger: logger}
}

// ResolveLanguage returns the template language for a requested value.
func (s *Sender) ResolveLanguage(requested string) string {
	lang := strings.TrimSpace(requested)
	if lang == "" || strings.EqualFold(lang, constants.AutoLanguage) {
		lang = s.cfg.DefaultTemplateLanguage
	}
	if lang == "" {
		lang = constants.DefaultTemplateLanguage
	}
	return lang
}

func (s *Sender) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	to := strings.TrimSpace(req.To)
	// Whitespace only counts for the emptiness check; the body is sent as given.
	text := req.Text
	if to == "" {
		return nil, apperrors.NewValidationError("to", "recipient is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("text", "text is required")
	}

	ctx, span := tracing.StartSpan(ctx, "send_pipeline.send")
	defer span.End()

	logger := LogWithContext(ctx, s.logger).WithFields(logrus.Fields{
		LogFieldTo:        privacy.MaskPhoneNumber(to),
		LogFieldDirection: "outgoing",
	})

	creds, err := s.creds.Resolve(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to send message: credentials missing")
		tracing.RecordError(ctx, err)
		return nil, err
	}

	start := time.Now()
	resp, textErr := s.client.SendText(ctx, creds.Credentials, to, text)
	s.observe(ModeText, "", textErr)
	if textErr == nil {
		logger.WithField(LogFieldMode, ModeText).Info("Message sent")
		return s.finish(ctx, start, &SendResult{Mode: ModeText, MessageID: resp.MessageID(), Data: resp.Raw}), nil
	}
	if !canFallBack(textErr) {
		logger.WithError(textErr).Error("Failed to send text message")
		tracing.RecordError(ctx, textErr)
		return nil, textErr
	}

	previous := errorDetail(textErr)
	lang := s.ResolveLanguage(req.Language)
	logger.WithFields(logrus.Fields{
		LogFieldLanguage:  lang,
		LogFieldErrorCode: apperrors.GetCode(textErr),
	}).Warn("Falling back to template")

	result, tplErr := s.sendTemplate(ctx, creds.Credentials, to, text, lang)
	if tplErr == nil {
		result.PreviousError = previous
		logger.WithFields(logrus.Fields{LogFieldMode: ModeTemplate, LogFieldLanguage: lang}).Info("Message sent")
		return s.finish(ctx, start, result), nil
	}
	if !canFallBack(tplErr) || lang == constants.FallbackTemplateLanguage {
		logger.WithError(tplErr).WithField(LogFieldLanguage, lang).Error("Failed to send template message")
		tracing.RecordError(ctx, tplErr)
		return nil, withChain(tplErr, previous, nil)
	}

	templateErr := errorDetail(tplErr)
	logger.WithFields(logrus.Fields{
		LogFieldLanguage: constants.FallbackTemplateLanguage,
		"from_language":  lang,
	}).Warn("Falling back to template language")

	result, finalErr := s.sendTemplate(ctx, creds.Credentials, to, text, constants.FallbackTemplateLanguage)
	if finalErr == nil {
		result.PreviousError = previous
		logger.WithFields(logrus.Fields{LogFieldMode: ModeTemplate, LogFieldLanguage: constants.FallbackTemplateLanguage}).Info("Message sent")
		return s.finish(ctx, start, result), nil
	}

	logger.WithError(finalErr).Error("Failed to send message after all fallbacks")
	tracing.RecordError(ctx, finalErr)
	return nil, withChain(finalErr, previous, templateErr)
}

func (s *Sender) sendTemplate(ctx context.Context, creds graph.Credentials, to, text, lang string) (*SendResult, error) {
	name := s.cfg.TemplateName(lang)
	if name == "" {
		name = constants.DefaultTemplateName
	}
	resp, err := s.client.SendTemplate(ctx, creds, to, graph.BodyTemplate(name, lang, text))
	s.observe(ModeTemplate, lang, err)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		Mode:      ModeTemplate,
		Language:  lang,
		Template:  name,
		MessageID: resp.MessageID(),
		Data:      resp.Raw,
	}, nil
}

func (s *Sender) finish(ctx context.Context, start time.Time, result *SendResult) *SendResult {
	tracing.AddSpanAttributes(ctx,
		attribute.String("send.mode", result.Mode),
		attribute.String("send.language", result.Language),
	)
	metrics.RecordTimer("send_duration_seconds", time.Since(start), map[string]string{"mode": result.Mode}, "End to end send pipeline latency")
	return result
}

func (s *Sender) observe(mode, lang string, err error) {
	outcome := "accepted"
	if err != nil {
		outcome = string(apperrors.GetCode(err))
	}
	if lang == "" {
		lang = "none"
	}
	metrics.IncrementCounter("send_attempts_total", map[string]string{
		"mode":     mode,
		"language": lang,
		"outcome":  outcome,
	}, "Outbound send attempts by mode and outcome")
}

// canFallBack reports whether a failed attempt may be followed by the next
// one. Only provider rejections qualify; timeouts and transport errors may
// have been delivered and an open breaker would reject the next call anyway.
func canFallBack(err error) bool {
	return apperrors.Is(err, apperrors.ErrCodeProviderRejected) && !circuitbreaker.IsCircuitBreakerError(err)
}

// errorDetail renders a failed attempt for previous_error and template_error.
func errorDetail(err error) interface{} {
	if detail, ok := apperrors.ProviderDetail(err); ok {
		return detail
	}
	return map[string]string{
		"error":   string(apperrors.GetCode(err)),
		"message": err.Error(),
	}
}

func withChain(err error, previous, templateErr interface{}) error {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.ErrCodeInternal, "send failed")
	}
	if previous != nil {
		appErr.WithContext("previous_error", previous)
	}
	if templateErr != nil {
		appErr.WithContext("template_error", templateErr)
	}
	return appErr
}
