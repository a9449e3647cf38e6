// Package webhook ingests Cloud API webhook deliveries into the message store.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"wabridge/internal/constants"
	apperrors "wabridge/internal/errors"
	"wabridge/internal/httputil"
	"wabridge/internal/metrics"
	"wabridge/internal/models"
	"wabridge/internal/normalizer"
	"wabridge/internal/privacy"
	"wabridge/internal/service"
	"wabridge/internal/signature"
	"wabridge/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// MessageWriter is the part of the store ingestion needs.
type MessageWriter interface {
	PutMessage(ctx context.Context, msg *models.Message) (bool, error)
}

// Replier reacts to newly stored messages.
type Replier interface {
	Handle(ctx context.Context, msg *models.Message, created bool) bool
}

// Options configures a Handler.
type Options struct {
	VerifyToken   string
	AppSecret     string
	AllowUnsigned bool
	Production    bool
	MaxBodyBytes  int64
	Normalizer    *normalizer.Normalizer
	Replier       Replier
	Hub           *Hub
	Logger        *logrus.Logger
}

// Handler serves the subscription handshake and webhook deliveries.
type Handler struct {
	store MessageWriter
	opts  Options
}

// IngestResult counts what one delivery produced.
type IngestResult struct {
	Stored   int
	Created  int
	Skipped  int
	Failed   int
	Statuses int
}

func NewHandler(store MessageWriter, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = constants.DefaultMaxWebhookBodyBytes
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalizer.New()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Handler{store: store, opts: opts}
}

// Verify answers the GET subscription handshake.
func (h *Handler) Verify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mode := q.Get("hub.mode")
		token := q.Get("hub.verify_token")
		challenge := q.Get("hub.challenge")

		logger := service.LogWithContext(r.Context(), h.opts.Logger).WithField(service.LogFieldComponent, "webhook")
		if mode != "subscribe" || challenge == "" || h.opts.VerifyToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.VerifyToken)) != 1 {
			logger.WithField("mode", mode).Warn("Webhook verification rejected")
			metrics.IncrementCounter("webhook_verifications_total", map[string]string{"outcome": "rejected"}, "Webhook subscription handshakes")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		logger.Info("Webhook verification succeeded")
		metrics.IncrementCounter("webhook_verifications_total", map[string]string{"outcome": "accepted"}, "Webhook subscription handshakes")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, challenge)
	}
}

// Receive handles a POSTed delivery. Once the signature is valid the provider
// always gets 200 so a single bad payload does not cause a retry storm.
func (h *Handler) Receive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := service.LogWithContext(ctx, h.opts.Logger).WithField(service.LogFieldComponent, "webhook")

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				logger.WithField(service.LogFieldSize, tooLarge.Limit).Warn("Webhook body exceeds limit")
				apperrors.WriteJSON(w, apperrors.NewValidationError("body", "request body too large"))
				return
			}
			logger.WithError(err).Warn("Failed to read webhook body")
			apperrors.WriteJSON(w, apperrors.NewValidationError("body", "unreadable request body"))
			return
		}

		if err := h.checkSignature(body, r.Header.Get(signature.HeaderName)); err != nil {
			logger.WithError(err).Warn("Webhook signature rejected")
			metrics.IncrementCounter("webhook_requests_total", map[string]string{"outcome": "invalid_signature"}, "Webhook deliveries")
			apperrors.WriteJSON(w, apperrors.NewInvalidSignatureError(err.Error()))
			return
		}

		result := h.Ingest(ctx, body)
		metrics.IncrementCounter("webhook_requests_total", map[string]string{"outcome": "accepted"}, "Webhook deliveries")
		logger.WithFields(logrus.Fields{
			"stored":   result.Stored,
			"created":  result.Created,
			"skipped":  result.Skipped,
			"failed":   result.Failed,
			"statuses": result.Statuses,
		}).Debug("Webhook delivery processed")

		_ = httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (h *Handler) checkSignature(body []byte, header string) error {
	if h.opts.AppSecret == "" {
		if !h.opts.AllowUnsigned || h.opts.Production {
			return errors.New("app secret is not configured")
		}
		h.opts.Logger.Warn("Accepting unsigned webhook: app secret not configured")
		return nil
	}
	return signature.Check(body, header, h.opts.AppSecret)
}

// Ingest stores every inbound message in a verified body. A malformed
// envelope, entry or change is logged and skipped without side effects.
func (h *Handler) Ingest(ctx context.Context, body []byte) IngestResult {
	ctx, span := tracing.StartSpan(ctx, "webhook.ingest")
	defer span.End()
	start := time.Now()

	var result IngestResult
	logger := service.LogWithContext(ctx, h.opts.Logger).WithField(service.LogFieldComponent, "webhook")

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WithError(err).Warn("Ignoring webhook with unparseable envelope")
		parseFailure("envelope")
		return result
	}

	for _, rawEntry := range payload.Entry {
		var entry models.WebhookEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			logger.WithError(err).Warn("Skipping malformed webhook entry")
			parseFailure("entry")
			continue
		}
		for _, rawChange := range entry.Changes {
			var change models.WebhookChange
			if err := json.Unmarshal(rawChange, &change); err != nil {
				logger.WithError(err).Warn("Skipping malformed webhook change")
				parseFailure("change")
				continue
			}
			value := h.decodeValue(logger, change.Value, &result)
			h.ingestValue(ctx, value, &result)
		}
	}

	tracing.AddSpanAttributes(ctx,
		attribute.Int("webhook.stored", result.Stored),
		attribute.Int("webhook.statuses", result.Statuses),
	)
	metrics.RecordTimer("webhook_ingest_duration_seconds", time.Since(start), nil, "Webhook ingestion latency")
	return result
}

// decodeValue decodes each part of a change value independently. Messages
// stay raw for per-message normalization; statuses, contacts and errors are
// decoded per element and a malformed element is skipped and counted.
func (h *Handler) decodeValue(logger *logrus.Entry, raw json.RawMessage, result *IngestResult) models.WebhookValue {
	var value models.WebhookValue
	if len(raw) == 0 {
		return value
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		logger.WithError(err).Warn("Skipping malformed change value")
		parseFailure("value")
		return value
	}

	if metadata, ok := fields["metadata"]; ok {
		if err := json.Unmarshal(metadata, &value.Metadata); err != nil {
			logger.WithError(err).Warn("Ignoring malformed change metadata")
			parseFailure("metadata")
		}
	}
	if product, ok := fields["messaging_product"]; ok {
		_ = json.Unmarshal(product, &value.MessagingProduct)
	}

	value.Messages = decodeArray(logger, fields, "messages")

	for i, el := range decodeArray(logger, fields, "statuses") {
		var st models.StatusUpdate
		if err := json.Unmarshal(el, &st); err != nil {
			apperrors.Entry(logger, apperrors.NewPartialFailure(i, "status update is malformed")).WithField("cause", err.Error()).Warn("Skipping status update")
			parseFailure("status")
			result.Skipped++
			continue
		}
		value.Statuses = append(value.Statuses, st)
	}

	for _, el := range decodeArray(logger, fields, "contacts") {
		var c models.WebhookContact
		if err := json.Unmarshal(el, &c); err != nil {
			logger.WithError(err).Debug("Ignoring malformed contact")
			parseFailure("contact")
			continue
		}
		value.Contacts = append(value.Contacts, c)
	}

	for _, el := range decodeArray(logger, fields, "errors") {
		var pe models.ProviderError
		if err := json.Unmarshal(el, &pe); err != nil {
			parseFailure("error")
			continue
		}
		value.Errors = append(value.Errors, pe)
	}

	return value
}

// decodeArray returns the elements of fields[key], or nil when the key is
// absent or not an array.
func decodeArray(logger *logrus.Entry, fields map[string]json.RawMessage, key string) []json.RawMessage {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.WithError(err).WithField("field", key).Warn("Ignoring change field that is not an array")
		parseFailure(key)
		return nil
	}
	return out
}

func parseFailure(level string) {
	metrics.IncrementCounter("webhook_parse_failures_total", map[string]string{"level": level}, "Webhook parts that could not be parsed")
}

func (h *Handler) ingestValue(ctx context.Context, value models.WebhookValue, result *IngestResult) {
	logger := service.LogWithContext(ctx, h.opts.Logger).WithField(service.LogFieldComponent, "webhook")

	for i, raw := range value.Messages {
		if !normalizer.IsObject(raw) {
			err := apperrors.NewPartialFailure(i, "message is not a JSON object")
			apperrors.Entry(logger, err).Warn("Skipping inbound message")
			metrics.IncrementCounter("messages_ingested_total", map[string]string{"outcome": "skipped"}, "Inbound messages by ingestion outcome")
			result.Skipped++
			continue
		}

		msg := h.opts.Normalizer.Normalize(raw)
		msg.To = value.Metadata.DisplayPhoneNumber

		msgLogger := logger.WithFields(logrus.Fields{
			service.LogFieldMessageID:   privacy.MaskMessageID(msg.ID),
			service.LogFieldFrom:        privacy.MaskPhoneNumber(msg.From),
			service.LogFieldMessageType: msg.Type,
			service.LogFieldDirection:   "incoming",
		})

		created, err := h.store.PutMessage(ctx, msg)
		if err != nil {
			apperrors.Entry(msgLogger, apperrors.NewStoreError("put_message", err)).Error("Failed to store inbound message")
			tracing.RecordError(ctx, err)
			metrics.IncrementCounter("messages_ingested_total", map[string]string{"outcome": "store_error"}, "Inbound messages by ingestion outcome")
			result.Failed++
			continue
		}

		result.Stored++
		outcome := "duplicate"
		if created {
			outcome = "created"
			result.Created++
			h.opts.Hub.Publish(EventMessage, msg)
		}
		metrics.IncrementCounter("messages_ingested_total", map[string]string{"outcome": outcome}, "Inbound messages by ingestion outcome")
		msgLogger.WithField("created", created).Info("Stored inbound message")

		if h.opts.Replier != nil {
			h.opts.Replier.Handle(ctx, msg, created)
		}
	}

	for _, st := range value.Statuses {
		result.Statuses++
		fields := logrus.Fields{
			service.LogFieldMessageID:      privacy.MaskMessageID(st.ID),
			service.LogFieldTo:             privacy.MaskPhoneNumber(st.RecipientID),
			service.LogFieldDeliveryStatus: st.Status,
		}
		metrics.IncrementCounter("delivery_statuses_total", map[string]string{"status": st.Status}, "Provider delivery status updates")
		h.opts.Hub.Publish(EventStatus, st)
		if st.Status == models.DeliveryFailed || len(st.Errors) > 0 {
			logger.WithFields(fields).WithField("errors", st.Errors).Warn("Delivery status reported failure")
			continue
		}
		logger.WithFields(fields).Info("Delivery status update")
	}

	for _, pe := range value.Errors {
		logger.WithFields(logrus.Fields{
			"provider_code":  pe.Code,
			"provider_title": pe.Title,
		}).Warn("Provider reported webhook error")
	}
}
