// Package normalizer converts Cloud API inbound message objects into
// models.Message records. Normalization never fails: malformed input still
// produces a best-effort record.
package normalizer

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"wabridge/internal/models"

	"github.com/google/uuid"
)

// typeProbeOrder is the order sub-objects are inspected when the message
// carries no usable type field.
var typeProbeOrder = []models.MessageType{
	models.MessageTypeText,
	models.MessageTypeImage,
	models.MessageTypeDocument,
	models.MessageTypeAudio,
	models.MessageTypeVideo,
	models.MessageTypeSticker,
	models.MessageTypeInteractive,
	models.MessageTypeButton,
	models.MessageTypeReaction,
	models.MessageTypeLocation,
}

// Normalizer turns provider message objects into Messages.
type Normalizer struct {
	now   func() time.Time
	newID func() string
}

// New returns a Normalizer using the wall clock and random UUIDs.
func New() *Normalizer {
	return &Normalizer{now: time.Now, newID: uuid.NewString}
}

// NewWithClock returns a Normalizer with injectable time and id sources.
func NewWithClock(now func() time.Time, newID func() string) *Normalizer {
	return &Normalizer{now: now, newID: newID}
}

// Normalize converts one inbound message object using the default Normalizer.
func Normalize(raw []byte) *models.Message {
	return New().Normalize(raw)
}

// IsObject reports whether raw is a JSON object. Webhook batches skip
// elements that are not.
func IsObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// Normalize converts one inbound message object. It sets Status to pending
// and Timestamp to now; To is left for the caller.
func (n *Normalizer) Normalize(raw []byte) *models.Message {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		fields = nil
	}

	msg := &models.Message{
		ID:        stringField(fields, "id"),
		From:      stringField(fields, "from"),
		Timestamp: n.now().UnixMilli(),
		Status:    models.StatusPending,
		Raw:       rawCopy(raw),
	}
	if msg.ID == "" {
		msg.ID = n.newID()
	}

	declared := stringField(fields, "type")
	msg.Type = classify(declared, fields)

	switch {
	case msg.Type == models.MessageTypeText:
		msg.Text = stringField(object(fields, "text"), "body")
	case msg.Type.IsMedia():
		msg.Media, msg.Text = mediaBlock(msg.Type, object(fields, string(msg.Type)))
	case msg.Type == models.MessageTypeInteractive:
		msg.Text = placeholder(msg.Type, interactiveTitle(object(fields, "interactive")))
	case msg.Type == models.MessageTypeButton:
		msg.Text = placeholder(msg.Type, stringField(object(fields, "button"), "text"))
	case msg.Type == models.MessageTypeReaction:
		msg.Text = placeholder(msg.Type, stringField(object(fields, "reaction"), "emoji"))
	case msg.Type == models.MessageTypeLocation:
		msg.Text = placeholder(msg.Type, stringField(object(fields, "location"), "name"))
	default:
		if declared == "" {
			declared = string(models.MessageTypeUnknown)
		}
		msg.Text = "[" + declared + "]"
	}

	return msg
}

// classify trusts the type field only when its block is present; otherwise
// the first known block found decides.
func classify(declared string, fields map[string]json.RawMessage) models.MessageType {
	for _, t := range typeProbeOrder {
		if string(t) == declared && object(fields, declared) != nil {
			return t
		}
	}
	for _, t := range typeProbeOrder {
		if object(fields, string(t)) != nil {
			return t
		}
	}
	return models.MessageTypeUnknown
}

func mediaBlock(t models.MessageType, block map[string]json.RawMessage) (*models.Media, string) {
	media := &models.Media{
		ID:       stringField(block, "id"),
		Type:     t,
		Caption:  stringField(block, "caption"),
		Filename: stringField(block, "filename"),
		MimeType: stringField(block, "mime_type"),
		SHA256:   stringField(block, "sha256"),
	}
	detail := media.Caption
	if detail == "" && t == models.MessageTypeDocument {
		detail = media.Filename
	}
	return media, placeholder(t, detail)
}

func interactiveTitle(block map[string]json.RawMessage) string {
	for _, key := range []string{"button_reply", "list_reply"} {
		if title := stringField(object(block, key), "title"); title != "" {
			return title
		}
	}
	return ""
}

func placeholder(t models.MessageType, detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return "[" + string(t) + "]"
	}
	return "[" + string(t) + "] " + detail
}

// object decodes fields[key] as a JSON object, returning nil when absent or not an object.
func object(fields map[string]json.RawMessage, key string) map[string]json.RawMessage {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return nil
	}
	return out
}

// stringField returns fields[key] as a string. Numbers are formatted; other
// JSON types yield "".
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

func rawCopy(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return append(json.RawMessage(nil), trimmed...)
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}
