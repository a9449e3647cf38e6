package models

import (
	"encoding/json"
	"fmt"
)

// MessageType classifies an inbound message by its provider sub-object.
type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeVideo       MessageType = "video"
	MessageTypeAudio       MessageType = "audio"
	MessageTypeDocument    MessageType = "document"
	MessageTypeSticker     MessageType = "sticker"
	MessageTypeInteractive MessageType = "interactive"
	MessageTypeButton      MessageType = "button"
	MessageTypeReaction    MessageType = "reaction"
	MessageTypeLocation    MessageType = "location"
	MessageTypeUnknown     MessageType = "unknown"
)

// IsMedia reports whether messages of this type carry a media block.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeDocument, MessageTypeSticker:
		return true
	}
	return false
}

// Status is the ingestion queue state of a stored message. It is unrelated to
// provider delivery statuses, which are only logged.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
)

// Valid reports whether s is a known queue status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusProcessed
}

// Message is the normalized form of an inbound provider message.
type Message struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Type      MessageType     `json:"type"`
	Text      string          `json:"text"`
	Media     *Media          `json:"media,omitempty"`
	Status    Status          `json:"status"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Media describes the media block of an image, video, audio, document or sticker message.
type Media struct {
	ID       string      `json:"id"`
	Type     MessageType `json:"type"`
	Caption  string      `json:"caption,omitempty"`
	Filename string      `json:"filename,omitempty"`
	MimeType string      `json:"mime_type,omitempty"`
	SHA256   string      `json:"sha256,omitempty"`
}

// Clone returns a deep copy so callers never share a stored record.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Media != nil {
		media := *m.Media
		c.Media = &media
	}
	if m.Raw != nil {
		c.Raw = append(json.RawMessage(nil), m.Raw...)
	}
	return &c
}

// State is the process-wide control state.
type State struct {
	Closed bool `json:"closed"`
}

// StatePatch carries a partial State update; nil fields are left unchanged.
type StatePatch struct {
	Closed *bool `json:"closed,omitempty"`
}

// Apply merges p into s.
func (p StatePatch) Apply(s State) State {
	if p.Closed != nil {
		s.Closed = *p.Closed
	}
	return s
}

// Validate checks the fields every store backend requires.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("message is nil")
	}
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid message status %q", m.Status)
	}
	return nil
}
