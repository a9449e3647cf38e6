package models

import "encoding/json"

// WebhookPayload is the outer envelope of a Cloud API webhook delivery.
// Entries are kept raw so a malformed entry does not discard its siblings.
type WebhookPayload struct {
	Object string            `json:"object"`
	Entry  []json.RawMessage `json:"entry"`
}

type WebhookEntry struct {
	ID      string            `json:"id"`
	Changes []json.RawMessage `json:"changes"`
}

// WebhookChange keeps its value raw; each part of the value is decoded on
// its own so one malformed field does not discard the rest.
type WebhookChange struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// WebhookValue carries inbound messages and delivery status updates.
type WebhookValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         WebhookMetadata   `json:"metadata"`
	Contacts         []WebhookContact  `json:"contacts,omitempty"`
	Messages         []json.RawMessage `json:"messages,omitempty"`
	Statuses         []StatusUpdate    `json:"statuses,omitempty"`
	Errors           []ProviderError   `json:"errors,omitempty"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Delivery statuses reported by the provider
const (
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryFailed    = "failed"
)

// StatusUpdate is a provider delivery receipt for an outbound message.
type StatusUpdate struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Timestamp   string          `json:"timestamp"`
	RecipientID string          `json:"recipient_id"`
	Errors      []ProviderError `json:"errors,omitempty"`
}

type ProviderError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}
