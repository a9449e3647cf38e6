package graph

import "encoding/json"

const messagingProduct = "whatsapp"

// Credentials identify the sending account for one call.
type Credentials struct {
	AccessToken   string
	PhoneNumberID string
	Version       string
}

// Complete reports whether all three values are present.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.PhoneNumberID != "" && c.Version != ""
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type textMessageRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type,omitempty"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

// Template is a pre-approved template reference with its components.
type Template struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// BodyTemplate wraps text as the single body parameter of template name.
func BodyTemplate(name, language, text string) Template {
	return Template{
		Name:     name,
		Language: TemplateLanguage{Code: language},
		Components: []TemplateComponent{{
			Type:       "body",
			Parameters: []TemplateParameter{{Type: "text", Text: text}},
		}},
	}
}

type templateMessageRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Template         Template `json:"template"`
}

// SendResponse is the accepted-message reply. Raw keeps the provider body
// so callers can return it verbatim.
type SendResponse struct {
	Contacts []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Raw json.RawMessage `json:"-"`
}

// MessageID returns the first accepted message id, if any.
func (r *SendResponse) MessageID() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// MediaInfo is the metadata returned for a media id.
type MediaInfo struct {
	ID               string `json:"id"`
	URL              string `json:"url"`
	MimeType         string `json:"mime_type"`
	SHA256           string `json:"sha256"`
	FileSize         int64  `json:"file_size"`
	MessagingProduct string `json:"messaging_product"`
}

type uploadResponse struct {
	ID string `json:"id"`
}
