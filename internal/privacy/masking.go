package privacy

import (
	"strings"
	"sync/atomic"
)

var verbose atomic.Bool

// SetVerbose disables masking when on. Meant for local debugging only.
func SetVerbose(on bool) {
	verbose.Store(on)
}

// Verbose reports whether masking is disabled.
func Verbose() bool {
	return verbose.Load()
}

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" || Verbose() {
		return phone
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskMessageID keeps the "wamid." prefix and the last 6 characters of a
// provider message id.
// Example: "wamid.ABCDEFGHIJ123456" -> "wamid.**********123456"
func MaskMessageID(messageID string) string {
	if messageID == "" || Verbose() {
		return messageID
	}

	const prefix = "wamid."
	if strings.HasPrefix(messageID, prefix) {
		return prefix + maskString(messageID[len(prefix):], 6)
	}
	return maskString(messageID, 8)
}

// MaskToken renders a credential as first6...last4, or all stars when it is
// too short to reveal anything. It is applied even in verbose mode.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return strings.Repeat("*", len(token))
	}
	return token[:6] + "..." + token[len(token)-4:]
}

// TokenSuffix returns the last n characters of a credential for debug output.
func TokenSuffix(token string, n int) string {
	if token == "" {
		return ""
	}
	if len(token) <= n*2 {
		return strings.Repeat("*", len(token))
	}
	return token[len(token)-n:]
}

// MaskContent hides message bodies from logs.
func MaskContent(content string) string {
	if content == "" || Verbose() {
		return content
	}
	return "[hidden]"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "phone", "phone_number", "from", "to", "recipient", "sender":
			masked[k] = MaskPhoneNumber(s)
		case "message_id", "messageId", "id":
			masked[k] = MaskMessageID(s)
		case "access_token", "token", "authorization", "app_secret", "admin_secret":
			masked[k] = MaskToken(s)
		case "text", "body", "caption":
			masked[k] = MaskContent(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
