package integration_test

import (
	"bytes"
	"fmt"
	"net/http"
	"testing"

	"wabridge/internal/signature"

	"github.com/stretchr/testify/require"
)

// TextDelivery builds a webhook delivery carrying one text message.
func TextDelivery(id, from, body string, ts int64) []byte {
	return []byte(fmt.Sprintf(`{"object":"whatsapp_business_account","entry":[{"id":"waba","changes":[{"field":"messages","value":{"messaging_product":"whatsapp","metadata":{"display_phone_number":"15550001111","phone_number_id":%q},"messages":[{"id":%q,"from":%q,"timestamp":"%d","type":"text","text":{"body":%q}}]}}]}]}`,
		testPhoneID, id, from, ts, body))
}

// ImageDelivery builds a delivery carrying one captioned image.
func ImageDelivery(id, from, mediaID string, ts int64) []byte {
	return []byte(fmt.Sprintf(`{"object":"whatsapp_business_account","entry":[{"id":"waba","changes":[{"field":"messages","value":{"messaging_product":"whatsapp","metadata":{"phone_number_id":%q},"messages":[{"id":%q,"from":%q,"timestamp":"%d","type":"image","image":{"id":%q,"mime_type":"image/jpeg","caption":"look"}}]}}]}]}`,
		testPhoneID, id, from, ts, mediaID))
}

// StatusDelivery builds a delivery with a status update and no messages.
func StatusDelivery(id string) []byte {
	return []byte(fmt.Sprintf(`{"object":"whatsapp_business_account","entry":[{"id":"waba","changes":[{"field":"messages","value":{"messaging_product":"whatsapp","statuses":[{"id":%q,"status":"delivered","timestamp":"1700000000","recipient_id":"15551234567"}]}}]}]}`, id))
}

// Deliver posts a signed delivery to the environment's webhook.
func (e *TestEnvironment) Deliver(t *testing.T, body []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, e.Server.URL+"/webhook", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderName, signature.Compute(testAppSecret, body))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
