package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"wabridge/internal/models"
	"wabridge/internal/normalizer"
	"wabridge/internal/signature"
	"wabridge/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "app-secret"

var fixedTime = time.UnixMilli(1_700_000_000_000)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestHandler(t *testing.T, st MessageWriter, mutate func(*Options)) *Handler {
	t.Helper()
	opts := Options{
		VerifyToken: "verify-me",
		AppSecret:   testSecret,
		Normalizer:  normalizer.NewWithClock(func() time.Time { return fixedTime }, func() string { return "generated-id" }),
		Hub:         NewHub(8),
		Logger:      quietLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewHandler(st, opts)
}

func post(h *Handler, body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if sig != "" {
		req.Header.Set(signature.HeaderName, sig)
	}
	rec := httptest.NewRecorder()
	h.Receive().ServeHTTP(rec, req)
	return rec
}

const twoMessages = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "WABA",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"metadata": {"display_phone_number": "15550001111", "phone_number_id": "123"},
				"messages": [
					{"id": "wamid.A", "from": "15551234567", "timestamp": "1700000000", "type": "text", "text": {"body": "hello"}},
					{"id": "wamid.B", "from": "15557654321", "timestamp": "1700000001", "type": "image", "image": {"id": "media-1", "caption": "look"}}
				]
			}
		}]
	}]
}`

func TestVerify(t *testing.T) {
	h := newTestHandler(t, store.NewMemoryStore(), nil)

	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusForbidden, ""},
		{"missing challenge", "hub.mode=subscribe&hub.verify_token=verify-me", http.StatusForbidden, ""},
		{"empty challenge", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=", http.StatusForbidden, ""},
		{"missing params", "", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Verify().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestVerify_NoTokenConfigured(t *testing.T) {
	h := newTestHandler(t, store.NewMemoryStore(), func(o *Options) { o.VerifyToken = "" })
	rec := httptest.NewRecorder()
	h.Verify().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReceive_StoresMessages(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestHandler(t, st, nil)

	rec := post(h, twoMessages, signature.Compute(testSecret, []byte(twoMessages)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	pending, err := st.ListMessages(context.Background(), models.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	msg, found, err := st.GetMessage(context.Background(), "wamid.A")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "15550001111", msg.To)
	assert.Equal(t, models.StatusPending, msg.Status)

	img, _, _ := st.GetMessage(context.Background(), "wamid.B")
	assert.Equal(t, models.MessageTypeImage, img.Type)
	assert.Equal(t, "[image] look", img.Text)
}

func TestReceive_DuplicateDeliveryIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestHandler(t, st, nil)
	sig := signature.Compute(testSecret, []byte(twoMessages))

	require.Equal(t, http.StatusOK, post(h, twoMessages, sig).Code)
	require.Equal(t, http.StatusOK, post(h, twoMessages, sig).Code)

	pending, err := st.ListMessages(context.Background(), models.StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestReceive_BadSignature(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestHandler(t, st, nil)

	for name, sig := range map[string]string{
		"missing": "",
		"wrong":   signature.Compute("other-secret", []byte(twoMessages)),
		"garbage": "sha256=zz",
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(h, twoMessages, sig)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Contains(t, rec.Body.String(), `"invalid_signature"`)
		})
	}

	counts, err := st.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts[models.StatusPending])
}

func TestReceive_UnsignedPolicy(t *testing.T) {
	t.Run("rejected without opt-in", func(t *testing.T) {
		h := newTestHandler(t, store.NewMemoryStore(), func(o *Options) { o.AppSecret = "" })
		assert.Equal(t, http.StatusForbidden, post(h, twoMessages, "").Code)
	})
	t.Run("accepted with opt-in", func(t *testing.T) {
		st := store.NewMemoryStore()
		h := newTestHandler(t, st, func(o *Options) {
			o.AppSecret = ""
			o.AllowUnsigned = true
		})
		assert.Equal(t, http.StatusOK, post(h, twoMessages, "").Code)
		counts, _ := st.Counts(context.Background())
		assert.Equal(t, 2, counts[models.StatusPending])
	})
	t.Run("never in production", func(t *testing.T) {
		h := newTestHandler(t, store.NewMemoryStore(), func(o *Options) {
			o.AppSecret = ""
			o.AllowUnsigned = true
			o.Production = true
		})
		assert.Equal(t, http.StatusForbidden, post(h, twoMessages, "").Code)
	})
}

func TestReceive_MalformedEnvelopeIsAcknowledged(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestHandler(t, st, nil)

	for _, body := range []string{`not json`, `{"entry": "nope"}`, `[]`} {
		rec := post(h, body, signature.Compute(testSecret, []byte(body)))
		assert.Equal(t, http.StatusOK, rec.Code, body)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	}
	counts, _ := st.Counts(context.Background())
	assert.Zero(t, counts[models.StatusPending])
}

func TestIngest_PartialFailures(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestHandler(t, st, nil)

	body := `{"entry":[
		"not an entry",
		{"changes":[
			42,
			{"value":{"messages":[
				"a string",
				null,
				{"id":"wamid.OK","from":"1555","type":"text","text":{"body":"survives"}}
			]}}
		]}
	]}`

	result := h.Ingest(context.Background(), []byte(body))
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 2, result.Skipped)

	msg, found, err := st.GetMessage(context.Background(), "wamid.OK")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "survives", msg.Text)
}

func TestIngest_MalformedSiblingsDoNotDropMessages(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		wantSkipped int
	}{
		{
			name:        "numeric status timestamp",
			value:       `"statuses":[{"id":"wamid.OUT","status":"read","timestamp":1700000000},{"id":"wamid.OUT2","status":"sent"}]`,
			wantSkipped: 1,
		},
		{
			name:  "contact profile as string",
			value: `"contacts":[{"wa_id":"1555","profile":"Bob"}]`,
		},
		{
			name:  "metadata not an object",
			value: `"metadata":"broken"`,
		},
		{
			name:  "statuses not an array",
			value: `"statuses":{"id":"wamid.OUT"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			h := newTestHandler(t, st, nil)

			body := `{"entry":[{"changes":[{"value":{` + tt.value + `,
				"messages":[{"id":"wamid.KEEP","from":"1555","type":"text","text":{"body":"kept"}}]}}]}]}`

			result := h.Ingest(context.Background(), []byte(body))
			assert.Equal(t, 1, result.Stored)
			assert.Equal(t, tt.wantSkipped, result.Skipped)

			msg, found, err := st.GetMessage(context.Background(), "wamid.KEEP")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "kept", msg.Text)
		})
	}
}

func TestIngest_StatusesAreNotStored(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestHandler(t, st, nil)
	events, cancel := h.opts.Hub.Subscribe()
	defer cancel()

	body := `{"entry":[{"changes":[{"value":{"statuses":[
		{"id":"wamid.OUT","status":"delivered","recipient_id":"15551234567"},
		{"id":"wamid.OUT2","status":"failed","recipient_id":"15551234567","errors":[{"code":131026,"title":"Undeliverable"}]}
	]}}]}]}`

	result := h.Ingest(context.Background(), []byte(body))
	assert.Equal(t, 2, result.Statuses)
	assert.Zero(t, result.Stored)

	counts, _ := st.Counts(context.Background())
	assert.Zero(t, counts[models.StatusPending])
	assert.Zero(t, counts[models.StatusProcessed])

	evt := <-events
	assert.Equal(t, EventStatus, evt.Event)
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStore) PutMessage(context.Context, *models.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return false, errors.New("backend down")
}

func TestReceive_StoreFailureStillAcknowledges(t *testing.T) {
	st := &failingStore{}
	h := newTestHandler(t, st, nil)

	rec := post(h, twoMessages, signature.Compute(testSecret, []byte(twoMessages)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, st.calls, "a failure on one message does not stop its siblings")
}

func TestReceive_BodyTooLarge(t *testing.T) {
	h := newTestHandler(t, store.NewMemoryStore(), func(o *Options) { o.MaxBodyBytes = 16 })
	rec := post(h, twoMessages, signature.Compute(testSecret, []byte(twoMessages)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type recordingReplier struct {
	mu      sync.Mutex
	created []bool
}

func (r *recordingReplier) Handle(_ context.Context, _ *models.Message, created bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, created)
	return created
}

func TestReceive_ReplierAndEvents(t *testing.T) {
	replier := &recordingReplier{}
	h := newTestHandler(t, store.NewMemoryStore(), func(o *Options) { o.Replier = replier })
	events, cancel := h.opts.Hub.Subscribe()
	defer cancel()

	sig := signature.Compute(testSecret, []byte(twoMessages))
	post(h, twoMessages, sig)
	post(h, twoMessages, sig)

	assert.Equal(t, []bool{true, true, false, false}, replier.created)

	var got []string
	for i := 0; i < 2; i++ {
		evt := <-events
		assert.Equal(t, EventMessage, evt.Event)
		got = append(got, evt.Data.(*models.Message).ID)
	}
	assert.ElementsMatch(t, []string{"wamid.A", "wamid.B"}, got)
	assert.Len(t, events, 0, "duplicates are not re-published")
}
