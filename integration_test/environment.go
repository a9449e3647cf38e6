// Package integration_test runs the inbound and outbound flows end to end
// against every store backend, with a fake Graph API in place of Meta.
package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wabridge/internal/constants"
	"wabridge/internal/models"
	"wabridge/internal/service"
	"wabridge/internal/store"
	"wabridge/internal/webhook"
	"wabridge/pkg/graph"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	testAppSecret   = "integration-app-secret"
	testVerifyToken = "integration-verify"
	testPhoneID     = "1234567890"
	testVersion     = "v24.0"
)

// Backends lists the store backends every flow runs against.
var Backends = []string{
	constants.StoreBackendMemory,
	constants.StoreBackendSQLite,
	constants.StoreBackendRedis,
}

// GraphFake records outbound calls. Free-form text is rejected while
// RejectText is set, which drives the template fallback.
type GraphFake struct {
	mu         sync.Mutex
	RejectText bool
	// RejectLanguages rejects template sends in the listed languages.
	RejectLanguages map[string]bool
	sends           []map[string]interface{}
	server          *httptest.Server
}

func (g *GraphFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost || r.URL.Path != "/"+testVersion+"/"+testPhoneID+"/messages" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"unknown path"}}`)
		return
	}

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	g.mu.Lock()
	g.sends = append(g.sends, body)
	reject := g.RejectText && body["type"] == "text"
	if tpl, ok := body["template"].(map[string]interface{}); ok {
		if lang, ok := tpl["language"].(map[string]interface{}); ok {
			code, _ := lang["code"].(string)
			reject = reject || g.RejectLanguages[code]
		}
	}
	g.mu.Unlock()

	if reject {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"rejected by fake","code":131047}}`)
		return
	}
	_, _ = io.WriteString(w, `{"messaging_product":"whatsapp","messages":[{"id":"wamid.out"}]}`)
}

// Sent returns a copy of the recorded request bodies.
func (g *GraphFake) Sent() []map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]interface{}(nil), g.sends...)
}

// TestEnvironment wires the bridge components around one store backend.
type TestEnvironment struct {
	Backend string
	Store   store.Store
	Graph   *GraphFake
	Hub     *webhook.Hub
	Sender  *service.Sender
	Replier *service.AutoReplier
	Webhook *webhook.Handler
	Server  *httptest.Server
	Logger  *logrus.Logger
}

// EnvOption adjusts the WhatsApp section before the components are built.
type EnvOption func(cfg *models.WhatsAppConfig)

// NewTestEnvironment builds the environment and registers its cleanup.
func NewTestEnvironment(t *testing.T, backend string, opts ...EnvOption) *TestEnvironment {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := openStore(t, backend)

	fake := &GraphFake{RejectLanguages: map[string]bool{}}
	fake.server = httptest.NewServer(fake)
	t.Cleanup(fake.server.Close)

	cfg := models.WhatsAppConfig{
		GraphBaseURL:            fake.server.URL,
		GraphVersion:            testVersion,
		AccessToken:             "EAAGintegration-token-0001",
		PhoneNumberID:           testPhoneID,
		VerifyToken:             testVerifyToken,
		AppSecret:               testAppSecret,
		DefaultTemplateName:     "business_intro_v1",
		DefaultTemplateLanguage: "pt_BR",
		TemplateNames:           models.TemplateMap{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := graph.NewClient(graph.Options{BaseURL: cfg.GraphBaseURL, Timeout: 5 * time.Second, Logger: logger})
	creds := service.NewCredentialResolver(cfg, st, logger)
	sender := service.NewSender(client, creds, cfg, logger)
	hub := webhook.NewHub(16)
	replier := service.NewAutoReplier(sender, st, cfg.AutoReplyText, 2*time.Second, logger)

	handler := webhook.NewHandler(st, webhook.Options{
		VerifyToken: cfg.VerifyToken,
		AppSecret:   cfg.AppSecret,
		Replier:     replier,
		Hub:         hub,
		Logger:      logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", handler.Verify())
	mux.HandleFunc("POST /webhook", handler.Receive())
	server := httptest.NewServer(mux)

	// Cleanups run last in, first out: stop serving, drain replies, then
	// close the hub. The store closes after all of them.
	t.Cleanup(hub.Close)
	t.Cleanup(replier.Wait)
	t.Cleanup(server.Close)

	return &TestEnvironment{
		Backend: backend,
		Store:   st,
		Graph:   fake,
		Hub:     hub,
		Sender:  sender,
		Replier: replier,
		Webhook: handler,
		Server:  server,
		Logger:  logger,
	}
}

func openStore(t *testing.T, backend string) store.Store {
	t.Helper()

	cfg := models.StoreConfig{Backend: backend}
	switch backend {
	case constants.StoreBackendSQLite:
		cfg.SQLitePath = filepath.Join(t.TempDir(), "integration.db")
	case constants.StoreBackendRedis:
		mr := miniredis.RunT(t)
		cfg.RedisURL = "redis://" + mr.Addr()
		cfg.KeyPrefix = "it:"
	}

	st, err := store.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}
