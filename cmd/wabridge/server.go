package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"wabridge/internal/features"
	"wabridge/internal/httputil"
	"wabridge/internal/middleware"
	"wabridge/internal/models"
	"wabridge/internal/service"
	"wabridge/internal/store"
	"wabridge/internal/webhook"
	"wabridge/pkg/circuitbreaker"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// apiAliasPrefix mirrors every route under the path the hosted frontend uses.
const apiAliasPrefix = "/api/whatsapp"

// breakerReporter exposes circuit breaker counters for debug health output.
type breakerReporter interface {
	BreakerStats() circuitbreaker.Stats
}

// Dependencies are the components the HTTP layer serves.
type Dependencies struct {
	Store       store.Store
	Webhook     *webhook.Handler
	Sender      *service.Sender
	Media       *service.MediaService
	Credentials *service.CredentialResolver
	Hub         *webhook.Hub
	Breaker     breakerReporter
	// Flags may be nil, in which case every surface is served.
	Flags *features.FlagManager
}

type Server struct {
	cfg            *models.Config
	router         *mux.Router
	logger         *logrus.Logger
	deps           Dependencies
	ips            *httputil.ClientIPResolver
	webhookLimiter *RateLimiter
	sendLimiter    *RateLimiter
	server         *http.Server
}

func NewServer(cfg *models.Config, deps Dependencies, logger *logrus.Logger) (*Server, error) {
	ips, err := httputil.NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		logger: logger,
		deps:   deps,
		ips:    ips,
	}
	limiting := deps.Flags.IsEnabled(features.FlagRateLimiting)
	if limiting && cfg.Server.WebhookRatePerMinute > 0 {
		s.webhookLimiter = NewRateLimiter(cfg.Server.WebhookRatePerMinute, time.Minute)
	}
	if limiting && cfg.Server.SendRatePerMinute > 0 {
		s.sendLimiter = NewRateLimiter(cfg.Server.SendRatePerMinute, time.Minute)
	}

	s.router.Use(middleware.ObservabilityMiddleware(logger, ips))
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	// Operational endpoints are not aliased.
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/ping", s.handlePing()).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	s.registerAPI(s.router)
	if s.deps.Flags.IsEnabled(features.FlagAPIAlias) {
		s.registerAPI(s.router.PathPrefix(apiAliasPrefix).Subrouter())
	}
}

// registerAPI mounts the bridge API on r.
func (s *Server) registerAPI(r *mux.Router) {
	verify := s.deps.Webhook.Verify()
	receive := s.webhookLimiter.Wrap("webhook", s.ips, s.logger, s.deps.Webhook.Receive())
	for _, path := range []string{"/webhook", "/webhooks"} {
		r.HandleFunc(path, verify).Methods(http.MethodGet)
		r.HandleFunc(path, receive).Methods(http.MethodPost)
	}

	r.HandleFunc("/messages", s.handleListMessages()).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", s.handleGetMessage()).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/ack", s.handleAck()).Methods(http.MethodPost)

	r.HandleFunc("/send", s.sendLimiter.Wrap("send", s.ips, s.logger, s.handleSend())).Methods(http.MethodPost)

	if s.deps.Flags.IsEnabled(features.FlagMediaProxy) {
		r.HandleFunc("/media/{id}", s.handleMediaDownload()).Methods(http.MethodGet)
		r.HandleFunc("/media", s.sendLimiter.Wrap("media", s.ips, s.logger, s.handleMediaUpload())).Methods(http.MethodPost)
	}

	r.HandleFunc("/state", s.handleGetState()).Methods(http.MethodGet)
	r.HandleFunc("/state", s.requireAdmin(s.handleSetState())).Methods(http.MethodPost)

	r.HandleFunc("/admin/config", s.requireAdmin(s.handleGetAdminConfig())).Methods(http.MethodGet)
	r.HandleFunc("/admin/config", s.requireAdmin(s.handleSetAdminConfig())).Methods(http.MethodPost)

	if s.deps.Flags.IsEnabled(features.FlagEventStream) {
		r.HandleFunc("/events", s.handleEvents()).Methods(http.MethodGet)
	}
}

// Handler returns the routed handler wrapped in CORS, so preflight requests
// are answered before route matching.
func (s *Server) Handler() http.Handler {
	return middleware.CORS(s.cfg.Server.CORSAllowedOrigins)(s.router)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.WithField("port", s.cfg.Server.Port).Info("Starting server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
