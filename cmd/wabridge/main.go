package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wabridge/internal/config"
	"wabridge/internal/constants"
	"wabridge/internal/features"
	"wabridge/internal/media"
	"wabridge/internal/models"
	"wabridge/internal/privacy"
	"wabridge/internal/retry"
	"wabridge/internal/service"
	"wabridge/internal/store"
	"wabridge/internal/tracing"
	"wabridge/internal/webhook"
	"wabridge/pkg/graph"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
	configPath = flag.String("config", "config.json", "Path to the optional JSON configuration file")
	envPath    = flag.String("env", ".env", "Path to the optional .env file")
	version    = flag.Bool("version", false, "Show version information")

	startTime = time.Now()
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wabridge %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wabridge")

	if err := config.LoadDotEnv(*envPath); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	configureLogger(logger, cfg, *verbose)
	privacy.SetVerbose(cfg.LogVerbosePII)

	flags, ignored, err := features.Load(cfg.Features)
	if err != nil {
		return fmt.Errorf("failed to load feature flags: %w", err)
	}
	for _, key := range ignored {
		logger.WithField("env", key).Warn("Ignoring unknown or invalid feature override")
	}
	if disabled := flags.Disabled(); len(disabled) > 0 {
		logger.WithField("disabled", disabled).Info("Feature flags disabled")
	}

	tracingCfg := cfg.Tracing
	if tracingCfg.ServiceVersion == "" {
		tracingCfg.ServiceVersion = Version
	}
	if tracingCfg.Environment == "" {
		tracingCfg.Environment = cfg.Environment
	}
	tracingManager := tracing.NewTracingManager(tracingCfg, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	client := graph.NewClient(graph.Options{
		BaseURL: cfg.WhatsApp.GraphBaseURL,
		Timeout: time.Duration(cfg.WhatsApp.TimeoutSec) * time.Second,
		Logger:  logger,
	})
	creds := service.NewCredentialResolver(cfg.WhatsApp, st, logger)
	sender := service.NewSender(client, creds, cfg.WhatsApp, logger)
	mediaService := service.NewMediaService(client, creds, media.NewRouter(cfg.Server.MaxUploadBytes), logger)
	hub := webhook.NewHub(cfg.Server.EventStreamBufferSize)

	replyText := cfg.WhatsApp.AutoReplyText
	if !flags.IsEnabled(features.FlagAutoReply) {
		replyText = ""
	}
	replier := service.NewAutoReplier(sender, st, replyText, 0, logger)
	defer replier.Wait()

	webhookHandler := webhook.NewHandler(st, webhook.Options{
		VerifyToken:   cfg.WhatsApp.VerifyToken,
		AppSecret:     cfg.WhatsApp.AppSecret,
		AllowUnsigned: cfg.WhatsApp.AllowUnsignedWebhooks,
		Production:    cfg.IsProduction(),
		MaxBodyBytes:  cfg.Server.MaxWebhookBodyBytes,
		Replier:       replier,
		Hub:           hub,
		Logger:        logger,
	})

	if cfg.WhatsApp.AppSecret == "" {
		logger.Warn("Webhook signatures are not verified: WHATSAPP_APP_SECRET is empty")
	}
	if cfg.WhatsApp.VerifyToken == "" {
		logger.Warn("Webhook verification token is empty; subscription handshakes will be rejected")
	}
	if !creds.Configured(ctx) {
		logger.Warn("WhatsApp credentials are incomplete; sends fail with not_configured until they are set")
	}
	if replier.Enabled() {
		logger.Info("Auto-reply while closed is enabled")
	}

	if cfg.Retention.Enabled() {
		scheduler, err := service.NewRetentionScheduler(st, cfg.Retention, logger)
		if err != nil {
			return fmt.Errorf("failed to create retention scheduler: %w", err)
		}
		go scheduler.Start(ctx)
		defer scheduler.Stop()
	} else {
		logger.Info("Skipping retention: processed_max_age_hours is 0")
	}

	server, err := NewServer(cfg, Dependencies{
		Store:       st,
		Webhook:     webhookHandler,
		Sender:      sender,
		Media:       mediaService,
		Credentials: creds,
		Hub:         hub,
		Breaker:     client,
		Flags:       flags,
	}, logger)
	if err != nil {
		return err
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.GracefulShutdownSec)*time.Second)
	defer cancel()

	server.closeEventStreams()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// configureLogger applies the configured level. -verbose forces debug.
func configureLogger(logger *logrus.Logger, cfg *models.Config, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled")
		return
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// openStore connects to the configured backend, retrying with exponential
// backoff while it is unreachable.
func openStore(ctx context.Context, cfg models.StoreConfig, logger *logrus.Logger) (store.Store, error) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultRetryBackoffMs * time.Millisecond,
		MaxDelay:     constants.DefaultMaxBackoffMs * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultRetrySetupTries,
		Jitter:       true,
	}).OnRetry(func(attempt int, delay time.Duration, err error) {
		logger.WithError(err).WithFields(logrus.Fields{
			service.LogFieldBackend: cfg.Backend,
			service.LogFieldAttempt: attempt,
			"delay_ms":              delay.Milliseconds(),
		}).Warn("Failed to open store, retrying")
	})

	var st store.Store
	err := backoff.Retry(ctx, func() error {
		var openErr error
		st, openErr = store.New(ctx, cfg)
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store after retries: %w", cfg.Backend, err)
	}

	logger.WithField(service.LogFieldBackend, st.Backend()).Info("Message store ready")
	return st, nil
}
