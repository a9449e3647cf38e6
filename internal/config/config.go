package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"wabridge/internal/constants"
	"wabridge/internal/models"
	"wabridge/internal/security"
	"wabridge/internal/validation"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrUnsignedWebhooks = models.ConfigError{Message: "whatsapp.app_secret is empty: set WHATSAPP_APP_SECRET or explicitly opt in with WHATSAPP_ALLOW_UNSIGNED_WEBHOOKS=true"}
	ErrUnsignedInProd   = models.ConfigError{Message: "unsigned webhooks are not allowed in production"}
	ErrWeakAppSecret    = models.ConfigError{Message: fmt.Sprintf("whatsapp.app_secret must be at least %d characters long", constants.MinWebhookSecret)}
	ErrDebugInProd      = models.ConfigError{Message: "debug logging should not be used in production"}
)

// Aliases read when the primary variable is unset.
var envAliases = []struct {
	primary, alias string
}{
	{"WHATSAPP_TOKEN", "WHATSAPP_ACCESS_TOKEN"},
	{"WHATSAPP_WEBHOOK_VERIFY_TOKEN", "WHATSAPP_VERIFY_TOKEN"},
	{"WHATSAPP_PHONE_NUMBER_ID", "WHATSAPP_PHONE_ID"},
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads the optional JSON file at path, applies environment
// overrides, fills defaults and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	cfg := &models.Config{}

	if path != "" {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}

		data, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvironmentOverrides(cfg *models.Config) error {
	environment := env.ToMap(os.Environ())
	for _, a := range envAliases {
		if environment[a.primary] == "" && environment[a.alias] != "" {
			environment[a.primary] = environment[a.alias]
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Environment: environment}); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	s := &c.Server
	if s.Port == 0 {
		s.Port = constants.DefaultServerPort
	}
	if s.ReadTimeoutSec <= 0 {
		s.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if s.WriteTimeoutSec <= 0 {
		s.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if s.IdleTimeoutSec <= 0 {
		s.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if len(s.CORSAllowedOrigins) == 0 {
		s.CORSAllowedOrigins = []string{"*"}
	}
	if s.WebhookRatePerMinute == 0 {
		s.WebhookRatePerMinute = constants.DefaultWebhookRatePerMinute
	}
	if s.SendRatePerMinute == 0 {
		s.SendRatePerMinute = constants.DefaultSendRatePerMinute
	}
	if s.MaxWebhookBodyBytes <= 0 {
		s.MaxWebhookBodyBytes = constants.DefaultMaxWebhookBodyBytes
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = constants.DefaultMaxUploadBytes
	}
	if s.GracefulShutdownSec <= 0 {
		s.GracefulShutdownSec = constants.DefaultGracefulShutdownSec
	}
	if s.EventStreamBufferSize <= 0 {
		s.EventStreamBufferSize = 32
	}

	w := &c.WhatsApp
	if w.GraphBaseURL == "" {
		w.GraphBaseURL = constants.DefaultGraphBaseURL
	}
	w.GraphBaseURL = strings.TrimRight(w.GraphBaseURL, "/")
	// GraphVersion stays empty here so a remotely stored override can still apply.
	if w.DefaultTemplateName == "" {
		w.DefaultTemplateName = constants.DefaultTemplateName
	}
	if w.DefaultTemplateLanguage == "" || w.DefaultTemplateLanguage == constants.AutoLanguage {
		w.DefaultTemplateLanguage = constants.DefaultTemplateLanguage
	}
	if w.TemplateNames == nil {
		w.TemplateNames = models.TemplateMap{}
	}
	if w.TimeoutSec <= 0 {
		w.TimeoutSec = constants.DefaultGraphTimeoutSec
	}

	st := &c.Store
	st.Backend = strings.ToLower(strings.TrimSpace(st.Backend))
	if st.Backend == "" {
		switch {
		case st.RedisURL != "":
			st.Backend = constants.StoreBackendRedis
		case st.SQLitePath != "":
			st.Backend = constants.StoreBackendSQLite
		default:
			st.Backend = constants.StoreBackendMemory
		}
	}
	if st.KeyPrefix == "" {
		st.KeyPrefix = constants.DefaultKeyPrefix
	}

	if c.Retention.Schedule == "" {
		c.Retention.Schedule = constants.DefaultRetentionSchedule
	}
}

// Validate checks a fully loaded configuration.
func Validate(c *models.Config) error {
	if err := validation.ValidateNumericRange(c.Server.Port, "server.port", 1, 65535); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("server.port %d out of range", c.Server.Port)}
	}
	if err := validation.ValidateNumericRange(c.WhatsApp.TimeoutSec, "whatsapp.timeout_sec", 1, 120); err != nil {
		return models.ConfigError{Message: "whatsapp.timeout_sec must be between 1 and 120"}
	}
	if !validation.IsLanguageCode(c.WhatsApp.DefaultTemplateLanguage) {
		return models.ConfigError{Message: fmt.Sprintf("invalid default template language %q", c.WhatsApp.DefaultTemplateLanguage)}
	}
	for lang, name := range c.WhatsApp.TemplateNames {
		if !validation.IsLanguageCode(lang) || name == "" {
			return models.ConfigError{Message: fmt.Sprintf("invalid template map entry %q=%q", lang, name)}
		}
	}

	switch c.Store.Backend {
	case constants.StoreBackendMemory:
	case constants.StoreBackendSQLite:
		if c.Store.SQLitePath == "" {
			return models.ConfigError{Message: "store.sqlite_path is required for the sqlite backend"}
		}
	case constants.StoreBackendRedis:
		if c.Store.RedisURL == "" {
			return models.ConfigError{Message: "store.redis_url is required for the redis backend"}
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown store backend %q", c.Store.Backend)}
	}
	if c.Store.EncryptAtRest && len(c.Store.EncryptionSecret) < constants.MinEncryptionSecretLen {
		return models.ConfigError{Message: fmt.Sprintf("WABRIDGE_ENCRYPTION_SECRET must be at least %d characters when encryption is enabled", constants.MinEncryptionSecretLen)}
	}

	if c.Retention.Enabled() && !gronx.New().IsValid(c.Retention.Schedule) {
		return models.ConfigError{Message: fmt.Sprintf("invalid retention schedule %q", c.Retention.Schedule)}
	}

	return validateSecurity(c)
}

// validateSecurity enforces the webhook signature policy. Running without an
// app secret is only possible as an explicit opt-in outside production.
func validateSecurity(c *models.Config) error {
	if c.WhatsApp.AppSecret == "" {
		if c.IsProduction() {
			return ErrUnsignedInProd
		}
		if !c.WhatsApp.AllowUnsignedWebhooks {
			return ErrUnsignedWebhooks
		}
	} else if c.IsProduction() && len(c.WhatsApp.AppSecret) < constants.MinWebhookSecret {
		return ErrWeakAppSecret
	}

	if c.IsProduction() && strings.EqualFold(c.LogLevel, "debug") {
		return ErrDebugInProd
	}
	return nil
}
