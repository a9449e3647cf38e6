package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config holds the application configuration. JSON tags map the optional
// config file, env tags the environment overrides applied after it.
type Config struct {
	Environment string `json:"environment" env:"WABRIDGE_ENV"`
	LogLevel    string `json:"log_level" env:"LOG_LEVEL"`
	AdminSecret string `json:"admin_secret" env:"ADMIN_SECRET"`
	// LogVerbosePII disables masking of phone numbers and message ids in logs.
	LogVerbosePII bool            `json:"log_verbose_pii" env:"WABRIDGE_LOG_VERBOSE_PII"`
	Server        ServerConfig    `json:"server"`
	WhatsApp      WhatsAppConfig  `json:"whatsapp"`
	Store         StoreConfig     `json:"store"`
	Retention     RetentionConfig `json:"retention"`
	Tracing       TracingConfig   `json:"tracing"`
	Features      FeaturesConfig  `json:"features"`
}

// IsProduction reports whether the process runs with production safety checks.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

type ServerConfig struct {
	Port                   int      `json:"port" env:"PORT"`
	ReadTimeoutSec         int      `json:"read_timeout_sec" env:"SERVER_READ_TIMEOUT_SEC"`
	WriteTimeoutSec        int      `json:"write_timeout_sec" env:"SERVER_WRITE_TIMEOUT_SEC"`
	IdleTimeoutSec         int      `json:"idle_timeout_sec" env:"SERVER_IDLE_TIMEOUT_SEC"`
	CORSAllowedOrigins     []string `json:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	WebhookRatePerMinute   int      `json:"webhook_rate_per_minute" env:"WEBHOOK_RATE_PER_MINUTE"`
	SendRatePerMinute      int      `json:"send_rate_per_minute" env:"SEND_RATE_PER_MINUTE"`
	TrustedProxies         []string `json:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`
	MaxWebhookBodyBytes    int64    `json:"max_webhook_body_bytes" env:"MAX_WEBHOOK_BODY_BYTES"`
	MaxUploadBytes         int64    `json:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	GracefulShutdownSec    int      `json:"graceful_shutdown_sec" env:"GRACEFUL_SHUTDOWN_SEC"`
	EventStreamBufferSize  int      `json:"event_stream_buffer_size" env:"EVENT_STREAM_BUFFER_SIZE"`
	EventStreamOriginHosts []string `json:"event_stream_origin_hosts" env:"EVENT_STREAM_ORIGIN_HOSTS" envSeparator:","`
}

// WhatsAppConfig holds Cloud API credentials and send defaults.
type WhatsAppConfig struct {
	GraphBaseURL            string      `json:"graph_base_url" env:"WHATSAPP_GRAPH_BASE_URL"`
	GraphVersion            string      `json:"graph_version" env:"WHATSAPP_GRAPH_VERSION"`
	AccessToken             string      `json:"access_token" env:"WHATSAPP_TOKEN"`
	PhoneNumberID           string      `json:"phone_number_id" env:"WHATSAPP_PHONE_NUMBER_ID"`
	VerifyToken             string      `json:"verify_token" env:"WHATSAPP_WEBHOOK_VERIFY_TOKEN"`
	AppSecret               string      `json:"app_secret" env:"WHATSAPP_APP_SECRET"`
	AllowUnsignedWebhooks   bool        `json:"allow_unsigned_webhooks" env:"WHATSAPP_ALLOW_UNSIGNED_WEBHOOKS"`
	DefaultTemplateName     string      `json:"default_template_name" env:"WHATSAPP_DEFAULT_TEMPLATE_NAME"`
	DefaultTemplateLanguage string      `json:"default_template_language" env:"WHATSAPP_DEFAULT_TEMPLATE_LANG"`
	TemplateNames           TemplateMap `json:"template_names" env:"WHATSAPP_DEFAULT_TEMPLATE_MAP"`
	TimeoutSec              int         `json:"timeout_sec" env:"WHATSAPP_TIMEOUT_SEC"`
	AutoReplyText           string      `json:"auto_reply_text" env:"WHATSAPP_AUTO_REPLY_TEXT"`
}

// TemplateName returns the template configured for lang, or the default name.
func (c WhatsAppConfig) TemplateName(lang string) string {
	if name, ok := c.TemplateNames[lang]; ok && name != "" {
		return name
	}
	return c.DefaultTemplateName
}

// TemplateMap maps a language code to a template name. In the environment it
// is given as a JSON object.
type TemplateMap map[string]string

// UnmarshalText decodes a JSON object such as {"es_MX":"intro_es"}.
func (m *TemplateMap) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*m = TemplateMap{}
		return nil
	}
	decoded := map[string]string{}
	if err := json.Unmarshal(text, &decoded); err != nil {
		return fmt.Errorf("template map must be a JSON object: %w", err)
	}
	*m = decoded
	return nil
}

// UnmarshalJSON accepts the map as an object in the config file, or as a
// string holding that object.
func (m *TemplateMap) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*m = TemplateMap{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return fmt.Errorf("template map: %w", err)
		}
		return m.UnmarshalText([]byte(encoded))
	}
	decoded := map[string]string{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("template map must be a JSON object: %w", err)
	}
	*m = decoded
	return nil
}

// StoreConfig selects and configures the message store backend.
type StoreConfig struct {
	Backend          string `json:"backend" env:"STORE_BACKEND"`
	SQLitePath       string `json:"sqlite_path" env:"DB_PATH"`
	RedisURL         string `json:"redis_url" env:"REDIS_URL"`
	KeyPrefix        string `json:"key_prefix" env:"STORE_KEY_PREFIX"`
	EncryptAtRest    bool   `json:"encrypt_at_rest" env:"WABRIDGE_ENABLE_ENCRYPTION"`
	EncryptionSecret string `json:"-" env:"WABRIDGE_ENCRYPTION_SECRET"`
}

type RetentionConfig struct {
	Schedule             string `json:"schedule" env:"RETENTION_SCHEDULE"`
	ProcessedMaxAgeHours int    `json:"processed_max_age_hours" env:"RETENTION_MAX_AGE_HOURS"`
}

// Enabled reports whether processed messages are pruned at all.
func (r RetentionConfig) Enabled() bool {
	return r.ProcessedMaxAgeHours > 0
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled" env:"TRACING_ENABLED"`
	ServiceName    string  `json:"service_name" env:"OTEL_SERVICE_NAME"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRate     float64 `json:"sample_rate" env:"TRACING_SAMPLE_RATE"`
	UseConsole     bool    `json:"use_console" env:"TRACING_CONSOLE"`
}

// FeaturesConfig switches optional surfaces. Environment overrides are read
// by the features package, not by the config loader.
type FeaturesConfig struct {
	Flags      map[string]bool `json:"flags"`
	DisableAll bool            `json:"disable_all"`
}

// ConfigError is returned for invalid configuration values.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
