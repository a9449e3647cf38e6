package constants

// Server defaults
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultMaxWebhookBodyBytes   = 5 << 20
	DefaultMaxUploadBytes        = 64 << 20
	DefaultWebhookRatePerMinute  = 600
	DefaultSendRatePerMinute     = 60
	DefaultRateLimiterTTLMinutes = 10
)

// Graph API defaults
const (
	DefaultGraphBaseURL            = "https://graph.facebook.com"
	DefaultGraphVersion            = "v24.0"
	DefaultGraphTimeoutSec         = 10
	DefaultTemplateName            = "business_intro_v1"
	DefaultTemplateLanguage        = "en_US"
	FallbackTemplateLanguage       = "en_US"
	AutoLanguage                   = "auto"
	DefaultBreakerMaxFailures      = 5
	DefaultBreakerResetTimeoutSec  = 30
	DefaultMaxProviderBodyBytes    = 1 << 20
	DefaultMediaDownloadTimeoutSec = 60
)

// Store defaults
const (
	StoreBackendMemory     = "memory"
	StoreBackendSQLite     = "sqlite"
	StoreBackendRedis      = "redis"
	DefaultKeyPrefix       = "wa:"
	DefaultListLimit       = 100
	MaxListLimit           = 500
	DefaultRetrySetupTries = 5
	DefaultRetryBackoffMs  = 500
	DefaultMaxBackoffMs    = 5000
	DefaultStoreRetries    = 3
)

// Remote credential override keys
const (
	SettingAccessToken   = "access_token"
	SettingPhoneNumberID = "phone_number_id"
	SettingGraphVersion  = "graph_version"
)

// Retention defaults
const (
	DefaultRetentionSchedule = "0 3 * * *"
	RetentionCheckInterval   = 60
)

// Encryption at rest
const (
	EncryptionSalt          = "wabridge-store-v1"
	MinEncryptionSecretLen  = 32
	EncryptionKeySize       = 32
	EncryptionNonceSize     = 12
	EncryptionKDFIterations = 100000
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)

// Validation limits
const (
	MaxMessageIDLength = 256
	MaxTextLength      = 4096
	MinPhoneDigits     = 7
	MaxPhoneDigits     = 15
	MinWebhookSecret   = 16
)
