package service

// Logging Standards for wabridge
//
// Standard field names, shared by the service, webhook and server packages.
// Phone numbers and message ids go through internal/privacy before they are
// attached to an entry.

// Standard Field Names
const (
	// Core identifiers
	LogFieldMessageID = "message_id"
	LogFieldFrom      = "from"
	LogFieldTo        = "to"
	LogFieldMediaID   = "media_id"
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldBackend   = "backend"

	// Message and event fields
	LogFieldEvent          = "event"
	LogFieldMessageType    = "message_type"
	LogFieldStatus         = "status"
	LogFieldDeliveryStatus = "delivery_status"
	LogFieldDirection      = "direction" // "incoming" or "outgoing"

	// Send pipeline
	LogFieldMode     = "mode"
	LogFieldLanguage = "language"
	LogFieldTemplate = "template"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: raw provider payloads (masked), per-attempt send details.
// INFO:  startup and shutdown, stored messages, successful sends, acks.
// WARN:  send fallbacks taken, partial normalization failures, rate limiting,
//        unsigned webhooks accepted.
// ERROR: store failures during ingestion, final send failures, retention errors.
// FATAL: configuration required for startup is missing.

// Standard Log Message Patterns
//
// Starting operations:  "Starting [operation]"
// Completed operations: "[Operation] completed"
// Failed operations:    "Failed to [operation]"
// Fallbacks:            "Falling back to [mode]"
// Skipping operations:  "Skipping [operation]: [reason]"
