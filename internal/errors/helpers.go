package errors

import (
	"fmt"
	"net/http"
)

// NewInvalidSignatureError is returned when a webhook body fails HMAC verification.
func NewInvalidSignatureError(reason string) *AppError {
	return New(ErrCodeInvalidSignature, "webhook signature verification failed").
		WithContext("reason", reason).
		WithUserMessage("invalid signature")
}

// NewValidationError creates a parameter error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeInvalidParams, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("invalid %s: %s", field, message))
}

// NewConfigError reports a missing or invalid configuration value.
// Configuration errors are never retried.
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeNotConfigured, message).
		WithContext("config_key", key).
		WithUserMessage(message)
}

// NewStoreError wraps a backend failure.
func NewStoreError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeStoreUnavailable, fmt.Sprintf("store %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("message store unavailable")
}

// ProviderError carries a non-2xx provider response.
type ProviderError struct {
	Status   int         `json:"status"`
	Response interface{} `json:"response"`
}

// NewProviderError creates a provider_rejected error. 5xx, 429 and 408 are
// marked retryable so the circuit breaker can count them.
func NewProviderError(endpoint string, status int, response interface{}) *AppError {
	appErr := New(ErrCodeProviderRejected, fmt.Sprintf("provider rejected request with status %d", status)).
		WithContext("endpoint", endpoint).
		WithContext("status", status).
		WithContext("response", response).
		WithUserMessage("provider rejected the request")
	appErr.Retryable = status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
	return appErr
}

// ProviderDetail extracts status and response from a provider_rejected error.
func ProviderDetail(err error) (ProviderError, bool) {
	appErr, ok := As(err)
	if !ok || appErr.Code != ErrCodeProviderRejected {
		return ProviderError{}, false
	}
	detail := ProviderError{Response: appErr.Context["response"]}
	if status, ok := appErr.Context["status"].(int); ok {
		detail.Status = status
	}
	return detail, true
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	appErr := New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("provider call timed out")
	appErr.Retryable = true
	return appErr
}

// NewAuthError reports a missing or wrong admin secret.
func NewAuthError(reason string) *AppError {
	return New(ErrCodeUnauthorized, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("unauthorized")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit int, window string) *AppError {
	return New(ErrCodeRateLimited, "rate limit exceeded").
		WithContext("limit", limit).
		WithContext("window", window).
		WithUserMessage("too many requests, please try again later")
}

// NewPartialFailure marks a single inbound message that could not be normalized.
func NewPartialFailure(index int, reason string) *AppError {
	return New(ErrCodeNormalizationPartialFailure, reason).
		WithContext("index", index)
}

// HTTPStatusCode maps error codes to HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidParams:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeInvalidSignature:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeProviderRejected:
		if detail, ok := ProviderDetail(err); ok && detail.Status >= 400 && detail.Status < 600 {
			return detail.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
