package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode is the machine-readable error identifier returned to API callers.
type ErrorCode string

const (
	// Request errors
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"
	ErrCodeInvalidParams    ErrorCode = "invalid_params"
	ErrCodeUnauthorized     ErrorCode = "unauthorized"
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeRateLimited      ErrorCode = "rate_limited"

	// Configuration errors
	ErrCodeNotConfigured ErrorCode = "not_configured"

	// Provider errors
	ErrCodeProviderRejected ErrorCode = "provider_rejected"
	ErrCodeTimeout          ErrorCode = "timeout"

	// Ingestion and storage errors
	ErrCodeNormalizationPartialFailure ErrorCode = "normalization_partial_failure"
	ErrCodeStoreUnavailable            ErrorCode = "store_unavailable"

	ErrCodeInternal ErrorCode = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Retryable   bool                   `json:"retryable"`
	UserMessage string                 `json:"user_message,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the message shown to API callers
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapRetryable wraps an error and marks it as retryable
func WrapRetryable(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if appErr, ok := As(err); ok {
		return appErr.Retryable
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// GetUserMessage extracts a caller-facing message from an error
func GetUserMessage(err error) string {
	if appErr, ok := As(err); ok {
		if appErr.UserMessage != "" {
			return appErr.UserMessage
		}
		return appErr.Message
	}
	return "An internal error occurred"
}
