// Package validation checks API input. Struct rules are declared with
// validator/v10 tags; the standalone helpers cover path and query values.
package validation

import (
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"wabridge/internal/constants"
	"wabridge/internal/errors"

	"github.com/go-playground/validator/v10"
)

var languageCodePattern = regexp.MustCompile(`^[a-z]{2,3}(_[A-Z]{2})?$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return ValidatePhoneNumber(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("language", func(fl validator.FieldLevel) bool {
		return ValidateLanguage(fl.Field().String()) == nil
	})
	return v
}

// Struct validates s against its validate tags and returns the first
// failure as an invalid_params error naming the JSON field.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return errors.Wrap(err, errors.ErrCodeInvalidParams, "invalid request")
	}
	fe := fieldErrs[0]
	return errors.NewValidationError(fe.Field(), describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "phone":
		return fmt.Sprintf("must be %d to %d digits with an optional leading +", constants.MinPhoneDigits, constants.MaxPhoneDigits)
	case "language":
		return "must be a language code such as en_US, or auto"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// ValidatePhoneNumber validates a recipient in international digits-only form.
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.NewValidationError("to", "phone number cannot be empty")
	}

	cleaned := strings.TrimPrefix(strings.TrimSpace(phone), "+")

	if len(cleaned) < constants.MinPhoneDigits {
		return errors.NewValidationError("to", fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneDigits))
	}
	if len(cleaned) > constants.MaxPhoneDigits {
		return errors.NewValidationError("to", fmt.Sprintf("phone number too long (max %d digits)", constants.MaxPhoneDigits))
	}

	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.NewValidationError("to", "phone number must contain only digits")
		}
	}

	return nil
}

// ValidateMessageID validates a message id taken from a URL path.
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.NewValidationError("id", "message ID cannot be empty")
	}

	if len(messageID) > constants.MaxMessageIDLength {
		return errors.NewValidationError("id", fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	for _, char := range messageID {
		if unicode.IsControl(char) {
			return errors.NewValidationError("id", "message ID contains invalid characters")
		}
	}

	return nil
}

// ValidateLanguage accepts "", "auto" and codes such as en, pt_BR or fil_PH.
func ValidateLanguage(code string) error {
	if code == "" || strings.EqualFold(code, constants.AutoLanguage) {
		return nil
	}
	if !IsLanguageCode(code) {
		return errors.NewValidationError("language", fmt.Sprintf("invalid language code %q", code))
	}
	return nil
}

// IsLanguageCode reports whether code has the provider's locale form.
func IsLanguageCode(code string) bool {
	return languageCodePattern.MatchString(code)
}

// ValidateStatus parses the status query parameter; empty means pending.
func ValidateStatus(status string) (string, error) {
	switch status {
	case "":
		return "pending", nil
	case "pending", "processed":
		return status, nil
	default:
		return "", errors.NewValidationError("status", "must be pending or processed")
	}
}

// ValidateHTTPRequestSize rejects requests that declare a body over the limit.
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.NewValidationError("body", fmt.Sprintf("request body too large (max %d bytes)", maxSizeBytes))
	}
	return nil
}

// ValidateNumericRange validates that a numeric value is within bounds.
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.NewValidationError(fieldName, fmt.Sprintf("must be at least %d", min))
	}
	if value > max {
		return errors.NewValidationError(fieldName, fmt.Sprintf("must be at most %d", max))
	}
	return nil
}
