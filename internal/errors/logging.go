package errors

import (
	"github.com/sirupsen/logrus"
)

// Fields returns the structured log fields carried by err.
func Fields(err error) logrus.Fields {
	fields := logrus.Fields{}
	appErr, ok := As(err)
	if !ok {
		return fields
	}
	fields["error_code"] = appErr.Code
	fields["retryable"] = appErr.Retryable
	for k, v := range appErr.Context {
		// previous attempts are logged by the send pipeline itself
		if k == "previous_error" || k == "template_error" {
			continue
		}
		fields[k] = v
	}
	return fields
}

// Entry attaches err and its structured context to a log entry.
func Entry(logger logrus.FieldLogger, err error) *logrus.Entry {
	return logger.WithError(err).WithFields(Fields(err))
}

// LogRetryable logs retryable errors at warn level and others at error level.
func LogRetryable(logger logrus.FieldLogger, err error, message string) {
	entry := Entry(logger, err)
	if IsRetryable(err) {
		entry.Warn(message)
		return
	}
	entry.Error(message)
}
