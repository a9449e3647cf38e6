package service

import (
	"context"

	"wabridge/internal/tracing"

	"github.com/sirupsen/logrus"
)

// LogWithContext returns an entry carrying the request and trace ids from ctx.
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithFields(tracing.LogFields(ctx))
}
