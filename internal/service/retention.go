package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wabridge/internal/constants"
	"wabridge/internal/metrics"
	"wabridge/internal/models"

	"github.com/adhocore/gronx"
	"github.com/sirupsen/logrus"
)

// Pruner is the part of the store retention needs.
type Pruner interface {
	PruneProcessed(ctx context.Context, before time.Time) (int, error)
}

// RetentionScheduler prunes processed messages older than the configured age
// on a cron schedule. Pending messages are never touched.
type RetentionScheduler struct {
	store    Pruner
	schedule string
	maxAge   time.Duration
	logger   *logrus.Logger
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewRetentionScheduler(store Pruner, cfg models.RetentionConfig, logger *logrus.Logger) (*RetentionScheduler, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = constants.DefaultRetentionSchedule
	}
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("invalid retention schedule %q", schedule)
	}
	return &RetentionScheduler{
		store:    store,
		schedule: schedule,
		maxAge:   time.Duration(cfg.ProcessedMaxAgeHours) * time.Hour,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start blocks until ctx is cancelled or Stop is called.
func (s *RetentionScheduler) Start(ctx context.Context) {
	logger := s.logger.WithFields(logrus.Fields{
		LogFieldComponent: "retention",
		"schedule":        s.schedule,
		"max_age":         s.maxAge.String(),
	})
	logger.Info("Starting retention scheduler")

	for {
		wait := time.Duration(constants.RetentionCheckInterval) * time.Second
		next, err := gronx.NextTickAfter(s.schedule, s.now().UTC(), false)
		if err != nil {
			logger.WithError(err).Error("Failed to compute next retention run")
		} else if d := next.Sub(s.now()); d > 0 {
			wait = d
		} else {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Retention scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			timer.Stop()
			logger.Info("Retention scheduler stop signal received, stopping")
			return
		case <-timer.C:
			if err == nil {
				if _, runErr := s.RunOnce(ctx); runErr != nil {
					logger.WithError(runErr).Error("Failed to prune processed messages")
				}
			}
		}
	}
}

func (s *RetentionScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce prunes processed messages older than the configured age.
func (s *RetentionScheduler) RunOnce(ctx context.Context) (int, error) {
	if s.maxAge <= 0 {
		return 0, nil
	}
	start := time.Now()
	cutoff := s.now().Add(-s.maxAge)

	removed, err := s.store.PruneProcessed(ctx, cutoff)
	metrics.RecordTimer("retention_run_duration_seconds", time.Since(start), nil, "Retention run latency")
	if err != nil {
		metrics.IncrementCounter("retention_runs_total", map[string]string{"outcome": "error"}, "Retention runs")
		return 0, err
	}
	metrics.IncrementCounter("retention_runs_total", map[string]string{"outcome": "ok"}, "Retention runs")
	metrics.AddToCounter("retention_pruned_total", float64(removed), nil, "Processed messages removed by retention")

	s.logger.WithFields(logrus.Fields{
		LogFieldComponent: "retention",
		LogFieldCount:     removed,
		"cutoff":          cutoff.UTC().Format(time.RFC3339),
	}).Info("Retention run completed")
	return removed, nil
}
