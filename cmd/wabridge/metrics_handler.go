package main

import (
	"net/http"

	"wabridge/internal/metrics"
	"wabridge/internal/models"
	"wabridge/internal/service"
)

// handleMetrics refreshes the store gauges and serves the prometheus
// exposition format.
func (s *Server) handleMetrics() http.Handler {
	exposition := metrics.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := service.LogWithContext(r.Context(), s.logger).WithField(service.LogFieldEndpoint, "/metrics")

		counts, err := s.deps.Store.Counts(r.Context())
		if err != nil {
			logger.WithError(err).Warn("Failed to read message counts for metrics")
		} else {
			for _, status := range []models.Status{models.StatusPending, models.StatusProcessed} {
				metrics.SetGauge("messages", float64(counts[status]), map[string]string{
					"status":  string(status),
					"backend": s.deps.Store.Backend(),
				}, "Stored messages by queue status")
			}
		}

		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		exposition.ServeHTTP(w, r)
		logger.Debug("Metrics endpoint served")
	})
}
