package main

import (
	"crypto/subtle"
	"net/http"

	apperrors "wabridge/internal/errors"
	"wabridge/internal/service"
	"wabridge/internal/tracing"

	"github.com/sirupsen/logrus"
)

// AdminSecretHeader carries the shared secret for admin endpoints.
const AdminSecretHeader = "X-Admin-Secret"

// isAdmin reports whether r carries the configured admin secret. Without a
// configured secret nobody is an admin.
func isAdmin(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	given := r.Header.Get(AdminSecretHeader)
	return subtle.ConstantTimeCompare([]byte(given), []byte(secret)) == 1
}

// requireAdmin rejects requests without the admin secret with 401.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(r, s.cfg.AdminSecret) {
			reason := "invalid admin secret"
			if s.cfg.AdminSecret == "" {
				reason = "admin secret not configured"
			}
			service.LogWithContext(r.Context(), s.logger).WithFields(logrus.Fields{
				service.LogFieldEndpoint: r.URL.Path,
				service.LogFieldRemoteIP: s.ips.ClientIP(r),
			}).Warn("Rejected admin request: " + reason)
			tracing.RecordError(r.Context(), apperrors.NewAuthError(reason))
			apperrors.WriteJSON(w, apperrors.NewAuthError(reason))
			return
		}
		next(w, r)
	}
}
