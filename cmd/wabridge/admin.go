package main

import (
	"net/http"
	"regexp"
	"strings"

	"wabridge/internal/constants"
	apperrors "wabridge/internal/errors"
	"wabridge/internal/privacy"
	"wabridge/internal/service"

	"github.com/sirupsen/logrus"
)

var graphVersionPattern = regexp.MustCompile(`^v\d{1,3}\.\d{1,2}$`)

// adminConfigRequest carries remote credential overrides. Empty fields are
// left unchanged.
type adminConfigRequest struct {
	AccessToken   string `json:"access_token"`
	PhoneNumberID string `json:"phone_number_id"`
	GraphVersion  string `json:"graph_version"`
}

// handleGetAdminConfig shows the effective credentials and where each came
// from. The token is never returned in full.
func (s *Server) handleGetAdminConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds := s.deps.Credentials.Lookup(r.Context())
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"ok":              true,
			"access_token":    nullable(privacy.MaskToken(creds.AccessToken)),
			"phone_number_id": nullable(creds.PhoneNumberID),
			"graph_version":   creds.Version,
			"sources": map[string]service.Source{
				"access_token":    creds.TokenSource,
				"phone_number_id": creds.PhoneSource,
				"graph_version":   creds.VersionSource,
			},
			"backend": s.deps.Store.Backend(),
		})
	}
}

// handleSetAdminConfig stores credential overrides. Configured values still
// take priority over anything stored here.
func (s *Server) handleSetAdminConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adminConfigRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		updates := []struct{ key, value string }{
			{constants.SettingAccessToken, strings.TrimSpace(req.AccessToken)},
			{constants.SettingPhoneNumberID, strings.TrimSpace(req.PhoneNumberID)},
			{constants.SettingGraphVersion, strings.TrimSpace(req.GraphVersion)},
		}

		var updated []string
		for _, u := range updates {
			if u.value != "" {
				updated = append(updated, u.key)
			}
		}
		if len(updated) == 0 {
			s.writeError(w, r, apperrors.NewValidationError("body", "missing_fields: one of access_token, phone_number_id or graph_version is required"))
			return
		}
		if v := strings.TrimSpace(req.GraphVersion); v != "" && !graphVersionPattern.MatchString(v) {
			s.writeError(w, r, apperrors.NewValidationError("graph_version", "graph_version must look like v24.0"))
			return
		}
		if v := strings.TrimSpace(req.PhoneNumberID); v != "" && strings.Trim(v, "0123456789") != "" {
			s.writeError(w, r, apperrors.NewValidationError("phone_number_id", "phone_number_id must be numeric"))
			return
		}

		for _, u := range updates {
			if u.value == "" {
				continue
			}
			if err := s.deps.Store.SetSetting(r.Context(), u.key, u.value); err != nil {
				s.writeError(w, r, apperrors.NewStoreError("set_setting", err))
				return
			}
		}

		creds := s.deps.Credentials.Lookup(r.Context())
		service.LogWithContext(r.Context(), s.logger).WithFields(logrus.Fields{
			"updated":      updated,
			"token_source": creds.TokenSource,
			"phone_source": creds.PhoneSource,
		}).Info("Credential overrides stored")

		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"updated": updated,
			"backend": s.deps.Store.Backend(),
		})
	}
}
