package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "wabridge/internal/errors"
	"wabridge/internal/features"
	"wabridge/internal/httputil"
	"wabridge/internal/models"
	"wabridge/internal/privacy"
	"wabridge/internal/service"
	"wabridge/internal/store"
	"wabridge/internal/validation"
	"wabridge/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// maxJSONBodyBytes bounds JSON request bodies on the API endpoints.
const maxJSONBodyBytes = 64 << 10

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	if err := httputil.WriteJSON(w, status, v); err != nil {
		service.LogWithContext(r.Context(), s.logger).WithError(err).Debug("Failed to write response")
	}
}

// writeError logs err and renders it as the JSON failure body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	entry := service.LogWithContext(r.Context(), s.logger).WithError(err).WithFields(logrus.Fields{
		service.LogFieldEndpoint:   r.URL.Path,
		service.LogFieldErrorCode:  apperrors.GetCode(err),
		service.LogFieldStatusCode: status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	apperrors.WriteJSON(w, err)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, maxJSONBodyBytes); err != nil {
		return err
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.NewValidationError("body", "request body too large")
		}
		if errors.Is(err, io.EOF) {
			return apperrors.NewValidationError("body", "request body is empty")
		}
		return apperrors.NewValidationError("body", "invalid JSON body")
	}
	return nil
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, apperrors.NewNotFoundError("route", r.URL.Path))
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusMethodNotAllowed, map[string]interface{}{
		"ok":    false,
		"error": "method_not_allowed",
	})
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		status, err := validation.ValidateStatus(q.Get("status"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		limit := 0
		if raw := q.Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil {
				s.writeError(w, r, apperrors.NewValidationError("limit", "limit must be an integer"))
				return
			}
		}

		msgs, err := s.deps.Store.ListMessages(r.Context(), models.Status(status), store.ClampLimit(limit))
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreError("list_messages", err))
			return
		}
		if msgs == nil {
			msgs = []*models.Message{}
		}
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"ok": true, "data": msgs})
	}
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateMessageID(id); err != nil {
			s.writeError(w, r, err)
			return
		}

		msg, found, err := s.deps.Store.GetMessage(r.Context(), id)
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreError("get_message", err))
			return
		}
		if !found {
			s.writeError(w, r, apperrors.NewNotFoundError("message", id))
			return
		}
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"ok": true, "data": msg})
	}
}

// handleAck marks a pending message processed. Unknown and already
// processed ids answer 200 with processed=false.
func (s *Server) handleAck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateMessageID(id); err != nil {
			s.writeError(w, r, err)
			return
		}

		processed, err := s.deps.Store.MarkProcessed(r.Context(), id)
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreError("mark_processed", err))
			return
		}

		service.LogWithContext(r.Context(), s.logger).WithFields(logrus.Fields{
			service.LogFieldMessageID: privacy.MaskMessageID(id),
			"processed":               processed,
		}).Info("Message acknowledged")
		if processed {
			s.deps.Hub.Publish(webhook.EventAck, map[string]string{"id": id})
		}

		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"ok":        true,
			"id":        id,
			"processed": processed,
		})
	}
}

func (s *Server) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SendRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.Struct(req); err != nil {
			s.writeError(w, r, err)
			return
		}

		result, err := s.deps.Sender.Send(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp := map[string]interface{}{
			"ok":   true,
			"mode": result.Mode,
			"data": result.Data,
		}
		if result.Language != "" {
			resp["language"] = result.Language
		}
		if result.Template != "" {
			resp["template"] = result.Template
		}
		if result.MessageID != "" {
			resp["message_id"] = result.MessageID
		}
		if result.PreviousError != nil {
			resp["previous_error"] = result.PreviousError
		}
		s.writeJSON(w, r, http.StatusOK, resp)
	}
}

func (s *Server) handleGetState() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := s.deps.Store.GetState(r.Context())
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreError("get_state", err))
			return
		}
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"ok": true, "data": state})
	}
}

func (s *Server) handleSetState() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch models.StatePatch
		if err := decodeJSON(w, r, &patch); err != nil {
			s.writeError(w, r, err)
			return
		}
		if patch.Closed == nil {
			s.writeError(w, r, apperrors.NewValidationError("closed", "closed is required"))
			return
		}

		state, err := s.deps.Store.SetState(r.Context(), patch)
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreError("set_state", err))
			return
		}

		service.LogWithContext(r.Context(), s.logger).WithField("closed", state.Closed).Info("State updated")
		s.deps.Hub.Publish(webhook.EventState, state)
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"ok": true, "data": state})
	}
}

func (s *Server) handlePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"service": "wabridge",
			"version": Version,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// handleHealth reports store reachability and whether sends are possible.
// With debug=1 and the admin secret it adds credential details.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := http.StatusOK
		storeState := "ok"
		if err := s.deps.Store.Ping(ctx); err != nil {
			service.LogWithContext(ctx, s.logger).WithError(err).Warn("Health check: store unreachable")
			status = http.StatusServiceUnavailable
			storeState = "unavailable"
		}

		if r.Method == http.MethodHead {
			w.WriteHeader(status)
			return
		}

		creds := s.deps.Credentials.Lookup(ctx)
		resp := map[string]interface{}{
			"ok":         status == http.StatusOK,
			"backend":    s.deps.Store.Backend(),
			"store":      storeState,
			"configured": creds.AccessToken != "" && creds.PhoneNumberID != "",
		}

		if r.URL.Query().Get("debug") == "1" && s.deps.Flags.IsEnabled(features.FlagHealthDebug) && isAdmin(r, s.cfg.AdminSecret) {
			debug := map[string]interface{}{
				"token_suffix":    nullable(privacy.TokenSuffix(creds.AccessToken, 8)),
				"token_source":    creds.TokenSource,
				"phone_number_id": nullable(creds.PhoneNumberID),
				"phone_source":    creds.PhoneSource,
				"graph_version":   creds.Version,
				"version_source":  creds.VersionSource,
				"subscribers":     s.deps.Hub.Subscribers(),
				"uptime_seconds":  int64(time.Since(startTime).Seconds()),
				"features":        s.deps.Flags.Snapshot(),
			}
			if s.deps.Breaker != nil {
				stats := s.deps.Breaker.BreakerStats()
				debug["circuit_breaker"] = map[string]interface{}{
					"state":    strings.ToLower(stats.State.String()),
					"failures": stats.Failures,
					"requests": stats.Requests,
					"rejected": stats.Rejected,
				}
			}
			if counts, err := s.deps.Store.Counts(ctx); err == nil {
				debug["messages"] = counts
			}
			resp["debug"] = debug
		}

		w.Header().Set("Cache-Control", "no-store")
		s.writeJSON(w, r, status, resp)
	}
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
