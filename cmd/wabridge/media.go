package main

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"wabridge/internal/constants"
	apperrors "wabridge/internal/errors"
	"wabridge/internal/privacy"
	"wabridge/internal/service"
	"wabridge/internal/validation"

	"github.com/gorilla/mux"
)

// multipartOverhead is the allowance for multipart framing on top of the
// largest permitted file.
const multipartOverhead = 1 << 20

// handleMediaDownload streams provider media to the caller with the
// provider's content type.
func (s *Server) handleMediaDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := validation.ValidateMessageID(id); err != nil {
			s.writeError(w, r, err)
			return
		}

		dl, err := s.deps.Media.Download(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer dl.Body.Close()

		// Large media outlives the server write timeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		if dl.ContentType != "" {
			w.Header().Set("Content-Type", dl.ContentType)
		} else {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		if dl.ContentLength > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(dl.ContentLength, 10))
		}
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": dl.Filename}))
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.WriteHeader(http.StatusOK)

		n, err := io.Copy(w, dl.Body)
		if err != nil {
			service.LogWithContext(r.Context(), s.logger).WithError(err).
				WithField(service.LogFieldMediaID, privacy.MaskMessageID(id)).
				WithField(service.LogFieldSize, n).
				Warn("Media stream interrupted")
		}
	}
}

// handleMediaUpload reads the "file" part of a multipart body and forwards
// it to the Graph media endpoint without buffering the whole file.
func (s *Server) handleMediaUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxBytes := s.cfg.Server.MaxUploadBytes
		if maxBytes <= 0 {
			maxBytes = constants.DefaultMaxUploadBytes
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

		reader, err := r.MultipartReader()
		if err != nil {
			s.writeError(w, r, apperrors.NewValidationError("file", "multipart/form-data body required"))
			return
		}

		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				s.writeError(w, r, uploadReadError(err))
				return
			}
			if part.FormName() != "file" {
				_ = part.Close()
				continue
			}

			_ = http.NewResponseController(w).SetReadDeadline(time.Time{})
			id, err := s.deps.Media.Upload(r.Context(), part.FileName(), part.Header.Get("Content-Type"), part)
			_ = part.Close()
			if err != nil {
				s.writeError(w, r, uploadReadError(err))
				return
			}
			s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"ok": true, "id": id})
			return
		}

		s.writeError(w, r, apperrors.NewValidationError("file", "file part is required"))
	}
}

func uploadReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.NewValidationError("file", "upload too large")
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.NewValidationError("file", "malformed multipart body")
}
