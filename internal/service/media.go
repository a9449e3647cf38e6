package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	apperrors "wabridge/internal/errors"
	"wabridge/internal/media"
	"wabridge/internal/metrics"
	"wabridge/internal/privacy"
	"wabridge/pkg/graph"

	"github.com/sirupsen/logrus"
)

// MediaDownload is an open media stream plus the name it should be served as.
type MediaDownload struct {
	*graph.MediaDownload
	Filename string
}

// MediaService proxies media between API callers and the Graph API using the
// effective credentials.
type MediaService struct {
	client graph.Client
	creds  *CredentialResolver
	router *media.Router
	logger *logrus.Logger
}

func NewMediaService(client graph.Client, creds *CredentialResolver, router *media.Router, logger *logrus.Logger) *MediaService {
	return &MediaService{client: client, creds: creds, router: router, logger: logger}
}

// Download resolves a media id to its URL and opens the binary stream. The
// caller closes the returned body.
func (s *MediaService) Download(ctx context.Context, mediaID string) (*MediaDownload, error) {
	if mediaID == "" {
		return nil, apperrors.NewValidationError("id", "media id is required")
	}
	creds, err := s.creds.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	logger := LogWithContext(ctx, s.logger).WithField(LogFieldMediaID, privacy.MaskMessageID(mediaID))
	start := time.Now()

	info, err := s.client.GetMedia(ctx, creds.Credentials, mediaID)
	if err != nil {
		logger.WithError(err).Warn("Failed to resolve media")
		s.observe("download", err)
		return nil, err
	}

	stream, err := s.client.DownloadMedia(ctx, creds.Credentials, info.URL)
	s.observe("download", err)
	if err != nil {
		logger.WithError(err).Warn("Failed to download media")
		return nil, err
	}
	if info.MimeType != "" {
		stream.ContentType = info.MimeType
	}

	logger.WithFields(logrus.Fields{
		LogFieldDuration: time.Since(start).Milliseconds(),
		LogFieldSize:     stream.ContentLength,
	}).Debug("Media stream opened")
	return &MediaDownload{
		MediaDownload: stream,
		Filename:      mediaID + media.ExtensionFor(stream.ContentType),
	}, nil
}

// Upload sends content to the Graph media endpoint and returns the new media id.
func (s *MediaService) Upload(ctx context.Context, filename, declaredType string, content io.Reader) (string, error) {
	creds, err := s.creds.Resolve(ctx)
	if err != nil {
		return "", err
	}

	buffered := bufio.NewReaderSize(content, 512)
	head, _ := buffered.Peek(512)
	detected := s.router.Detect(filename, declaredType, head)
	limit := s.router.MaxSize(detected.Type)

	limited := &limitReader{r: buffered, remaining: limit}
	id, err := s.client.UploadMedia(ctx, creds.Credentials, filename, detected.MimeType, limited)
	if limited.exceeded {
		err = apperrors.NewValidationError("file", fmt.Sprintf("%s uploads are limited to %d bytes", detected.Type, limit))
	}
	s.observe("upload", err)
	if err != nil {
		LogWithContext(ctx, s.logger).WithError(err).WithField(LogFieldMessageType, detected.Type).Warn("Failed to upload media")
		return "", err
	}

	LogWithContext(ctx, s.logger).WithFields(logrus.Fields{
		LogFieldMediaID:     privacy.MaskMessageID(id),
		LogFieldMessageType: detected.Type,
	}).Info("Media uploaded")
	return id, nil
}

func (s *MediaService) observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.GetCode(err))
	}
	metrics.IncrementCounter("media_operations_total", map[string]string{
		"operation": operation,
		"outcome":   outcome,
	}, "Media proxy operations")
}

// limitReader fails once more than remaining bytes are read.
type limitReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, fmt.Errorf("upload exceeds size limit")
	}
	return n, err
}
