package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	apperrors "wabridge/internal/errors"
	"wabridge/internal/media"
	"wabridge/pkg/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMediaService(client *mockGraphClient, maxUpload int64) *MediaService {
	cfg := testWhatsAppConfig()
	return NewMediaService(client, NewCredentialResolver(cfg, nil, quietLogger()), media.NewRouter(maxUpload), quietLogger())
}

func TestMediaDownload(t *testing.T) {
	client := &mockGraphClient{}
	svc := newMediaService(client, 0)

	client.On("GetMedia", mock.Anything, mock.Anything, "media-1").
		Return(&graph.MediaInfo{ID: "media-1", URL: "https://lookaside.example/media-1", MimeType: "image/jpeg"}, nil)
	client.On("DownloadMedia", mock.Anything, mock.Anything, "https://lookaside.example/media-1").
		Return(&graph.MediaDownload{Body: io.NopCloser(strings.NewReader("jpeg-bytes")), ContentType: "application/octet-stream", ContentLength: 10}, nil)

	dl, err := svc.Download(context.Background(), "media-1")
	require.NoError(t, err)
	defer dl.Body.Close()

	assert.Equal(t, "image/jpeg", dl.ContentType)
	assert.Equal(t, "media-1.jpg", dl.Filename)
	body, _ := io.ReadAll(dl.Body)
	assert.Equal(t, "jpeg-bytes", string(body))
	client.AssertExpectations(t)
}

func TestMediaDownload_NotFound(t *testing.T) {
	client := &mockGraphClient{}
	svc := newMediaService(client, 0)

	client.On("GetMedia", mock.Anything, mock.Anything, "missing").Return(nil, apperrors.NewNotFoundError("media", "missing"))

	_, err := svc.Download(context.Background(), "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
	client.AssertNotCalled(t, "DownloadMedia", mock.Anything, mock.Anything, mock.Anything)
}

func TestMediaDownload_EmptyID(t *testing.T) {
	_, err := newMediaService(&mockGraphClient{}, 0).Download(context.Background(), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidParams))
}

func TestMediaUpload(t *testing.T) {
	client := &mockGraphClient{}
	svc := newMediaService(client, 0)

	client.On("UploadMedia", mock.Anything, mock.Anything, "doc.pdf", "application/pdf").Return("media-42", nil)

	id, err := svc.Upload(context.Background(), "doc.pdf", "", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "media-42", id)
	client.AssertExpectations(t)
}

func TestMediaUpload_TooLarge(t *testing.T) {
	client := &mockGraphClient{}
	svc := newMediaService(client, 16)

	client.On("UploadMedia", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", nil).Maybe()

	_, err := svc.Upload(context.Background(), "big.jpg", "image/jpeg", bytes.NewReader(make([]byte, 64)))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidParams))
}
