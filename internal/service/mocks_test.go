package service

import (
	"context"
	"io"
	"sync"
	"time"

	"wabridge/internal/models"
	"wabridge/pkg/graph"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type mockGraphClient struct {
	mock.Mock
}

func (m *mockGraphClient) SendText(ctx context.Context, creds graph.Credentials, to, text string) (*graph.SendResponse, error) {
	args := m.Called(ctx, creds, to, text)
	resp, _ := args.Get(0).(*graph.SendResponse)
	return resp, args.Error(1)
}

func (m *mockGraphClient) SendTemplate(ctx context.Context, creds graph.Credentials, to string, tpl graph.Template) (*graph.SendResponse, error) {
	args := m.Called(ctx, creds, to, tpl)
	resp, _ := args.Get(0).(*graph.SendResponse)
	return resp, args.Error(1)
}

func (m *mockGraphClient) GetMedia(ctx context.Context, creds graph.Credentials, mediaID string) (*graph.MediaInfo, error) {
	args := m.Called(ctx, creds, mediaID)
	info, _ := args.Get(0).(*graph.MediaInfo)
	return info, args.Error(1)
}

func (m *mockGraphClient) DownloadMedia(ctx context.Context, creds graph.Credentials, mediaURL string) (*graph.MediaDownload, error) {
	args := m.Called(ctx, creds, mediaURL)
	d, _ := args.Get(0).(*graph.MediaDownload)
	return d, args.Error(1)
}

func (m *mockGraphClient) UploadMedia(ctx context.Context, creds graph.Credentials, filename, mimeType string, content io.Reader) (string, error) {
	// Drain so size limits are exercised.
	_, err := io.Copy(io.Discard, content)
	if err != nil {
		return "", err
	}
	args := m.Called(ctx, creds, filename, mimeType)
	return args.String(0), args.Error(1)
}

type mapSettings struct {
	values map[string]string
	err    error
}

func (s *mapSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

type stubState struct {
	mu    sync.Mutex
	state models.State
	err   error
}

func (s *stubState) GetState(context.Context) (models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

type recordingSender struct {
	mu    sync.Mutex
	reqs  []SendRequest
	err   error
	delay time.Duration
}

func (r *recordingSender) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return nil, r.err
	}
	return &SendResult{Mode: ModeText}, nil
}

func (r *recordingSender) requests() []SendRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SendRequest(nil), r.reqs...)
}

type fakePruner struct {
	calls   []time.Time
	removed int
	err     error
}

func (p *fakePruner) PruneProcessed(_ context.Context, before time.Time) (int, error) {
	p.calls = append(p.calls, before)
	return p.removed, p.err
}

func testWhatsAppConfig() models.WhatsAppConfig {
	return models.WhatsAppConfig{
		AccessToken:             "test-token-abcdef",
		PhoneNumberID:           "1234567890",
		GraphVersion:            "v24.0",
		DefaultTemplateName:     "business_intro_v1",
		DefaultTemplateLanguage: "en_US",
		TemplateNames:           models.TemplateMap{"es_MX": "intro_es"},
	}
}
