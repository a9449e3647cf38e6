// Package graph is a small client for the WhatsApp Cloud API on the Meta
// Graph API: text and template sends plus media lookup, download and upload.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"wabridge/internal/constants"
	apperrors "wabridge/internal/errors"
	"wabridge/internal/metrics"
	"wabridge/internal/tracing"
	"wabridge/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Client is the provider surface used by the send pipeline and media proxy.
type Client interface {
	SendText(ctx context.Context, creds Credentials, to, text string) (*SendResponse, error)
	SendTemplate(ctx context.Context, creds Credentials, to string, tpl Template) (*SendResponse, error)
	GetMedia(ctx context.Context, creds Credentials, mediaID string) (*MediaInfo, error)
	DownloadMedia(ctx context.Context, creds Credentials, mediaURL string) (*MediaDownload, error)
	UploadMedia(ctx context.Context, creds Credentials, filename, mimeType string, content io.Reader) (string, error)
}

// MediaDownload is an open media stream. The caller closes Body.
type MediaDownload struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Options configures a GraphClient. Zero values use the package defaults.
type Options struct {
	BaseURL             string
	Timeout             time.Duration
	MediaTimeout        time.Duration
	MaxResponseBytes    int64
	BreakerMaxFailures  uint32
	BreakerResetTimeout time.Duration
	HTTPClient          *http.Client
	Logger              *logrus.Logger
}

type GraphClient struct {
	baseURL          string
	timeout          time.Duration
	client           *http.Client
	mediaClient      *http.Client
	maxResponseBytes int64
	breaker          *circuitbreaker.CircuitBreaker
	logger           *logrus.Logger
}

var _ Client = (*GraphClient)(nil)

func NewClient(opts Options) *GraphClient {
	if opts.BaseURL == "" {
		opts.BaseURL = constants.DefaultGraphBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultGraphTimeoutSec * time.Second
	}
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = constants.DefaultMediaDownloadTimeoutSec * time.Second
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = constants.DefaultMaxProviderBodyBytes
	}
	if opts.BreakerMaxFailures == 0 {
		opts.BreakerMaxFailures = constants.DefaultBreakerMaxFailures
	}
	if opts.BreakerResetTimeout <= 0 {
		opts.BreakerResetTimeout = constants.DefaultBreakerResetTimeoutSec * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &GraphClient{
		baseURL:          strings.TrimRight(opts.BaseURL, "/"),
		timeout:          opts.Timeout,
		client:           client,
		mediaClient:      &http.Client{Timeout: opts.MediaTimeout, Transport: client.Transport},
		maxResponseBytes: opts.MaxResponseBytes,
		logger:           opts.Logger,
		breaker: circuitbreaker.NewWithOptions("graph_api", circuitbreaker.Options{
			MaxFailures:  opts.BreakerMaxFailures,
			ResetTimeout: opts.BreakerResetTimeout,
			IsFailure:    apperrors.IsRetryable,
			Logger:       opts.Logger,
			OnStateChange: func(name string, _, to circuitbreaker.State) {
				metrics.SetGauge("circuit_breaker_state", float64(to), map[string]string{"name": name}, "Circuit breaker state (0 closed, 1 open, 2 half-open)")
			},
		}),
	}
}

// BreakerStats reports the circuit breaker counters for health output.
func (c *GraphClient) BreakerStats() circuitbreaker.Stats {
	stats := c.breaker.GetStats()
	stats.State = c.breaker.GetState()
	return stats
}

func (c *GraphClient) SendText(ctx context.Context, creds Credentials, to, text string) (*SendResponse, error) {
	payload := textMessageRequest{
		MessagingProduct: messagingProduct,
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: text},
	}
	return c.sendMessage(ctx, creds, "text", payload)
}

func (c *GraphClient) SendTemplate(ctx context.Context, creds Credentials, to string, tpl Template) (*SendResponse, error) {
	payload := templateMessageRequest{
		MessagingProduct: messagingProduct,
		To:               to,
		Type:             "template",
		Template:         tpl,
	}
	return c.sendMessage(ctx, creds, "template", payload)
}

func (c *GraphClient) sendMessage(ctx context.Context, creds Credentials, kind string, payload interface{}) (*SendResponse, error) {
	if err := requireCredentials(creds); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal payload")
	}

	endpoint := fmt.Sprintf("/%s/%s/messages", creds.Version, creds.PhoneNumberID)
	raw, err := c.call(ctx, "messages_"+kind, creds, http.MethodPost, endpoint, "application/json", func() io.Reader {
		return bytes.NewReader(body)
	})
	if err != nil {
		return nil, err
	}

	resp := &SendResponse{Raw: raw}
	if err := json.Unmarshal(raw, resp); err != nil {
		c.logger.WithError(err).Debug("Graph send response was not the expected shape")
	}
	return resp, nil
}

func (c *GraphClient) GetMedia(ctx context.Context, creds Credentials, mediaID string) (*MediaInfo, error) {
	if creds.AccessToken == "" || creds.Version == "" {
		return nil, apperrors.NewConfigError("access_token", "WhatsApp access token is not configured")
	}
	if mediaID == "" {
		return nil, apperrors.NewValidationError("id", "media id is required")
	}

	raw, err := c.call(ctx, "media_info", creds, http.MethodGet, fmt.Sprintf("/%s/%s", creds.Version, mediaID), "", nil)
	if err != nil {
		return nil, err
	}

	var info MediaInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode media info")
	}
	if info.URL == "" {
		return nil, apperrors.NewNotFoundError("media", mediaID)
	}
	return &info, nil
}

// DownloadMedia fetches the binary behind a media URL. The stream is not
// buffered, so it bypasses the breaker and response size limit.
func (c *GraphClient) DownloadMedia(ctx context.Context, creds Credentials, mediaURL string) (*MediaDownload, error) {
	if err := c.validateDownloadURL(mediaURL); err != nil {
		return nil, apperrors.NewValidationError("url", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.mediaClient.Do(req)
	if err != nil {
		return nil, c.transportError("media_download", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, apperrors.NewProviderError("media_download", resp.StatusCode, c.decodeBody(resp.Body))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = constants.DefaultMimeType
	}
	return &MediaDownload{Body: resp.Body, ContentType: contentType, ContentLength: resp.ContentLength}, nil
}

func (c *GraphClient) UploadMedia(ctx context.Context, creds Credentials, filename, mimeType string, content io.Reader) (string, error) {
	if err := requireCredentials(creds); err != nil {
		return "", err
	}
	if mimeType == "" {
		mimeType = constants.DefaultMimeType
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("messaging_product", messagingProduct); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to write form field")
	}
	if err := writer.WriteField("type", mimeType); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to write form field")
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%s`, strconv.Quote(filename)))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create form file")
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInvalidParams, "failed to read upload")
	}
	if err := writer.Close(); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to close multipart writer")
	}

	payload := body.Bytes()
	endpoint := fmt.Sprintf("/%s/%s/media", creds.Version, creds.PhoneNumberID)
	raw, err := c.call(ctx, "media_upload", creds, http.MethodPost, endpoint, writer.FormDataContentType(), func() io.Reader {
		return bytes.NewReader(payload)
	})
	if err != nil {
		return "", err
	}

	var result uploadResponse
	if err := json.Unmarshal(raw, &result); err != nil || result.ID == "" {
		return "", apperrors.New(apperrors.ErrCodeProviderRejected, "upload response carried no media id").
			WithContext("status", http.StatusBadGateway).
			WithContext("response", json.RawMessage(raw))
	}
	return result.ID, nil
}

// call performs one Graph request through the breaker and returns the raw
// 2xx body. Non-2xx responses become provider_rejected errors.
func (c *GraphClient) call(ctx context.Context, operation string, creds Credentials, method, endpoint, contentType string, body func() io.Reader) (json.RawMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "graph."+operation,
		semconv.HTTPMethodKey.String(method),
		attribute.String("graph.operation", operation),
		attribute.String("graph.version", creds.Version),
	)
	defer span.End()

	start := time.Now()
	status := 0
	var raw json.RawMessage

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = body()
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create request")
		}
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if requestID := tracing.GetRequestID(ctx); requestID != "" {
			req.Header.Set(tracing.RequestIDHeader, requestID)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return c.transportError(operation, err)
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes))
		if err != nil {
			return c.transportError(operation, err)
		}
		if status < 200 || status >= 300 {
			return apperrors.NewProviderError(operation, status, decodeJSON(data))
		}
		if len(bytes.TrimSpace(data)) == 0 {
			data = []byte("{}")
		}
		if !json.Valid(data) {
			data, _ = json.Marshal(map[string]string{"raw": string(data)})
		}
		raw = data
		return nil
	})

	labels := map[string]string{"operation": operation, "status": statusClass(status)}
	metrics.RecordTimer("graph_request_duration_seconds", time.Since(start), labels, "Graph API request latency")
	metrics.IncrementCounter("graph_requests_total", labels, "Graph API requests")
	span.SetAttributes(semconv.HTTPStatusCodeKey.Int(status))

	if err != nil {
		if circuitbreaker.IsCircuitBreakerError(err) {
			err = apperrors.WrapRetryable(err, apperrors.ErrCodeProviderRejected, "Graph API temporarily unavailable").
				WithContext("status", http.StatusServiceUnavailable).
				WithContext("response", map[string]string{"error": "circuit_open"}).
				WithUserMessage("provider temporarily unavailable")
		}
		tracing.RecordError(ctx, err, attribute.String("error.code", string(apperrors.GetCode(err))))
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return raw, nil
}

func (c *GraphClient) transportError(operation string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.NewTimeoutError("graph "+operation, c.timeout.String())
	}
	return apperrors.WrapRetryable(err, apperrors.ErrCodeInternal, "Graph API request failed").
		WithContext("operation", operation).
		WithUserMessage("provider unreachable")
}

func (c *GraphClient) decodeBody(r io.Reader) interface{} {
	data, _ := io.ReadAll(io.LimitReader(r, c.maxResponseBytes))
	return decodeJSON(data)
}

// decodeJSON returns the decoded body, or {"raw": text} when it is not JSON.
func decodeJSON(data []byte) interface{} {
	var v interface{}
	if err := json.Unmarshal(data, &v); err == nil {
		return v
	}
	return map[string]string{"raw": string(data)}
}

func requireCredentials(creds Credentials) error {
	switch {
	case creds.AccessToken == "":
		return apperrors.NewConfigError("access_token", "WhatsApp access token is not configured")
	case creds.PhoneNumberID == "":
		return apperrors.NewConfigError("phone_number_id", "WhatsApp phone number id is not configured")
	case creds.Version == "":
		return apperrors.NewConfigError("graph_version", "Graph API version is not configured")
	}
	return nil
}

func statusClass(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
