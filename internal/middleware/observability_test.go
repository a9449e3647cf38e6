package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"wabridge/internal/httputil"
	"wabridge/internal/metrics"
	"wabridge/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferedLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(level)
	return logger, &buf
}

func routed(logger *logrus.Logger, ips *httputil.ClientIPResolver, h http.HandlerFunc) http.Handler {
	r := mux.NewRouter()
	r.Use(ObservabilityMiddleware(logger, ips))
	r.HandleFunc("/messages/{id}", h)
	return r
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		lines = append(lines, entry)
	}
	return lines
}

func TestObservabilityMiddleware(t *testing.T) {
	logger, buf := bufferedLogger(logrus.InfoLevel)

	var seenRequestID, seenTraceID string
	handler := routed(logger, nil, func(w http.ResponseWriter, r *http.Request) {
		seenRequestID = tracing.GetRequestID(r.Context())
		seenTraceID = tracing.GetTraceID(r.Context())
		_, _ = w.Write([]byte("test response"))
	})

	req := httptest.NewRequest(http.MethodGet, "/messages/wamid.1", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, seenRequestID)
	assert.NotEmpty(t, seenTraceID)
	assert.NotEqual(t, "00000000000000000000000000000000", seenTraceID)
	assert.Equal(t, seenRequestID, rec.Header().Get(tracing.RequestIDHeader))

	lines := logLines(t, buf)
	require.Len(t, lines, 1, "start line is debug only")
	assert.Equal(t, "HTTP request completed", lines[0]["msg"])
	assert.Equal(t, "/messages/{id}", lines[0]["route"])
	assert.Equal(t, "192.168.1.100", lines[0]["remote_ip"])
	assert.Equal(t, float64(13), lines[0]["size_bytes"])
	assert.Equal(t, seenRequestID, lines[0]["request_id"])
}

func TestObservabilityMiddleware_PropagatesRequestID(t *testing.T) {
	logger, _ := bufferedLogger(logrus.InfoLevel)
	handler := routed(logger, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "caller-id-1", tracing.GetRequestID(r.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/messages/x", nil)
	req.Header.Set(tracing.RequestIDHeader, "caller-id-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id-1", rec.Header().Get(tracing.RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/messages/x", nil)
	req.Header.Set(tracing.RequestIDHeader, "bad id with spaces\n")
	rec = httptest.NewRecorder()
	routed(logger, nil, func(http.ResponseWriter, *http.Request) {}).ServeHTTP(rec, req)
	assert.True(t, strings.HasPrefix(rec.Header().Get(tracing.RequestIDHeader), "req_"))
}

func TestObservabilityMiddleware_ErrorStatusLevels(t *testing.T) {
	for status, level := range map[int]string{
		http.StatusNotFound:            "warning",
		http.StatusInternalServerError: "error",
	} {
		logger, buf := bufferedLogger(logrus.InfoLevel)
		handler := routed(logger, nil, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/x", nil))

		lines := logLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, level, lines[0]["level"])
		assert.Equal(t, float64(status), lines[0]["status_code"])
	}
}

func TestObservabilityMiddleware_DebugMasksHeaders(t *testing.T) {
	logger, buf := bufferedLogger(logrus.DebugLevel)
	handler := routed(logger, nil, func(http.ResponseWriter, *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/messages/x", nil)
	req.Header.Set("X-Admin-Secret", "super-secret")
	req.Header.Set("Accept", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotContains(t, buf.String(), "super-secret")
	lines := logLines(t, buf)
	require.Len(t, lines, 2)
	headers := lines[0]["headers"].(map[string]interface{})
	assert.Equal(t, "***MASKED***", headers["X-Admin-Secret"])
	assert.Equal(t, "application/json", headers["Accept"])
}

func TestObservabilityMiddleware_TrustedProxy(t *testing.T) {
	logger, buf := bufferedLogger(logrus.InfoLevel)
	ips, err := httputil.NewClientIPResolver([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	handler := routed(logger, ips, func(http.ResponseWriter, *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/messages/x", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.9", logLines(t, buf)[0]["remote_ip"])
}

func TestObservabilityMiddleware_RecordsMetrics(t *testing.T) {
	logger, _ := bufferedLogger(logrus.ErrorLevel)
	handler := routed(logger, nil, func(http.ResponseWriter, *http.Request) {})

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/messages/"+string(rune('a'+i)), nil))
	}

	families, err := metrics.GetRegistry().Gatherer().Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != "wabridge_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "route" && l.GetValue() == "/messages/{id}" {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.GreaterOrEqual(t, total, float64(3), "all ids share one route label")
}

func TestMiddleware_ConcurrentRequests(t *testing.T) {
	logger, _ := bufferedLogger(logrus.ErrorLevel)
	handler := routed(logger, nil, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/x", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()
}

func TestResponseWrapper(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapper := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}

	wrapper.WriteHeader(http.StatusCreated)
	n, err := wrapper.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusCreated, wrapper.statusCode)
	assert.Equal(t, int64(5), wrapper.responseSize)
	assert.Equal(t, rec, wrapper.Unwrap())
	wrapper.Flush()
	assert.True(t, rec.Flushed)
}

func TestIsSensitiveHeader(t *testing.T) {
	assert.True(t, isSensitiveHeader("Authorization"))
	assert.True(t, isSensitiveHeader("x-hub-signature-256"))
	assert.False(t, isSensitiveHeader("Content-Type"))
}
