package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"wabridge/internal/httputil"
	"wabridge/internal/metrics"
	"wabridge/internal/service"
	"wabridge/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// sensitiveHeaders are masked in debug header dumps.
var sensitiveHeaders = []string{
	"authorization", "x-admin-secret", "x-hub-signature-256", "cookie", "set-cookie",
}

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

var inFlight atomic.Int64

// ObservabilityMiddleware adds a request id, a span, metrics and access logs
// to every routed request. ips resolves the client address; nil uses the
// direct peer.
func ObservabilityMiddleware(logger *logrus.Logger, ips *httputil.ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeTemplate(r)
			ctx, span := tracing.WithOtelTracing(r.Context(), "HTTP "+r.Method+" "+route)
			defer span.End()

			requestID := r.Header.Get(tracing.RequestIDHeader)
			if !requestIDPattern.MatchString(requestID) {
				requestID = tracing.GenerateRequestID()
			}
			ctx = tracing.WithRequestID(ctx, requestID)
			if tracing.GetTraceID(ctx) == "" {
				ctx = tracing.WithTraceID(ctx, strings.TrimPrefix(requestID, "req_"))
			}
			ctx = tracing.WithStartTime(ctx, time.Now())
			r = r.WithContext(ctx)
			w.Header().Set(tracing.RequestIDHeader, requestID)

			clientIP := ips.ClientIP(r)
			tracing.AddSpanAttributes(ctx,
				semconv.HTTPMethodKey.String(r.Method),
				semconv.HTTPRouteKey.String(route),
				attribute.String("client.address", clientIP),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
			)

			logger.WithFields(tracing.LogFields(ctx)).WithFields(logrus.Fields{
				"method":                 r.Method,
				"path":                   r.URL.Path,
				service.LogFieldRemoteIP: clientIP,
				"headers":                maskedHeaders(r.Header),
			}).Debug("HTTP request started")

			metrics.SetGauge("http_requests_in_flight", float64(inFlight.Add(1)), nil, "Requests currently being served")
			defer func() {
				metrics.SetGauge("http_requests_in_flight", float64(inFlight.Add(-1)), nil, "Requests currently being served")
			}()

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			duration := tracing.Duration(ctx)
			status := strconv.Itoa(wrapper.statusCode)

			tracing.AddSpanAttributes(ctx,
				semconv.HTTPStatusCodeKey.Int(wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= 500 {
				tracing.SetSpanStatus(ctx, codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			}

			labels := map[string]string{"method": r.Method, "route": route, "status_code": status}
			metrics.IncrementCounter("http_requests_total", labels, "HTTP requests by route and status")
			metrics.RecordTimer("http_request_duration_seconds", duration, map[string]string{
				"method": r.Method,
				"route":  route,
			}, "HTTP request latency")

			logLevel := logrus.InfoLevel
			if wrapper.statusCode >= 400 && wrapper.statusCode < 500 {
				logLevel = logrus.WarnLevel
			} else if wrapper.statusCode >= 500 {
				logLevel = logrus.ErrorLevel
			}

			logger.WithFields(tracing.LogFields(ctx)).WithFields(logrus.Fields{
				"method":                   r.Method,
				"path":                     r.URL.Path,
				"route":                    route,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   clientIP,
				service.LogFieldSize:       wrapper.responseSize,
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

// routeTemplate keeps metric labels bounded by using the mux path template.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func maskedHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name) {
			out[name] = "***MASKED***"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveHeaders {
		if lower == s {
			return true
		}
	}
	return false
}

// responseWrapper captures response metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

// Flush lets streaming handlers push partial responses.
func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack hands the connection to the websocket upgrade.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
