package main

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	apperrors "wabridge/internal/errors"
	"wabridge/internal/httputil"
	"wabridge/internal/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP. A bucket holds limit
// tokens and refills at limit per window. Buckets idle for a full window
// are full again and get dropped on the next sweep.
type RateLimiter struct {
	mu          sync.RWMutex
	visitors    map[string]*visitor
	limit       int
	window      time.Duration
	every       rate.Limit
	lastCleanup time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows limit requests per window and client. A limit of
// zero or less rejects every request.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 0 {
		limit = 0
	}
	every := rate.Inf
	if limit > 0 && window > 0 {
		every = rate.Limit(float64(limit) / window.Seconds())
		if math.IsInf(float64(every), 0) {
			every = rate.Inf
		}
	}
	return &RateLimiter{
		visitors:    make(map[string]*visitor),
		limit:       limit,
		window:      window,
		every:       every,
		lastCleanup: time.Now(),
	}
}

// Allow reports whether ip may make a request now and takes a token if so.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.limit == 0 {
		return false
	}

	now := time.Now()
	rl.mu.Lock()
	if now.Sub(rl.lastCleanup) >= rl.window {
		rl.cleanup(now)
	}
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.every, rl.limit)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// cleanup drops idle buckets. Caller holds mu.
func (rl *RateLimiter) cleanup(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) >= rl.window {
			delete(rl.visitors, ip)
		}
	}
	rl.lastCleanup = now
}

// Size returns the number of tracked clients.
func (rl *RateLimiter) Size() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.visitors)
}

// Wrap limits next per client IP and answers 429 rate_limited when the
// bucket is empty. A nil limiter passes every request through.
func (rl *RateLimiter) Wrap(name string, ips *httputil.ClientIPResolver, logger *logrus.Logger, next http.HandlerFunc) http.HandlerFunc {
	if rl == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ip := ips.ClientIP(r)
		if !rl.Allow(ip) {
			metrics.IncrementCounter("rate_limited_total", map[string]string{"endpoint": name}, "Requests rejected by the rate limiter")
			logger.WithFields(logrus.Fields{
				"endpoint":  name,
				"remote_ip": ip,
			}).Warn("Rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			apperrors.WriteJSON(w, apperrors.NewRateLimitError(rl.limit, rl.window.String()))
			return
		}
		next(w, r)
	}
}

func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.limit == 0 || rl.every == rate.Inf {
		return 1
	}
	secs := int(math.Ceil(1 / float64(rl.every)))
	if secs < 1 {
		secs = 1
	}
	return secs
}
