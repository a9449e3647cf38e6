package main

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// TestRateLimiter_BurstTraffic tests handling of burst traffic
func TestRateLimiter_BurstTraffic(t *testing.T) {
	rl := NewRateLimiter(10, 100*time.Millisecond)

	const burstSize = 20
	allowed := 0
	limited := 0

	for i := 0; i < burstSize; i++ {
		if rl.Allow("127.0.0.1") {
			allowed++
		} else {
			limited++
		}
	}

	assert.Equal(t, 10, allowed, "Should allow up to limit")
	assert.Equal(t, 10, limited, "Should limit excess requests")
}

// TestRateLimiter_WindowReset tests that a full window refills the bucket
func TestRateLimiter_WindowReset(t *testing.T) {
	rl := NewRateLimiter(5, 100*time.Millisecond)
	ip := "192.168.1.1"

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow(ip), "Request %d should be allowed", i+1)
	}
	assert.False(t, rl.Allow(ip), "6th request should be denied")

	time.Sleep(110 * time.Millisecond)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow(ip), "Request %d after reset should be allowed", i+1)
	}
}

// TestRateLimiter_MultipleIPs tests rate limiting per IP
func TestRateLimiter_MultipleIPs(t *testing.T) {
	rl := NewRateLimiter(2, 100*time.Millisecond)

	for _, ip := range []string{"192.168.1.1", "192.168.1.2", "192.168.1.3"} {
		assert.True(t, rl.Allow(ip), "First request from %s should succeed", ip)
		assert.True(t, rl.Allow(ip), "Second request from %s should succeed", ip)
		assert.False(t, rl.Allow(ip), "Third request from %s should be limited", ip)
	}
}

// TestRateLimiter_ConcurrentAccess tests thread safety
func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(10, time.Second)

	const numGoroutines = 50
	const requestsPerGoroutine = 20
	var wg sync.WaitGroup
	var allowed atomic.Int32
	var denied atomic.Int32

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ip := fmt.Sprintf("192.168.1.%d", id%10)
			for j := 0; j < requestsPerGoroutine; j++ {
				if rl.Allow(ip) {
					allowed.Add(1)
				} else {
					denied.Add(1)
				}
			}
		}(i)
	}

	wg.Wait()

	assert.Greater(t, int(allowed.Load()), 0, "Should have some allowed requests")
	assert.Greater(t, int(denied.Load()), 0, "Should have some denied requests")
	assert.LessOrEqual(t, int(allowed.Load()), 10*10+10, "10 IPs share a burst of 10 plus a little refill")
}

// TestRateLimiter_CleanupOldEntries tests that idle buckets are dropped
func TestRateLimiter_CleanupOldEntries(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)

	for i := 0; i < 100; i++ {
		rl.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	assert.Equal(t, 100, rl.Size(), "Should have 100 IP entries")

	time.Sleep(60 * time.Millisecond)
	rl.Allow("10.0.0.200")
	assert.Equal(t, 1, rl.Size(), "Idle buckets should be swept")

	allowedCount := 0
	for i := 0; i < 100; i++ {
		if rl.Allow(fmt.Sprintf("10.0.0.%d", i)) {
			allowedCount++
		}
	}
	assert.Equal(t, 100, allowedCount, "All requests should be allowed after cleanup")
}

// TestRateLimiter_GradualRefill tests that tokens come back one at a time
func TestRateLimiter_GradualRefill(t *testing.T) {
	rl := NewRateLimiter(3, 300*time.Millisecond)
	ip := "192.168.1.1"

	assert.True(t, rl.Allow(ip))
	assert.True(t, rl.Allow(ip))
	assert.True(t, rl.Allow(ip))
	assert.False(t, rl.Allow(ip))

	// One token takes window/limit to refill.
	time.Sleep(120 * time.Millisecond)

	assert.True(t, rl.Allow(ip))
	assert.False(t, rl.Allow(ip))
}

func TestRateLimiter_ZeroLimit(t *testing.T) {
	rl := NewRateLimiter(0, time.Second)

	assert.False(t, rl.Allow("127.0.0.1"))
	assert.False(t, rl.Allow("192.168.1.1"))
}

func TestRateLimiter_NegativeLimit(t *testing.T) {
	rl := NewRateLimiter(-1, time.Second)

	assert.False(t, rl.Allow("127.0.0.1"))
}

func TestRateLimiter_VeryShortWindow(t *testing.T) {
	rl := NewRateLimiter(1000, time.Nanosecond)

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("127.0.0.1"))
	}
}

func TestRateLimiter_VeryLongWindow(t *testing.T) {
	rl := NewRateLimiter(2, 24*time.Hour)
	ip := "192.168.1.1"

	assert.True(t, rl.Allow(ip))
	assert.True(t, rl.Allow(ip))
	assert.False(t, rl.Allow(ip))

	time.Sleep(100 * time.Millisecond)
	assert.False(t, rl.Allow(ip))
}

// TestRateLimiter_MemoryGrowth tests memory usage with many IPs
func TestRateLimiter_MemoryGrowth(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping memory growth test in short mode")
	}

	rl := NewRateLimiter(10, 100*time.Millisecond)

	const numIPs = 10000
	for i := 0; i < numIPs; i++ {
		ip := fmt.Sprintf("%d.%d.%d.%d", (i>>24)&0xFF, (i>>16)&0xFF, (i>>8)&0xFF, i&0xFF)
		rl.Allow(ip)
	}

	time.Sleep(110 * time.Millisecond)
	rl.Allow("1.1.1.1")

	assert.Less(t, rl.Size(), numIPs, "Should clean up expired entries")
}

// TestRateLimiter_RaceCondition is meant to run with -race
func TestRateLimiter_RaceCondition(t *testing.T) {
	rl := NewRateLimiter(100, 100*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rl.Allow(fmt.Sprintf("10.0.%d.%d", id, j%10))
				_ = rl.Size()
			}
		}(i)
	}

	wg.Wait()
}

func TestRateLimiter_Wrap(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	rl := NewRateLimiter(1, time.Minute)
	handler := rl.Wrap("send", nil, logger, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/send", nil)
	req.RemoteAddr = "203.0.113.7:5555"

	rec := httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"rate_limited"`)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var nilLimiter *RateLimiter
	rec = httptest.NewRecorder()
	nilLimiter.Wrap("send", nil, logger, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
