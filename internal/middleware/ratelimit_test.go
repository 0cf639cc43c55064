package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func limitedRouter(rps float64, burst int) *gin.Engine {
	router := gin.New()
	router.Use(RateLimit(rps, burst))
	router.GET("/test", func(c *gin.Context) {
		c.String(200, "OK")
	})
	return router
}

func TestRateLimitAllowsWithinBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := limitedRouter(10, 10)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestRateLimitBlocksBeyondBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := limitedRouter(1, 1)

	req1 := httptest.NewRequest("GET", "/test", nil)
	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, req1)
	if w1.Code != 200 {
		t.Fatalf("first request: expected status 200, got %d", w1.Code)
	}

	req2 := httptest.NewRequest("GET", "/test", nil)
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected status 429, got %d", w2.Code)
	}
	if !strings.Contains(w2.Body.String(), "rate_limit_error") {
		t.Errorf("expected rate limit envelope, got: %s", w2.Body.String())
	}
}

func TestRateLimitKeysByAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := limitedRouter(1, 1)

	send := func(key string) int {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("key-a"); code != 200 {
		t.Fatalf("key-a first request: expected 200, got %d", code)
	}
	// A different key gets its own bucket.
	if code := send("key-b"); code != 200 {
		t.Fatalf("key-b first request: expected 200, got %d", code)
	}
	if code := send("key-a"); code != http.StatusTooManyRequests {
		t.Fatalf("key-a second request: expected 429, got %d", code)
	}
}

func TestRateLimitGlobalBackstop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := limitedRouter(1, 1)

	limited := 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("x-api-key", "key-"+string(rune('a'+i)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	if limited == 0 {
		t.Error("expected the global limiter to reject some requests")
	}
}

func TestLimiterCacheReusesEntries(t *testing.T) {
	cache := newTTLLimiterCache(time.Minute)
	mk := func() *rate.Limiter { return rate.NewLimiter(1, 1) }

	first := cache.get("caller", mk)
	second := cache.get("caller", mk)

	if first != second {
		t.Error("expected the same limiter for the same key")
	}
	if len(cache.items) != 1 {
		t.Errorf("expected 1 cached limiter, got %d", len(cache.items))
	}
}

func TestLimiterCacheSweepsIdleEntries(t *testing.T) {
	cache := newTTLLimiterCache(time.Millisecond)
	mk := func() *rate.Limiter { return rate.NewLimiter(1, 1) }

	cache.get("stale", mk)
	time.Sleep(5 * time.Millisecond)
	// Force the next insert past the sweep interval.
	cache.lastSweep = time.Now().Add(-2 * limiterSweepEvery)
	cache.get("fresh", mk)

	if _, ok := cache.items["stale"]; ok {
		t.Error("expected the idle entry to be swept")
	}
	if _, ok := cache.items["fresh"]; !ok {
		t.Error("expected the fresh entry to survive the sweep")
	}
}
