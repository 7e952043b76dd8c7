package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"micstream/pkg/config"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func limitedRouter(handler gin.HandlerFunc, mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.GET("/recordings", handler)
	return router
}

func get(router *gin.Engine, remote string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/recordings", nil)
	req.RemoteAddr = remote
	router.ServeHTTP(w, req)
	return w
}

func ok(c *gin.Context) { c.Status(http.StatusOK) }

func TestHTTPRateLimit_DisabledPassesThrough(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := limitedRouter(ok, NewHTTPRateLimitMiddleware(cfg))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1").Code)
	}
}

func TestHTTPRateLimit_PerClientWithRetryAfter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	router := limitedRouter(ok, NewHTTPRateLimitMiddleware(cfg))

	assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1").Code)

	limited := get(router, "10.0.0.1:2")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusOK, get(router, "10.0.0.2:1").Code)
}

func TestHTTPRateLimit_CapsRequestsInFlight(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 100
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 1

	entered := make(chan struct{})
	release := make(chan struct{})
	router := limitedRouter(func(c *gin.Context) {
		close(entered)
		<-release
		c.Status(http.StatusOK)
	}, NewHTTPRateLimitMiddleware(cfg))

	done := make(chan int)
	go func() { done <- get(router, "10.0.0.1:1").Code }()
	<-entered

	busy := get(router, "10.0.0.2:1")
	assert.Equal(t, http.StatusServiceUnavailable, busy.Code)
	assert.Contains(t, busy.Body.String(), "SERVICE_UNAVAILABLE")

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestLimiterSet_ForgetsIdleClients(t *testing.T) {
	clk := clock.NewMock()
	set := newLimiterSet(rate.Limit(1), 1, clk)

	set.get("a")
	set.get("b")
	require.Equal(t, 2, set.len())

	clk.Add(limiterIdleTTL / 2)
	set.get("b")

	clk.Add(limiterIdleTTL / 2)
	set.get("c")
	assert.Equal(t, 2, set.len(), "a went idle and is pruned; b and c remain")
}

func TestWebSocketLimiter_DisabledAllowsEverything(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	l := NewWebSocketLimiter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for i := 0; i < 100; i++ {
		require.True(t, l.AllowConnection(req), "connection %d", i)
	}
	assert.True(t, l.MessageLimiter().Allow())
}

func TestWebSocketLimiter_LimitsPerClientIP(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 1
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 1
	cfg.RateLimiting.WebSocket.Burst = 2
	l := NewWebSocketLimiter(cfg)

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:1234"

	assert.True(t, l.AllowConnection(first))
	assert.False(t, l.AllowConnection(first))
	assert.True(t, l.AllowConnection(other))

	msgs := l.MessageLimiter()
	assert.True(t, msgs.Allow())
	assert.True(t, msgs.Allow())
	assert.False(t, msgs.Allow())
}

func TestClientIP_UsesFirstForwardedAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	assert.Equal(t, "192.0.2.1", clientIP(req))

}
