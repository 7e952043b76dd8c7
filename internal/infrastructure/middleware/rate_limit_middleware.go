package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"micstream/pkg/config"
	"micstream/pkg/errors"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's limiter survives without traffic.
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one token bucket per client key and forgets clients
// that have gone quiet.
type limiterSet struct {
	mu        sync.Mutex
	clock     clock.Clock
	limit     rate.Limit
	burst     int
	clients   map[string]*clientLimiter
	lastPrune time.Time
}

func newLimiterSet(limit rate.Limit, burst int, clk clock.Clock) *limiterSet {
	return &limiterSet{
		clock:     clk,
		limit:     limit,
		burst:     burst,
		clients:   make(map[string]*clientLimiter),
		lastPrune: clk.Now(),
	}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if now.Sub(s.lastPrune) >= limiterIdleTTL {
		for k, c := range s.clients {
			if now.Sub(c.lastSeen) >= limiterIdleTTL {
				delete(s.clients, k)
			}
		}
		s.lastPrune = now
	}

	c, ok := s.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// clientIP prefers the first X-Forwarded-For hop and falls back to the peer
// address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func abortWith(c *gin.Context, appErr *errors.AppError) {
	setRetryAfter(c, appErr)
	c.AbortWithStatusJSON(appErr.HTTPStatus(), appErr.Body())
}

// NewHTTPRateLimitMiddleware limits the control API per client IP and caps
// requests in flight. It is a pass-through when rate limiting is off.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	return newHTTPRateLimitMiddleware(cfg, clock.New())
}

func newHTTPRateLimitMiddleware(cfg *config.Config, clk clock.Clock) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	httpCfg := cfg.RateLimiting.HTTP
	perClient := newLimiterSet(rate.Limit(httpCfg.RequestsPerSecond), httpCfg.Burst, clk)

	var inFlight chan struct{}
	if httpCfg.MaxConcurrent > 0 {
		inFlight = make(chan struct{}, httpCfg.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if !perClient.get(clientIP(c.Request)).Allow() {
			abortWith(c, errors.RateLimited(time.Second))
			return
		}

		if inFlight != nil {
			select {
			case inFlight <- struct{}{}:
				defer func() { <-inFlight }()
			default:
				abortWith(c, errors.New(errors.CodeServiceUnavailable, "Too many concurrent requests"))
				return
			}
		}
		c.Next()
	}
}

// WebSocketLimiter gates stream upgrades per client IP and hands out a
// message limiter for every accepted connection.
type WebSocketLimiter struct {
	connections *limiterSet
	messages    rate.Limit
	burst       int
}

// NewWebSocketLimiter builds the limiter from rate_limiting.websocket. When
// rate limiting is disabled every call is allowed.
func NewWebSocketLimiter(cfg *config.Config) *WebSocketLimiter {
	if !cfg.RateLimiting.Enabled {
		return &WebSocketLimiter{}
	}

	wsCfg := cfg.RateLimiting.WebSocket
	connBurst := max(wsCfg.ConnectionsPerMinute/10, 1)

	return &WebSocketLimiter{
		connections: newLimiterSet(rate.Every(time.Minute/time.Duration(wsCfg.ConnectionsPerMinute)), connBurst, clock.New()),
		messages:    rate.Limit(wsCfg.MessagesPerSecond),
		burst:       wsCfg.Burst,
	}
}

// AllowConnection reports whether the client behind r may open another
// stream connection now.
func (l *WebSocketLimiter) AllowConnection(r *http.Request) bool {
	if l.connections == nil {
		return true
	}
	return l.connections.get(clientIP(r)).Allow()
}

// MessageLimiter returns a fresh limiter for one connection's frames.
func (l *WebSocketLimiter) MessageLimiter() *rate.Limiter {
	if l.connections == nil {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(l.messages, l.burst)
}
