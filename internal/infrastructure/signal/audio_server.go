// Package signal accepts client audio streams over WebSocket and feeds the
// decoded packets to the recorder.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"micstream/internal/core/domain"
	"micstream/internal/infrastructure/codec"
	"micstream/internal/infrastructure/middleware"
	rlog "micstream/pkg/logger"
	"micstream/pkg/tracing"
	"micstream/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PacketWriter receives every decoded audio packet.
type PacketWriter interface {
	WritePacket(ctx context.Context, audio *domain.DecodedAudio) error
}

// ConnectionMetrics is the metrics surface of the server.
type ConnectionMetrics interface {
	codec.FrameObserver
	ConnectionOpened()
	ConnectionClosed(lifetime time.Duration)
	ConnectionRejected(reason string)
	BytesReceived(n int)
}

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	CloseGrace     time.Duration // wait for the client's close echo on shutdown
	DefaultFormat  domain.AudioFormat
}

// ClientInfo describes one open stream connection.
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

type client struct {
	ClientInfo
	conn    *websocket.Conn
	limiter *rate.Limiter

	stopOnce sync.Once
	stop     chan struct{}
}

// maxCloseReason is the largest reason that fits a control frame next to
// the two-byte close code.
const maxCloseReason = 123

func (c *client) shutdown(code int, reason string, deadline time.Time) {
	c.stopOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, utils.TruncateBytes(reason, maxCloseReason))
		c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		close(c.stop)
	})
}

type AudioServer struct {
	cfg      Config
	writer   PacketWriter
	decoder  *codec.Decoder
	limiter  *middleware.WebSocketLimiter
	metrics  ConnectionMetrics
	session  *ServerSession
	upgrader websocket.Upgrader

	accepting atomic.Bool

	clients map[string]*client
	mu      sync.RWMutex
	wg      sync.WaitGroup

	logger *rlog.ContextLogger
	sugar  *zap.SugaredLogger
}

// NewAudioServer creates a server that is not yet accepting connections.
// metrics may be nil.
func NewAudioServer(cfg Config, writer PacketWriter, limiter *middleware.WebSocketLimiter, metrics ConnectionMetrics, logger *zap.Logger) *AudioServer {
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = time.Second
	}
	s := &AudioServer{
		cfg:     cfg,
		writer:  writer,
		limiter: limiter,
		metrics: metrics,
		session: &ServerSession{},
		upgrader: websocket.Upgrader{
			// the stream endpoint is unauthenticated by design and serves
			// native clients, so any origin is accepted
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]*client),
		logger:  rlog.NewContextLogger(logger),
		sugar:   logger.Sugar(),
	}
	s.decoder = codec.NewDecoder(cfg.DefaultFormat, s, s.sugar)
	return s
}

// RecordFrame implements codec.FrameObserver.
func (s *AudioServer) RecordFrame(outcome string) {
	s.session.recordFrame(outcome)
	if s.metrics != nil {
		s.metrics.RecordFrame(outcome)
	}
}

// SetAccepting opens or closes the server to new connections. Existing
// connections are not affected; use CloseAll for that.
func (s *AudioServer) SetAccepting(accepting bool) {
	s.accepting.Store(accepting)
}

func (s *AudioServer) IsAccepting() bool {
	return s.accepting.Load()
}

// Session returns the counters of the current run.
func (s *AudioServer) Session() *ServerSession {
	return s.session
}

func (s *AudioServer) reject(w http.ResponseWriter, reason string, status int) {
	s.session.clientRejected()
	if s.metrics != nil {
		s.metrics.ConnectionRejected(reason)
	}
	http.Error(w, reason, status)
}

func (s *AudioServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.accepting.Load() {
		s.reject(w, "not_accepting", http.StatusServiceUnavailable)
		return
	}
	if s.limiter != nil && !s.limiter.AllowConnection(r) {
		s.reject(w, "rate_limited", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.sugar.Warnw("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		ClientInfo: ClientInfo{
			ID:          utils.GenerateConnectionID(),
			RemoteAddr:  r.RemoteAddr,
			ConnectedAt: time.Now(),
		},
		conn:    conn,
		limiter: rate.NewLimiter(rate.Inf, 0),
		stop:    make(chan struct{}),
	}
	if s.limiter != nil {
		c.limiter = s.limiter.MessageLimiter()
	}

	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.Lock()
	s.clients[c.ID] = c
	s.mu.Unlock()

	s.session.clientConnected()
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}

	ctx := rlog.WithConnectionID(context.Background(), c.ID)
	log := s.logger.Sugar(ctx)
	log.Infow("client connected", "remote_addr", c.RemoteAddr)

	s.serve(ctx, c, log)

	s.mu.Lock()
	delete(s.clients, c.ID)
	s.mu.Unlock()

	s.session.clientDisconnected()
	lifetime := time.Since(c.ConnectedAt)
	if s.metrics != nil {
		s.metrics.ConnectionClosed(lifetime)
	}
	log.Infow("client disconnected", "duration", utils.FormatDuration(lifetime))
}

// serve runs the ping loop while a reader goroutine handles frames. Frames
// are written from the reader so recorder backpressure reaches the socket.
func (s *AudioServer) serve(ctx context.Context, c *client, log *zap.SugaredLogger) {
	conn := c.conn
	defer conn.Close()

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	errorChan := make(chan error, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			s.handleFrame(ctx, c, data, log)
		}
	}()

	for {
		select {
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				log.Infow("error sending ping", "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Infow("connection closed unexpectedly", "error", err)
			}
			return

		case <-c.stop:
			select {
			case <-errorChan:
			case <-time.After(s.cfg.CloseGrace):
			}
			return
		}
	}
}

func (s *AudioServer) handleFrame(ctx context.Context, c *client, data []byte, log *zap.SugaredLogger) {
	s.session.received(len(data))
	if s.metrics != nil {
		s.metrics.BytesReceived(len(data))
	}

	if !c.limiter.Allow() {
		s.RecordFrame(FrameRateLimited)
		log.Debugw("frame dropped by rate limiter", "size", len(data))
		return
	}

	audio := s.decoder.Decode(data)
	if audio == nil {
		return
	}

	ctx, span := tracing.TraceAudioFrame(ctx, codec.OutcomeAudio, c.ID, len(data))
	defer span.End()

	if err := s.writer.WritePacket(ctx, audio); err != nil {
		tracing.RecordError(ctx, err)
		if errors.Is(err, domain.ErrSessionAborted) {
			log.Errorw("recording aborted while writing packet", "error", err)
			return
		}
		log.Warnw("failed to write packet", "error", err)
	}
}

// ConnectedClients returns the open connections, oldest first.
func (s *AudioServer) ConnectedClients() []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c.ClientInfo)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].ConnectedAt.Before(clients[j].ConnectedAt)
	})
	return clients
}

func (s *AudioServer) IsClientConnected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[id]
	return ok
}

// CloseAll sends a going-away close to every client and waits until their
// handlers return or ctx is done.
func (s *AudioServer) CloseAll(ctx context.Context, reason string) error {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	for _, c := range clients {
		c.shutdown(websocket.CloseGoingAway, reason, deadline)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
