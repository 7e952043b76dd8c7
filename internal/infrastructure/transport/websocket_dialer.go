// Package transport implements the client side of the audio stream over a
// gorilla WebSocket connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrSendQueueFull   = errors.New("send queue full")
)

// Config contains dialer configuration
type Config struct {
	SendQueue        int           // Frames buffered ahead of the socket writer
	WriteTimeout     time.Duration // Deadline for a single frame write
	HandshakeTimeout time.Duration
	CloseGrace       time.Duration // How long to wait for the peer's close echo
}

// DefaultConfig returns default dialer configuration
func DefaultConfig() Config {
	return Config{
		SendQueue:        64,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		CloseGrace:       2 * time.Second,
	}
}

// WebSocketDialer opens text-frame WebSocket transports.
type WebSocketDialer struct {
	dialer *websocket.Dialer
	cfg    Config
	logger *zap.SugaredLogger
}

func NewWebSocketDialer(cfg Config, logger *zap.SugaredLogger) *WebSocketDialer {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultConfig().SendQueue
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = DefaultConfig().CloseGrace
	}
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  16 * 1024,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Dial blocks until the handshake completes. The returned transport reports
// exactly one OnClose; a read failure without a close frame is reported as
// OnError followed by OnClose(1006).
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, events ports.TransportEvents) (ports.Transport, error) {
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: handshake status %d", domain.ErrTransportOpenFailure, endpoint, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrTransportOpenFailure, endpoint, err)
	}

	t := &wsTransport{
		conn:    conn,
		events:  events,
		cfg:     d.cfg,
		logger:  d.logger,
		send:    make(chan []byte, d.cfg.SendQueue),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	go t.writeLoop()

	d.logger.Debugw("websocket transport open", "endpoint", endpoint)
	return t, nil
}

type wsTransport struct {
	conn   *websocket.Conn
	events ports.TransportEvents
	cfg    Config
	logger *zap.SugaredLogger

	send    chan []byte
	closing chan struct{} // closed by Close
	done    chan struct{} // closed when the reader exits

	closed    atomic.Bool
	closeOnce sync.Once
	closeFire sync.Once
}

func (t *wsTransport) Send(data []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return ErrTransportClosed
	default:
		return ErrSendQueueFull
	}
}

// Close sends a close frame and waits up to CloseGrace for the echo. The
// reader reports the final code through OnClose.
func (t *wsTransport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.closing)

		msg := websocket.FormatCloseMessage(code, reason)
		err = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.cfg.CloseGrace))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			t.conn.Close()
			return
		}
		err = nil
		t.conn.SetReadDeadline(time.Now().Add(t.cfg.CloseGrace))
	})
	return err
}

func (t *wsTransport) readLoop() {
	defer close(t.done)
	defer t.conn.Close()

	for {
		if _, _, err := t.conn.ReadMessage(); err != nil {
			t.handleReadError(err)
			return
		}
		// the server never sends data frames; anything else is ignored
	}
}

func (t *wsTransport) handleReadError(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		t.fireClose(closeErr.Code, closeErr.Text)
		return
	}

	t.events.OnError(fmt.Errorf("%w: %v", domain.ErrTransportAbnormalClose, err))
	t.fireClose(domain.CloseAbnormalClosure, err.Error())
}

func (t *wsTransport) fireClose(code int, reason string) {
	t.closeFire.Do(func() {
		t.closed.Store(true)
		t.events.OnClose(code, reason)
	})
}

func (t *wsTransport) writeLoop() {
	for {
		select {
		case data := <-t.send:
			if t.cfg.WriteTimeout > 0 {
				t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.logger.Debugw("websocket write failed", "error", err)
				// unblocks the reader, which reports the failure
				t.conn.Close()
				return
			}
		case <-t.closing:
			return
		case <-t.done:
			return
		}
	}
}
