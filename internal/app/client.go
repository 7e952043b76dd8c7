package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"
	"micstream/internal/core/services"
	"micstream/internal/infrastructure/codec"
	"micstream/internal/infrastructure/transport"
	"micstream/pkg/config"
	"micstream/pkg/retry"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ClientStatus is a point-in-time view of the client.
type ClientStatus struct {
	State      domain.ConnectionState
	Retries    int
	Capturing  bool
	FramesSent uint64
}

// Client streams one capture source to the server. Capture follows the
// connection: it starts on Connected and stops on Disconnected.
type Client struct {
	endpoint string
	conn     *services.ConnectionManager
	capture  services.CaptureService
	logger   *zap.SugaredLogger

	closeOnce sync.Once
}

// NewClient wires a client that dials cfg.Client.Endpoint over WebSocket.
// clk may be nil for the wall clock.
func NewClient(cfg *config.Config, mic ports.Microphone, clk clock.Clock, logger *zap.Logger) *Client {
	sugar := logger.Sugar()
	dialerCfg := transport.DefaultConfig()
	if cfg.Client.SendQueue > 0 {
		dialerCfg.SendQueue = cfg.Client.SendQueue
	}
	if cfg.Client.DialTimeout > 0 {
		dialerCfg.HandshakeTimeout = cfg.Client.DialTimeout
	}
	dialer := transport.NewWebSocketDialer(dialerCfg, sugar.With("component", "transport"))
	return newClient(cfg, dialer, mic, clk, sugar)
}

func newClient(cfg *config.Config, dialer ports.Dialer, mic ports.Microphone, clk clock.Clock, logger *zap.SugaredLogger) *Client {
	backoff := retry.ReconnectConfig()
	backoff.MaxAttempts = cfg.Client.MaxRetries
	backoff.InitialDelay = cfg.Client.InitialDelay
	backoff.MaxDelay = cfg.Client.MaxDelay

	conn := services.NewConnectionManager(dialer, services.ConnectionManagerConfig{
		Endpoint:    cfg.Client.Endpoint,
		Retry:       backoff,
		DialTimeout: cfg.Client.DialTimeout,
	}, clk, logger.With("component", "connection"))

	format := domain.AudioFormat{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BitDepth:   cfg.Audio.BitDepth,
	}
	capture := services.NewCaptureService(
		mic,
		codec.NewFramer(format, cfg.Client.BufferSize),
		conn,
		format,
		cfg.Client.BufferSize,
		logger.With("component", "capture"),
	)

	return &Client{
		endpoint: cfg.Client.Endpoint,
		conn:     conn,
		capture:  capture,
		logger:   logger,
	}
}

// Run acquires the capture source, connects and follows connection state
// until ctx is done. A refused microphone grant is returned before any
// connection is attempted.
func (c *Client) Run(ctx context.Context) error {
	if _, err := c.capture.RequestAccess(ctx); err != nil {
		if errors.Is(err, domain.ErrPermissionDenied) {
			c.logger.Errorw("microphone permission denied, not connecting", "error", err)
		}
		return err
	}

	states, unsubscribe := c.conn.Subscribe()
	defer unsubscribe()

	c.logger.Infow("connecting", "endpoint", c.endpoint)
	c.conn.Connect()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case state, ok := <-states:
			if !ok {
				c.shutdown()
				return nil
			}
			if err := c.follow(ctx, state); err != nil {
				c.logger.Errorw("capture transition failed", "state", state.String(), "error", err)
			}
		}
	}
}

func (c *Client) follow(ctx context.Context, state domain.ConnectionState) error {
	c.logger.Debugw("connection state changed", "state", state.String())

	switch state {
	case domain.StateConnected:
		// the handle is released on every stop, so reacquire after a reconnect
		if _, err := c.capture.RequestAccess(ctx); err != nil {
			return err
		}
		return c.capture.StartCapture()
	case domain.StateDisconnected:
		if c.capture.IsCapturing() {
			c.logger.Infow("connection lost, capture stopped", "frames_sent", c.capture.FramesSent())
		}
		return c.capture.StopCapture()
	}
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		if err := c.capture.StopCapture(); err != nil {
			c.logger.Warnw("failed to stop capture", "error", err)
		}
		c.conn.Close()
		c.logger.Infow("client stopped", "frames_sent", c.capture.FramesSent())
	})
}

// Reconnect drops the current connection and starts a fresh attempt.
func (c *Client) Reconnect() {
	c.conn.Disconnect()
	c.conn.Connect()
}

func (c *Client) Status() ClientStatus {
	return ClientStatus{
		State:      c.conn.State(),
		Retries:    c.conn.RetryCount(),
		Capturing:  c.capture.IsCapturing(),
		FramesSent: c.capture.FramesSent(),
	}
}

func (s ClientStatus) String() string {
	return fmt.Sprintf("state=%s retries=%d capturing=%t frames_sent=%d",
		s.State, s.Retries, s.Capturing, s.FramesSent)
}
