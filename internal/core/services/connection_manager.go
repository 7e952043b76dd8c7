package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"
	"micstream/pkg/retry"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

type ConnectionManagerConfig struct {
	Endpoint    string
	Retry       retry.Config
	DialTimeout time.Duration
}

// ConnectionManager keeps one logical transport to the server alive. All
// state is owned by a single event loop goroutine; commands, dial results,
// transport callbacks and retry timers are posted to it as events.
type ConnectionManager struct {
	dialer ports.Dialer
	cfg    ConnectionManagerConfig
	clock  clock.Clock
	logger *zap.SugaredLogger

	events chan any
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	loopDone  chan struct{}

	// loop-owned
	state      domain.ConnectionState
	retries    int
	generation uint64
	transport  ports.Transport
	timer      *clock.Timer
	timerToken uint64
	// attempted is set once a dial starts in the current state.
	attempted bool

	// mirrors for lock-free readers
	retryMirror atomic.Int32
	live        atomic.Pointer[liveTransport]

	broadcaster *StateBroadcaster
}

type liveTransport struct {
	ports.Transport
}

type (
	connectCmd    struct{ ack chan struct{} }
	disconnectCmd struct{ ack chan struct{} }
	dialResult    struct {
		generation uint64
		transport  ports.Transport
		err        error
	}
	closeEvent struct {
		generation uint64
		code       int
		reason     string
	}
	errorEvent struct {
		generation uint64
		err        error
	}
	retryFired struct{ token uint64 }
)

func NewConnectionManager(dialer ports.Dialer, cfg ConnectionManagerConfig, clk clock.Clock, logger *zap.SugaredLogger) *ConnectionManager {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &ConnectionManager{
		dialer:      dialer,
		cfg:         cfg,
		clock:       clk,
		logger:      logger,
		events:      make(chan any, 64),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		state:       domain.StateDisconnected,
		broadcaster: NewStateBroadcaster(domain.StateDisconnected, 16),
	}
	go m.loop()
	return m
}

// Connect starts a fresh connection attempt. It is a no-op while connected
// or connecting.
func (m *ConnectionManager) Connect() {
	ack := make(chan struct{})
	if m.post(connectCmd{ack: ack}) {
		m.wait(ack)
	}
}

// Disconnect cancels any pending retry, closes the transport with a normal
// closure and settles in Disconnected. Safe to call repeatedly.
func (m *ConnectionManager) Disconnect() {
	ack := make(chan struct{})
	if m.post(disconnectCmd{ack: ack}) {
		m.wait(ack)
	}
}

// Send hands data to the transport when connected and silently drops it
// otherwise. It never blocks.
func (m *ConnectionManager) Send(data []byte) {
	if m.State() != domain.StateConnected {
		return
	}
	live := m.live.Load()
	if live == nil {
		return
	}
	if err := live.Send(data); err != nil {
		m.logger.Debugw("dropping outbound frame", "error", err, "size", len(data))
	}
}

func (m *ConnectionManager) IsConnected() bool {
	return m.State() == domain.StateConnected
}

func (m *ConnectionManager) State() domain.ConnectionState {
	return m.broadcaster.Current()
}

func (m *ConnectionManager) RetryCount() int {
	return int(m.retryMirror.Load())
}

// Subscribe returns a replaying stream of states and its cancel func.
func (m *ConnectionManager) Subscribe() (<-chan domain.ConnectionState, func()) {
	return m.broadcaster.Subscribe()
}

// Close disconnects and stops the event loop. Subscriptions are closed.
func (m *ConnectionManager) Close() {
	m.Disconnect()
	m.closeOnce.Do(func() {
		close(m.done)
		m.cancel()
		<-m.loopDone
		m.broadcaster.Close()
	})
}

func (m *ConnectionManager) post(ev any) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *ConnectionManager) wait(ack chan struct{}) {
	select {
	case <-ack:
	case <-m.loopDone:
	}
}

func (m *ConnectionManager) loop() {
	defer close(m.loopDone)
	for {
		select {
		case ev := <-m.events:
			m.handle(ev)
		case <-m.done:
			m.cancelRetry()
			if m.transport != nil {
				m.closeTransport(m.transport, domain.CloseNormalClosure, "client shutdown")
				m.transport = nil
			}
			return
		}
	}
}

func (m *ConnectionManager) handle(ev any) {
	switch e := ev.(type) {
	case connectCmd:
		m.onConnect()
		close(e.ack)
	case disconnectCmd:
		m.onDisconnect()
		close(e.ack)
	case dialResult:
		m.onDialResult(e)
	case closeEvent:
		m.onClose(e)
	case errorEvent:
		m.onError(e)
	case retryFired:
		if e.token != m.timerToken || m.timer == nil {
			return
		}
		m.timer = nil
		m.attempt()
	}
}

func (m *ConnectionManager) onConnect() {
	if m.state == domain.StateConnected || m.state == domain.StateConnecting {
		m.logger.Debugw("connect ignored", "state", m.state.String())
		return
	}
	m.cancelRetry()
	m.dropTransport()
	m.setRetries(0)
	m.attempt()
}

func (m *ConnectionManager) onDisconnect() {
	m.cancelRetry()
	m.setRetries(0)
	if m.state == domain.StateDisconnected && m.transport == nil {
		return
	}
	m.dropTransport()
	m.setState(domain.StateDisconnected)
	m.logger.Infow("disconnected", "endpoint", m.cfg.Endpoint)
}

// attempt opens a new transport. The dial runs off the loop and reports back
// through a dialResult tagged with the attempt's generation.
func (m *ConnectionManager) attempt() {
	switch {
	case m.retries == 0:
		m.setState(domain.StateConnecting)
	case m.state != domain.StateReconnecting || m.attempted:
		// skipped when a lost connection already announced this attempt
		m.setState(domain.StateReconnecting)
	}
	m.attempted = true

	m.generation++
	generation := m.generation
	events := &transportEvents{manager: m, generation: generation}

	m.logger.Infow("connecting", "endpoint", m.cfg.Endpoint, "attempt", m.retries+1)

	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
		defer cancel()

		transport, err := m.dialer.Dial(ctx, m.cfg.Endpoint, events)
		if !m.post(dialResult{generation: generation, transport: transport, err: err}) && transport != nil {
			_ = transport.Close(domain.CloseNormalClosure, "client shutdown")
		}
	}()
}

func (m *ConnectionManager) onDialResult(e dialResult) {
	if e.generation != m.generation {
		if e.transport != nil {
			m.closeTransport(e.transport, domain.CloseNormalClosure, "superseded")
		}
		return
	}

	if e.err != nil {
		m.logger.Warnw("transport open failed",
			"endpoint", m.cfg.Endpoint,
			"error", fmt.Errorf("%w: %v", domain.ErrTransportOpenFailure, e.err),
		)
		m.generation++
		m.reconnect()
		return
	}

	m.transport = e.transport
	m.cancelRetry()
	m.setRetries(0)
	m.live.Store(&liveTransport{Transport: e.transport})
	m.setState(domain.StateConnected)
	m.logger.Infow("connected", "endpoint", m.cfg.Endpoint)
}

func (m *ConnectionManager) onClose(e closeEvent) {
	if e.generation != m.generation {
		return
	}
	m.transport = nil
	m.live.Store(nil)
	m.generation++

	if e.code == domain.CloseNormalClosure {
		m.cancelRetry()
		m.setRetries(0)
		m.setState(domain.StateDisconnected)
		m.logger.Infow("server closed connection", "code", e.code, "reason", e.reason)
		return
	}

	m.logger.Warnw("connection lost",
		"code", e.code,
		"reason", e.reason,
		"error", domain.ErrTransportAbnormalClose,
	)
	if m.state == domain.StateConnected || m.state == domain.StateError {
		m.setState(domain.StateReconnecting)
	}
	m.reconnect()
}

func (m *ConnectionManager) onError(e errorEvent) {
	if e.generation != m.generation {
		return
	}
	m.live.Store(nil)
	m.setState(domain.StateError)
	m.logger.Errorw("transport error", "endpoint", m.cfg.Endpoint, "error", e.err)
}

// reconnect schedules the next attempt, or gives up once the retry budget
// is spent.
func (m *ConnectionManager) reconnect() {
	if m.retries >= m.cfg.Retry.MaxAttempts {
		m.logger.Warnw("giving up reconnecting",
			"endpoint", m.cfg.Endpoint,
			"error", domain.ErrMaxRetriesExceeded,
			"attempts", m.retries,
		)
		m.setRetries(0)
		m.setState(domain.StateDisconnected)
		return
	}

	m.cancelRetry()
	attempt := m.retries + 1
	delay := m.cfg.Retry.Delay(attempt)
	token := m.timerToken
	m.timer = m.clock.AfterFunc(delay, func() {
		m.post(retryFired{token: token})
	})
	m.setRetries(attempt)

	m.logger.Infow("scheduling reconnect", "attempt", attempt, "delay", delay)
}

func (m *ConnectionManager) cancelRetry() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerToken++
}

// dropTransport invalidates the current generation and closes its transport,
// if any. Close events it produces are stale by then.
func (m *ConnectionManager) dropTransport() {
	m.generation++
	m.live.Store(nil)
	if m.transport != nil {
		m.closeTransport(m.transport, domain.CloseNormalClosure, "client disconnect")
		m.transport = nil
	}
}

func (m *ConnectionManager) closeTransport(t ports.Transport, code int, reason string) {
	if err := t.Close(code, reason); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Debugw("transport close failed", "error", err)
	}
}

func (m *ConnectionManager) setState(state domain.ConnectionState) {
	m.state = state
	m.attempted = false
	m.broadcaster.Publish(state)
}

func (m *ConnectionManager) setRetries(n int) {
	m.retries = n
	m.retryMirror.Store(int32(n))
}

// transportEvents tags callbacks from one transport with its generation.
type transportEvents struct {
	manager    *ConnectionManager
	generation uint64
}

func (e *transportEvents) OnClose(code int, reason string) {
	e.manager.post(closeEvent{generation: e.generation, code: code, reason: reason})
}

func (e *transportEvents) OnError(err error) {
	e.manager.post(errorEvent{generation: e.generation, err: err})
}
