package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/issuewatch/internal/clock"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock used for heartbeat and reconnect timers.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithNotifier sets the side-channel notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// Manager owns the live-update channel. Create one per process with New.
type Manager struct {
	cfg      Config
	target   *url.URL
	dialer   Dialer
	clock    clock.Clock
	notifier Notifier
	logger   *slog.Logger

	mu         sync.Mutex
	phase      Phase
	state      State
	gen        uint64
	credential string
	conn       Conn
	cancelDial context.CancelFunc
	attempt    int
	retry      clock.Timer
	heartbeat  clock.Timer

	// Observers and ordered delivery, see dispatch.go.
	subs       []*subscriber
	sinks      map[string][]*sink
	nextID     uint64
	queue      []delivery
	delivering bool
}

// New creates an idle Manager.
func New(cfg Config, opts ...Option) (*Manager, error) {
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if target.Scheme != "ws" && target.Scheme != "wss" {
		return nil, fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidURL, target.Scheme)
	}
	if cfg.TokenParam == "" {
		cfg.TokenParam = "token"
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}

	m := &Manager{
		cfg:      cfg,
		target:   target,
		clock:    clock.Real(),
		notifier: nopNotifier{},
		logger:   slog.Default(),
		sinks:    make(map[string][]*sink),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = NewDialer(cfg.HandshakeTimeout, cfg.WriteTimeout)
	}
	m.logger = m.logger.With("component", "realtime")
	return m, nil
}

// State returns the current state snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the channel using credential as the token query parameter.
// An empty credential opens without one. No-op while connecting or open.
// A pending reconnect is cancelled and replaced by an immediate attempt.
func (m *Manager) Connect(credential string) {
	m.mu.Lock()
	if m.phase == PhaseConnecting || m.phase == PhaseOpen {
		phase := m.phase
		m.mu.Unlock()
		m.logger.Debug("connect ignored", "phase", phase)
		return
	}
	m.stopRetryLocked()
	m.credential = credential
	m.startAttemptLocked()
	m.mu.Unlock()
	m.flush()
}

// Disconnect closes the channel with CloseNormal, cancels both timers and
// publishes the idle state. No socket or timer callback from before the call
// takes effect afterward, and the next Connect starts with a fresh retry
// budget. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopRetryLocked()
	m.stopHeartbeatLocked()
	m.attempt = 0
	if m.phase == PhaseIdle && !m.state.Connected && !m.state.Connecting && m.state.LastMessage == nil {
		m.mu.Unlock()
		return
	}
	active := m.phase != PhaseIdle
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	conn := m.conn
	m.conn = nil
	m.phase = PhaseIdle
	s := State{ConnectionCount: m.state.ConnectionCount}
	m.publishLocked(s)
	if active {
		m.enqueueLocked(delivery{kind: deliverClosed, state: s})
	}
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(CloseNormal, "client disconnected"); err != nil {
			m.logger.Debug("close failed", "error", err)
		}
	}
	m.logger.Info("disconnected")
	m.flush()
}

// Send encodes v as JSON and queues it as a text frame on the open socket.
// It never waits on the network: the socket's writer goroutine performs the
// write, and a frame that cannot be queued is logged and dropped. It is also
// dropped silently when the channel is not open. Only encoding failures are
// returned.
func (m *Manager) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}

	m.mu.Lock()
	if m.phase != PhaseOpen {
		phase := m.phase
		m.mu.Unlock()
		m.logger.Debug("send dropped, channel not open", "phase", phase)
		return nil
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.WriteMessage(data); err != nil {
		m.logger.Warn("send failed", "error", err)
	}
	return nil
}

// startAttemptLocked begins a new connect attempt. Caller must hold m.mu.
func (m *Manager) startAttemptLocked() {
	m.gen++
	gen := m.gen
	m.phase = PhaseConnecting
	m.publishLocked(State{
		Connecting:      true,
		LastMessage:     m.state.LastMessage,
		ConnectionCount: m.state.ConnectionCount,
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	target := m.dialURL(m.credential)

	m.logger.Debug("connecting", "attempt", m.attempt, "generation", gen)
	go m.dial(ctx, gen, target)
}

func (m *Manager) dialURL(credential string) string {
	u := *m.target
	if credential != "" {
		q := u.Query()
		q.Set(m.cfg.TokenParam, credential)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (m *Manager) dial(ctx context.Context, gen uint64, target string) {
	conn, err := m.dialer.Dial(ctx, target)
	if err != nil {
		m.handleClose(gen, err)
		return
	}
	if !m.handleOpen(gen, conn) {
		conn.Close(CloseNormal, "superseded")
		return
	}
	m.readLoop(gen, conn)
}

func (m *Manager) handleOpen(gen uint64, conn Conn) bool {
	m.mu.Lock()
	if gen != m.gen || m.phase != PhaseConnecting {
		m.mu.Unlock()
		return false
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.conn = conn
	m.phase = PhaseOpen
	m.attempt = 0
	s := State{
		Connected:       true,
		LastMessage:     m.state.LastMessage,
		ConnectionCount: m.state.ConnectionCount + 1,
	}
	m.publishLocked(s)
	m.enqueueLocked(delivery{kind: deliverOpened, state: s})
	m.scheduleHeartbeatLocked(gen)
	m.mu.Unlock()

	m.logger.Info("channel open", "connection_count", s.ConnectionCount)
	m.flush()
	return true
}

// readLoop reads frames until the socket fails, then reports the close.
func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			conn.Close(CloseNormal, "")
			return
		}
		m.handleFrame(gen, data)
	}
}

func (m *Manager) handleFrame(gen uint64, data []byte) {
	msg, decodeErr := decodeMessage(data)

	m.mu.Lock()
	if gen != m.gen || m.phase != PhaseOpen {
		m.mu.Unlock()
		return
	}
	if decodeErr != nil {
		m.mu.Unlock()
		if strings.TrimSpace(string(data)) == "pong" {
			m.logger.Debug("heartbeat reply")
		} else {
			m.logger.Warn("discarding inbound frame", "error", decodeErr, "size", len(data))
		}
		return
	}
	msg.ReceivedAt = m.clock.Now()
	s := m.state
	s.LastMessage = &msg
	m.publishLocked(s)
	m.enqueueLocked(delivery{kind: deliverMessage, msg: msg, sinks: m.sinksLocked(msg.Type)})
	m.mu.Unlock()

	m.logger.Debug("message received", "type", msg.Type)
	m.flush()
}

// handleClose applies the reconnect policy after the socket (or the dial)
// for generation gen failed.
func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || (m.phase != PhaseConnecting && m.phase != PhaseOpen) {
		m.mu.Unlock()
		return
	}
	m.stopHeartbeatLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.conn = nil

	loss := Loss{
		Err:        cause,
		Deliberate: websocket.IsCloseError(cause, CloseNormal),
	}
	m.publishLocked(State{
		LastMessage:     m.state.LastMessage,
		ConnectionCount: m.state.ConnectionCount,
	})

	if !loss.Deliberate && m.attempt < m.cfg.MaxAttempts {
		next := m.attempt + 1
		delay := m.backoff(next)
		m.phase = PhaseRetryPending
		m.scheduleRetryLocked(gen, next, delay)
		loss.Attempt = next
		loss.RetryIn = delay
	} else {
		m.phase = PhaseIdle
	}
	m.enqueueLocked(delivery{kind: deliverLost, loss: loss})
	m.mu.Unlock()

	switch {
	case loss.Deliberate:
		m.logger.Info("channel closed by server")
	case loss.Attempt > 0:
		m.logger.Warn("channel lost, reconnect scheduled",
			"error", cause,
			"attempt", loss.Attempt,
			"max_attempts", m.cfg.MaxAttempts,
			"delay", loss.RetryIn,
		)
	default:
		m.logger.Error("channel lost, reconnect attempts exhausted",
			"error", cause,
			"max_attempts", m.cfg.MaxAttempts,
		)
	}
	m.flush()
}

// backoff returns BaseDelay * 2^(n-1) for reconnect attempt n.
func (m *Manager) backoff(n int) time.Duration {
	d := m.cfg.BaseDelay
	for i := 1; i < n; i++ {
		if d > math.MaxInt64/2 {
			return math.MaxInt64
		}
		d *= 2
	}
	return d
}

func (m *Manager) scheduleRetryLocked(gen uint64, attempt int, delay time.Duration) {
	m.stopRetryLocked()
	m.retry = m.clock.AfterFunc(delay, func() { m.fireRetry(gen, attempt) })
}

func (m *Manager) fireRetry(gen uint64, attempt int) {
	m.mu.Lock()
	if gen != m.gen || m.phase != PhaseRetryPending {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.attempt = attempt
	m.logger.Info("reconnecting", "attempt", attempt, "max_attempts", m.cfg.MaxAttempts)
	m.startAttemptLocked()
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) scheduleHeartbeatLocked(gen uint64) {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	m.heartbeat = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.beat(gen) })
}

func (m *Manager) beat(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.phase != PhaseOpen {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.scheduleHeartbeatLocked(gen)
	m.mu.Unlock()

	if err := conn.WriteMessage([]byte(HeartbeatFrame)); err != nil {
		m.logger.Debug("heartbeat failed", "error", err)
	}
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}
