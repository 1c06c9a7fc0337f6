// Package eventsub owns the long-lived EventSub WebSocket connection and the
// conduit/shard orchestration that feeds it.
package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/streamforge/streamforge/pkg/eventsub"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateActive
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn the manager drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a WebSocket connection to the given URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DefaultDialer dials with gorilla's default WebSocket dialer.
func DefaultDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Notifier receives decoded notifications from the read loop.
type Notifier interface {
	Dispatch(ctx context.Context, subType eventsub.SubscriptionType, payload json.RawMessage)
}

// Binder rebinds conduit shard transports to a new session id.
type Binder interface {
	HasConduit() bool
	RebindTransport(ctx context.Context, sessionID string) error
}

const (
	defaultKeepaliveTimeout = 10 * time.Second
	keepaliveSlack          = 2 * time.Second
)

type ManagerConfig struct {
	URL      string
	Dialer   Dialer
	Notifier Notifier
	Binder   Binder
	Logger   *zap.Logger

	// MaxMissedKeepalives is the number of consecutive missed keepalive
	// checks before the connection is force-closed. Defaults to 3.
	MaxMissedKeepalives int
	// ReconnectDelay is the fixed backoff before re-dialing after a
	// transient close. Defaults to 5s.
	ReconnectDelay time.Duration
	// ReconnectGrace is how long in-flight dispatches get to finish after a
	// session_reconnect before the old socket is closed. Defaults to 1s.
	ReconnectGrace time.Duration
	// DispatchBuffer is the notification queue depth between the read loop
	// and the sequential dispatcher. Defaults to 64.
	DispatchBuffer int
}

// Manager owns one EventSub WebSocket connection: the session state machine,
// the keepalive watchdog, and close-code/reconnect handling. Notifications
// are handed to the Notifier strictly in arrival order.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.Logger
	slack  time.Duration

	mu               sync.Mutex
	state            State
	conn             Conn
	sessionID        string
	reconnectURL     string
	keepaliveTimeout time.Duration
	lastKeepalive    time.Time
	missed           int
	forceClosed      bool
	serverReconnect  bool
	shutdown         bool
	cancelWatchdog   context.CancelFunc
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DefaultDialer
	}
	if cfg.MaxMissedKeepalives <= 0 {
		cfg.MaxMissedKeepalives = 3
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.ReconnectGrace <= 0 {
		cfg.ReconnectGrace = time.Second
	}
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = 64
	}
	return &Manager{
		cfg:              cfg,
		logger:           cfg.Logger,
		slack:            keepaliveSlack,
		state:            StateDisconnected,
		keepaliveTimeout: defaultKeepaliveTimeout,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Connect dials the configured URL and starts the read loop. It returns once
// the socket is open; the welcome message moves the manager to Active
// asynchronously.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.cfg.Dialer(ctx, m.cfg.URL)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return err
	}
	m.adopt(ctx, conn)
	return nil
}

// Shutdown closes the connection and stops all reconnect behavior.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	m.state = StateClosed
	cancel := m.cancelWatchdog
	conn := m.conn
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// adopt installs a freshly dialed connection and starts its read loop.
func (m *Manager) adopt(ctx context.Context, conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.forceClosed = false
	m.serverReconnect = false
	m.missed = 0
	m.lastKeepalive = time.Now()
	m.mu.Unlock()

	go m.readLoop(ctx, conn)
}

type notification struct {
	subType eventsub.SubscriptionType
	payload json.RawMessage
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	// Dispatch runs on its own goroutine so the read loop is never blocked by
	// a slow handler, while a single consumer preserves per-socket ordering.
	notifCh := make(chan notification, m.cfg.DispatchBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := range notifCh {
			m.cfg.Notifier.Dispatch(ctx, n.subType, n.payload)
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			close(notifCh)
			<-done
			m.handleDisconnect(ctx, err)
			return
		}

		var env eventsub.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Malformed frame: drop it, keep the connection.
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		m.handleEnvelope(ctx, conn, &env, notifCh)
	}
}

func (m *Manager) handleEnvelope(ctx context.Context, conn Conn, env *eventsub.Envelope, notifCh chan<- notification) {
	switch env.Metadata.MessageType {
	case eventsub.MessageTypeSessionWelcome:
		m.handleWelcome(ctx, conn, env.Payload.Session)

	case eventsub.MessageTypeSessionKeepalive:
		m.mu.Lock()
		m.lastKeepalive = time.Now()
		m.missed = 0
		if s := env.Payload.Session; s != nil && s.KeepaliveTimeoutSeconds > 0 {
			m.keepaliveTimeout = time.Duration(s.KeepaliveTimeoutSeconds) * time.Second
		}
		m.mu.Unlock()

	case eventsub.MessageTypeNotification:
		if env.Metadata.SubscriptionType == "" || env.Payload.Event == nil {
			return
		}
		notifCh <- notification{subType: env.Metadata.SubscriptionType, payload: env.Payload.Event}

	case eventsub.MessageTypeSessionReconnect:
		m.handleReconnectRequest(conn, env.Payload.Session)

	case eventsub.MessageTypeRevocation:
		m.handleRevocation(env)

	default:
		m.logger.Warn("unknown message type", zap.String("type", string(env.Metadata.MessageType)))
	}
}

func (m *Manager) handleWelcome(ctx context.Context, conn Conn, session *eventsub.Session) {
	if session == nil {
		m.logger.Error("session welcome without session payload")
		return
	}

	m.mu.Lock()
	m.sessionID = session.ID
	m.reconnectURL = session.ReconnectURL
	m.lastKeepalive = time.Now()
	m.missed = 0
	if session.KeepaliveTimeoutSeconds > 0 {
		m.keepaliveTimeout = time.Duration(session.KeepaliveTimeoutSeconds) * time.Second
	}
	m.state = StateActive
	if m.cancelWatchdog != nil {
		m.cancelWatchdog()
	}
	wdCtx, cancel := context.WithCancel(ctx)
	m.cancelWatchdog = cancel
	m.mu.Unlock()

	m.logger.Info("session established",
		zap.String("session_id", session.ID),
		zap.Int("keepalive_timeout_s", session.KeepaliveTimeoutSeconds))

	go m.watchdog(wdCtx, conn)

	// Rebinding is fire-and-forget: failure must not block the session.
	if m.cfg.Binder != nil && m.cfg.Binder.HasConduit() {
		go func() {
			if err := m.cfg.Binder.RebindTransport(ctx, session.ID); err != nil {
				m.logger.Error("failed to rebind shard transports",
					zap.String("session_id", session.ID), zap.Error(err))
			}
		}()
	}
}

func (m *Manager) handleReconnectRequest(conn Conn, session *eventsub.Session) {
	if session == nil || session.ReconnectURL == "" {
		m.logger.Error("session reconnect without reconnect url")
		return
	}

	m.mu.Lock()
	m.reconnectURL = session.ReconnectURL
	m.serverReconnect = true
	m.state = StateReconnecting
	m.mu.Unlock()

	m.logger.Info("session reconnect requested", zap.String("reconnect_url", session.ReconnectURL))

	// Close after a short grace so in-flight dispatches drain. The read loop
	// error path performs the actual reconnect.
	go func() {
		time.Sleep(m.cfg.ReconnectGrace)
		_ = conn.Close()
	}()
}

func (m *Manager) handleRevocation(env *eventsub.Envelope) {
	reason := "unknown"
	subType := eventsub.SubscriptionType("")
	if sub := env.Payload.Subscription; sub != nil {
		subType = sub.Type
		switch sub.Status {
		case "user_removed", "authorization_revoked", "version_removed":
			reason = sub.Status
		}
	}
	m.logger.Warn("subscription revoked",
		zap.String("subscription_type", string(subType)),
		zap.String("reason", reason))
}

// watchdog checks for missed keepalives every timeout+slack. After the
// configured number of consecutive misses, it force-closes the socket exactly
// once; the resulting read error drives the reconnect path.
func (m *Manager) watchdog(ctx context.Context, conn Conn) {
	for {
		m.mu.Lock()
		period := m.keepaliveTimeout + m.slack
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(period):
		}

		m.mu.Lock()
		elapsed := time.Since(m.lastKeepalive)
		if elapsed <= period {
			m.mu.Unlock()
			continue
		}
		m.missed++
		missed := m.missed
		force := missed >= m.cfg.MaxMissedKeepalives && !m.forceClosed
		if force {
			m.forceClosed = true
		}
		m.mu.Unlock()

		m.logger.Warn("missed keepalive",
			zap.Int("missed", missed),
			zap.Int("max", m.cfg.MaxMissedKeepalives),
			zap.Duration("since_last", elapsed))

		if force {
			m.logger.Error("closing connection after too many missed keepalives")
			_ = conn.Close()
			return
		}
	}
}

func (m *Manager) handleDisconnect(ctx context.Context, readErr error) {
	m.mu.Lock()
	if m.cancelWatchdog != nil {
		m.cancelWatchdog()
		m.cancelWatchdog = nil
	}
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	serverReconnect := m.serverReconnect
	reconnectURL := m.reconnectURL
	m.mu.Unlock()

	var closeErr *websocket.CloseError
	code := -1
	if errors.As(readErr, &closeErr) {
		code = closeErr.Code
	}
	m.logger.Info("connection closed", zap.Int("code", code), zap.Error(readErr))

	target := ""
	delay := m.cfg.ReconnectDelay

	switch {
	case serverReconnect:
		// Server asked us to move; dial the replacement immediately.
		target = reconnectURL
		delay = 0

	case code == eventsub.CloseClientSentTraffic:
		// Non-recoverable client bug; reconnecting would just repeat it.
		m.logger.Error("server closed connection: client sent inbound traffic")
		m.setState(StateClosed)
		return

	case code == eventsub.CloseReconnectGrace, code == eventsub.CloseInvalidReconnectURL:
		target = m.cfg.URL // fresh connection

	case code == websocket.CloseNormalClosure:
		if reconnectURL == "" {
			m.setState(StateClosed)
			return
		}
		target = reconnectURL

	default:
		// Transient: internal error, failed keepalive, unused connection,
		// network timeout/error, or a local force-close.
		target = reconnectURL
		if target == "" {
			target = m.cfg.URL
		}
	}

	m.setState(StateReconnecting)
	m.redial(ctx, target, delay)
}

// redial keeps trying to restore the connection until it succeeds or the
// context is cancelled. A stale reconnect URL falls back to the primary URL.
func (m *Manager) redial(ctx context.Context, target string, delay time.Duration) {
	for {
		if delay > 0 {
			select {
			case <-ctx.Done():
				m.setState(StateClosed)
				return
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			m.setState(StateClosed)
			return
		}

		m.logger.Info("reconnecting", zap.String("url", target))
		conn, err := m.cfg.Dialer(ctx, target)
		if err == nil {
			m.adopt(ctx, conn)
			return
		}
		m.logger.Error("reconnect failed", zap.String("url", target), zap.Error(err))
		target = m.cfg.URL
		delay = m.cfg.ReconnectDelay
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
