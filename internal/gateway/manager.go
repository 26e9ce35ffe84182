package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/user/blimp/internal/state"
	"github.com/user/blimp/internal/types"
)

// DefaultGatewayURL is the production gateway endpoint.
const DefaultGatewayURL = "wss://gateway.discord.gg/?v=8&encoding=json"

// ConnState is the connection manager's lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateIdentifying
	StateOpen
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Option configures a Manager.
type Option func(*Manager)

// WithURL overrides the gateway URL.
func WithURL(url string) Option {
	return func(m *Manager) { m.url = url }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithPolicy sets the reconnect policy.
func WithPolicy(p *ReconnectPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithSession supplies the session record, e.g. to share it with a reader.
func WithSession(s *state.Session) Option {
	return func(m *Manager) { m.session = s }
}

// Manager owns the gateway socket: it connects, sends the Identify or
// Resume handshake, feeds every inbound frame through the codec, tracks the
// session and reconnects when the socket closes.
type Manager struct {
	creds   Credentials
	router  *Router
	session *state.Session
	url     string
	dialer  Dialer
	policy  *ReconnectPolicy
	logger  *slog.Logger
	metrics *Metrics

	state     atomic.Int32
	helloOnce sync.Once
	mu        sync.Mutex
	conn      Conn
	connID    types.ConnectionID
	opened    bool
	lastShake Opcode

	// localClose and rejected are reset per connection. They keep a
	// deliberate close or an already reported op 9 from being read as a
	// refused resume.
	localClose bool
	rejected   bool
}

// NewManager creates a manager for creds that forwards events to router.
func NewManager(creds Credentials, router *Router, opts ...Option) *Manager {
	m := &Manager{
		creds:  creds,
		router: router,
		url:    DefaultGatewayURL,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.session == nil {
		m.session = state.NewSession()
	}
	if m.dialer == nil {
		m.dialer = NewWebsocketDialer(0)
	}
	if m.policy == nil {
		m.policy = DefaultReconnectPolicy()
	}
	if m.router == nil {
		m.router = NewRouter(nil, m.logger)
	}
	return m
}

// Run connects and keeps the connection alive until ctx is cancelled, in
// which case it returns nil. It returns an error wrapping
// ErrReconnectExhausted when the reconnect policy gives up, or ErrFatalClose
// when the gateway closes with a code such as failed authentication.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("starting gateway connection", "url", m.url, "credentials", m.creds)
	defer m.setState(StateDisconnected)

	failures := 0
	for {
		opened, err := m.runConnection(ctx)
		m.setState(StateDisconnected)
		if ctx.Err() != nil {
			m.logger.Info("gateway connection stopped")
			return nil
		}

		if opened {
			failures = 0
		} else {
			failures++
		}
		if code, ok := closeCode(err); ok && fatalClose(code) {
			m.logger.Error("gateway closed with a fatal code", "code", code, "error", err)
			return fmt.Errorf("%w (close %d): %w", ErrFatalClose, code, err)
		}
		m.logger.Warn("gateway connection lost",
			"reason", closeReason(err),
			"consecutive_failures", failures,
			"error", err,
		)

		if !m.policy.ShouldRetry(failures) {
			m.logger.Error("giving up on gateway", "attempts", failures)
			return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, failures, err)
		}
		if failures > 0 {
			if err := m.policy.Wait(ctx, failures); err != nil {
				return nil
			}
		}
		m.metrics.reconnecting()
	}
}

// runConnection drives a single socket from dial to closure. It reports
// whether the connection reached Open.
func (m *Manager) runConnection(ctx context.Context) (bool, error) {
	m.setState(StateConnecting)
	conn, err := m.dialer.Dial(ctx, m.url)
	if err != nil {
		m.metrics.connectFailed()
		return false, err
	}

	gen := m.session.NextGeneration()
	connID := types.NewConnectionID()
	m.mu.Lock()
	m.conn = conn
	m.connID = connID
	m.opened = false
	m.localClose = false
	m.rejected = false
	m.mu.Unlock()
	m.metrics.connected()

	logger := m.logger.With("connection_id", connID, "generation", gen)
	logger.Info("gateway connected")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()
		m.metrics.disconnected()
	}()

	m.setState(StateIdentifying)
	hs := m.nextHandshake()
	data, err := Encode(hs)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", hs.Op, err)
	}
	m.mu.Lock()
	m.lastShake = hs.Op
	m.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.setState(StateClosing)
		return false, fmt.Errorf("send %s: %w", hs.Op, err)
	}
	m.metrics.handshake(hs.Op)
	logger.Debug("handshake sent", "op", hs.Op)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			m.setState(StateClosing)
			m.mu.Lock()
			opened, local, reported, shake := m.opened, m.localClose, m.rejected, m.lastShake
			m.mu.Unlock()
			if unexpectedClose(err) {
				logger.Debug("unexpected close from gateway", "error", err)
			}
			if shake == OpResume && !opened && !local && !reported && ctx.Err() == nil {
				m.refuseResume(logger, err)
			}
			return opened, fmt.Errorf("read frame: %w", err)
		}
		m.HandleFrame(ctx, frame)
	}
}

// nextHandshake picks Resume when a session id is known and Identify
// otherwise. A fresh Identify starts from a cleared session.
func (m *Manager) nextHandshake() Envelope {
	if id, ok := m.session.CurrentID(); ok {
		seq, _ := m.session.LastSequence()
		return BuildResume(m.creds, id, seq)
	}
	m.session.Clear()
	return BuildIdentify(m.creds)
}

// refuseResume handles a socket the server closed after a Resume and before
// RESUMED. The session cannot be resumed, so it is cleared and the next
// connection identifies afresh.
func (m *Manager) refuseResume(logger *slog.Logger, cause error) {
	id, _ := m.session.CurrentID()
	code, _ := closeCode(cause)
	rej := &HandshakeRejectedError{Handshake: OpResume, SessionID: id, CloseCode: code}
	m.metrics.rejected(false)
	logger.Warn("gateway refused resume, identifying on next connection", "error", rej, "cause", cause)
	m.session.Clear()
}

// HandleFrame processes one inbound wire frame. Undecodable frames are
// logged and dropped without touching the connection.
func (m *Manager) HandleFrame(ctx context.Context, data []byte) {
	env, err := Decode(data)
	if err != nil {
		m.metrics.decodeError()
		var de *DecodeError
		if errors.As(err, &de) {
			m.logger.Warn("dropping undecodable frame", "error", err, "frame", de.Frame)
		} else {
			m.logger.Warn("dropping undecodable frame", "error", err)
		}
		return
	}
	m.metrics.frame(env.Op)

	switch env.Op {
	case OpDispatch:
		m.handleDispatch(ctx, env)
	case OpHello:
		m.handleHello(env)
	case OpReconnect:
		m.logger.Info("gateway requested reconnect")
		m.closeConn()
	case OpInvalidSession:
		m.handleInvalidSession(env)
	default:
		m.logger.Debug("ignoring envelope", "op", env.Op)
	}
}

func (m *Manager) handleDispatch(ctx context.Context, env Envelope) {
	if seq, ok := env.Sequence(); ok {
		m.session.ObserveSequence(seq)
		if last, ok := m.session.LastSequence(); ok {
			m.metrics.sequence(last)
		}
	}
	event := env.EventName()
	m.metrics.dispatch(event)

	switch event {
	case EventReady:
		id, err := ReadySessionID(env.Body)
		if err != nil {
			m.logger.Warn("ignoring malformed ready event", "error", err)
			break
		}
		m.session.MarkReady(id)
		m.markOpen()
		m.logger.Info("gateway session ready", "session_id", id)
	case EventResumed:
		m.markOpen()
		id, _ := m.session.CurrentID()
		m.logger.Info("gateway session resumed", "session_id", id)
	}

	m.router.Route(ctx, env)
}

func (m *Manager) handleHello(env Envelope) {
	interval, _ := HeartbeatInterval(env.Body)
	m.logger.Debug("gateway hello", "heartbeat_interval_ms", interval)
	m.helloOnce.Do(func() {
		m.logger.Warn("heartbeating is not implemented; the gateway may drop idle connections",
			"heartbeat_interval_ms", interval)
	})
}

func (m *Manager) handleInvalidSession(env Envelope) {
	resumable, _ := env.Body.AsBool()
	id, _ := m.session.CurrentID()

	m.mu.Lock()
	shake := m.lastShake
	m.rejected = true
	m.mu.Unlock()
	rej := &HandshakeRejectedError{Handshake: shake, SessionID: id, Resumable: resumable}
	m.metrics.rejected(resumable)
	m.logger.Warn("gateway rejected session", "error", rej, "resumable", resumable)

	if !resumable {
		m.session.Clear()
	}
	m.closeConn()
}

func (m *Manager) markOpen() {
	m.mu.Lock()
	m.opened = true
	m.mu.Unlock()
	m.setState(StateOpen)
}

func (m *Manager) closeConn() bool {
	m.mu.Lock()
	conn := m.conn
	if conn != nil {
		m.localClose = true
	}
	m.mu.Unlock()
	if conn == nil {
		return false
	}
	m.setState(StateClosing)
	conn.Close()
	return true
}

// Reconnect drops the current socket; Run then reconnects, resuming the
// session when it can. It reports whether a socket was open.
func (m *Manager) Reconnect() bool {
	return m.closeConn()
}

func (m *Manager) setState(s ConnState) {
	m.state.Store(int32(s))
	m.metrics.setState(s)
}

// State returns the current lifecycle state.
func (m *Manager) State() ConnState {
	return ConnState(m.state.Load())
}

// Session returns the session record.
func (m *Manager) Session() *state.Session {
	return m.session
}

// Snapshot is a point-in-time view of the manager for status reporting.
type Snapshot struct {
	State        string             `json:"state"`
	SessionID    string             `json:"session_id,omitempty"`
	Resumable    bool               `json:"resumable"`
	LastSequence *int64             `json:"last_sequence,omitempty"`
	Generation   uint64             `json:"generation"`
	ConnectionID types.ConnectionID `json:"connection_id,omitempty"`
}

// Snapshot returns the current status.
func (m *Manager) Snapshot() Snapshot {
	id, ok := m.session.CurrentID()
	snap := Snapshot{
		State:      m.State().String(),
		SessionID:  id,
		Resumable:  ok,
		Generation: m.session.Generation(),
	}
	if seq, ok := m.session.LastSequence(); ok {
		snap.LastSequence = &seq
	}
	m.mu.Lock()
	if m.conn != nil {
		snap.ConnectionID = m.connID
	}
	m.mu.Unlock()
	return snap
}
