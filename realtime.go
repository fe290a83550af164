package chatroom

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Events
// ============================================================================

// Server-to-client event types.
const (
	EventNewMessage  = "new_message"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventJoinedRoom  = "joined_room"
	EventLeftRoom    = "left_room"
	EventError       = "error"
)

// Client-to-server command types.
const (
	CommandJoinRoom    = "join_room"
	CommandLeaveRoom   = "leave_room"
	CommandSendMessage = "send_message"
)

// NewMessagePayload is delivered for every room or private message.
type NewMessagePayload struct {
	Message   Message `json:"message"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// PresencePayload is delivered when a user comes online or goes offline.
type PresencePayload struct {
	UserID   ID     `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// RoomAckPayload acknowledges a join_room or leave_room command.
type RoomAckPayload struct {
	RoomID ID `json:"room_id"`
}

// RealtimeErrorPayload is sent when the server rejects a command.
type RealtimeErrorPayload struct {
	Message string `json:"message"`
}

// RealtimeEnvelope is the wire format for all realtime events.
type RealtimeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RealtimeCommand is a client-to-server command.
type RealtimeCommand struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type roomCommand struct {
	RoomID ID `json:"room_id"`
}

// sendMessageCommand always carries both target keys; the unused one is null.
type sendMessageCommand struct {
	Content    string `json:"content"`
	RoomID     ID     `json:"room_id"`
	ReceiverID ID     `json:"receiver_id"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the connection manager.
type RealtimeConfig struct {
	// Path is appended to the base URL. Defaults to "/ws".
	Path string
	// AutoReconnect is on unless DisableReconnect is set.
	DisableReconnect bool
	// MaxReconnectAttempts of 0 retries forever.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	DialTimeout          time.Duration
	HTTPClient           *http.Client
	Logger               *zerolog.Logger
	Metrics              *Metrics
}

func (c *RealtimeConfig) defaults() {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 20 * time.Second
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateInit         RealtimeState = "init"
	StateConnected    RealtimeState = "connected"
	StateDisconnected RealtimeState = "disconnected"
	StateReconnecting RealtimeState = "reconnecting"
	StateClosed       RealtimeState = "closed"
)

// ============================================================================
// Callbacks
// ============================================================================

// The callbacks value given to Connect may implement any subset of the
// following interfaces. Events without a matching method are dropped.

type ConnectHandler interface{ OnConnect() }
type ConnectErrorHandler interface{ OnConnectError(err error) }
type DisconnectHandler interface{ OnDisconnect(reason string) }
type ReconnectHandler interface{ OnReconnect(attempt int) }
type ReconnectAttemptHandler interface{ OnReconnectAttempt(attempt int) }
type MessageHandler interface{ OnMessage(NewMessagePayload) }
type UserOnlineHandler interface{ OnUserOnline(PresencePayload) }
type UserOfflineHandler interface{ OnUserOffline(PresencePayload) }
type JoinedRoomHandler interface{ OnJoinedRoom(RoomAckPayload) }
type ErrorHandler interface{ OnError(RealtimeErrorPayload) }

// CallbackFuncs implements every handler interface with optional funcs.
type CallbackFuncs struct {
	Connect          func()
	ConnectError     func(error)
	Disconnect       func(reason string)
	Reconnect        func(attempt int)
	ReconnectAttempt func(attempt int)
	Message          func(NewMessagePayload)
	UserOnline       func(PresencePayload)
	UserOffline      func(PresencePayload)
	JoinedRoom       func(RoomAckPayload)
	Error            func(RealtimeErrorPayload)
}

func (f CallbackFuncs) OnConnect() {
	if f.Connect != nil {
		f.Connect()
	}
}

func (f CallbackFuncs) OnConnectError(err error) {
	if f.ConnectError != nil {
		f.ConnectError(err)
	}
}

func (f CallbackFuncs) OnDisconnect(reason string) {
	if f.Disconnect != nil {
		f.Disconnect(reason)
	}
}

func (f CallbackFuncs) OnReconnect(attempt int) {
	if f.Reconnect != nil {
		f.Reconnect(attempt)
	}
}

func (f CallbackFuncs) OnReconnectAttempt(attempt int) {
	if f.ReconnectAttempt != nil {
		f.ReconnectAttempt(attempt)
	}
}

func (f CallbackFuncs) OnMessage(p NewMessagePayload) {
	if f.Message != nil {
		f.Message(p)
	}
}

func (f CallbackFuncs) OnUserOnline(p PresencePayload) {
	if f.UserOnline != nil {
		f.UserOnline(p)
	}
}

func (f CallbackFuncs) OnUserOffline(p PresencePayload) {
	if f.UserOffline != nil {
		f.UserOffline(p)
	}
}

func (f CallbackFuncs) OnJoinedRoom(p RoomAckPayload) {
	if f.JoinedRoom != nil {
		f.JoinedRoom(p)
	}
}

func (f CallbackFuncs) OnError(p RealtimeErrorPayload) {
	if f.Error != nil {
		f.Error(p)
	}
}

// ============================================================================
// Event Dispatcher
// ============================================================================

// RealtimeEventHandler is the generic event callback type.
type RealtimeEventHandler func(eventType string, payload json.RawMessage)

// eventDispatcher invokes callbacks synchronously, in arrival order, from
// the connection's read goroutine.
type eventDispatcher struct {
	mu        sync.RWMutex
	callbacks any
	generic   map[string][]RealtimeEventHandler
	log       zerolog.Logger
	metrics   *Metrics
}

func newEventDispatcher(callbacks any, logger zerolog.Logger, metrics *Metrics) *eventDispatcher {
	return &eventDispatcher{
		callbacks: callbacks,
		generic:   make(map[string][]RealtimeEventHandler),
		log:       logger,
		metrics:   metrics,
	}
}

func (d *eventDispatcher) on(eventType string, h RealtimeEventHandler) {
	d.mu.Lock()
	d.generic[eventType] = append(d.generic[eventType], h)
	d.mu.Unlock()
}

// call runs fn and recovers from panics in user callbacks.
func (d *eventDispatcher) call(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str(FieldEvent, event).Interface("panic", r).Msg("realtime callback panicked")
		}
	}()
	fn()
}

func (d *eventDispatcher) dispatch(env RealtimeEnvelope) {
	d.metrics.observeEvent(env.Type)
	cb := d.callbacks

	switch env.Type {
	case EventNewMessage:
		var p NewMessagePayload
		if d.decode(env, &p) {
			if h, ok := cb.(MessageHandler); ok {
				d.call(env.Type, func() { h.OnMessage(p) })
			}
		}
	case EventUserOnline:
		var p PresencePayload
		if d.decode(env, &p) {
			if h, ok := cb.(UserOnlineHandler); ok {
				d.call(env.Type, func() { h.OnUserOnline(p) })
			}
		}
	case EventUserOffline:
		var p PresencePayload
		if d.decode(env, &p) {
			if h, ok := cb.(UserOfflineHandler); ok {
				d.call(env.Type, func() { h.OnUserOffline(p) })
			}
		}
	case EventJoinedRoom:
		var p RoomAckPayload
		if d.decode(env, &p) {
			if h, ok := cb.(JoinedRoomHandler); ok {
				d.call(env.Type, func() { h.OnJoinedRoom(p) })
			}
		}
	case EventError:
		var p RealtimeErrorPayload
		if d.decode(env, &p) {
			if h, ok := cb.(ErrorHandler); ok {
				d.call(env.Type, func() { h.OnError(p) })
			}
		}
	}

	d.mu.RLock()
	handlers := append([]RealtimeEventHandler{}, d.generic[env.Type]...)
	d.mu.RUnlock()
	for _, h := range handlers {
		handler := h
		d.call(env.Type, func() { handler(env.Type, env.Payload) })
	}
}

func (d *eventDispatcher) decode(env RealtimeEnvelope, v any) bool {
	if len(env.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		d.log.Warn().Err(err).Str(FieldEvent, env.Type).Msg("undecodable realtime payload")
		return false
	}
	return true
}

func (d *eventDispatcher) emitConnected() {
	if h, ok := d.callbacks.(ConnectHandler); ok {
		d.call("connect", h.OnConnect)
	}
}

func (d *eventDispatcher) emitConnectError(err error) {
	if h, ok := d.callbacks.(ConnectErrorHandler); ok {
		d.call("connect_error", func() { h.OnConnectError(err) })
	}
}

func (d *eventDispatcher) emitDisconnected(reason string) {
	if h, ok := d.callbacks.(DisconnectHandler); ok {
		d.call("disconnect", func() { h.OnDisconnect(reason) })
	}
}

func (d *eventDispatcher) emitReconnected(attempt int) {
	if h, ok := d.callbacks.(ReconnectHandler); ok {
		d.call("reconnect", func() { h.OnReconnect(attempt) })
	}
}

func (d *eventDispatcher) emitReconnectAttempt(attempt int) {
	if h, ok := d.callbacks.(ReconnectAttemptHandler); ok {
		d.call("reconnect_attempt", func() { h.OnReconnectAttempt(attempt) })
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

// nextDelay advances the attempt counter and returns how long to wait
// before it: exponential from baseDelay, jittered, capped at maxDelay.
func (r *reconnector) nextDelay() time.Duration {
	jitter := rand.Float64() * float64(r.baseDelay) * 0.5
	exp := float64(r.baseDelay) * math.Pow(2, float64(r.attempt))
	r.attempt++
	return time.Duration(math.Min(exp+jitter, float64(r.maxDelay)))
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// Conn
// ============================================================================

// Conn is a realtime connection handle. It survives reconnects: the same
// *Conn keeps delivering events to the same callbacks until it is closed.
type Conn struct {
	wsURL      string
	token      string
	config     *RealtimeConfig
	dispatcher *eventDispatcher
	recon      *reconnector
	log        zerolog.Logger

	mu       sync.Mutex
	ws       *websocket.Conn
	state    RealtimeState
	closing  bool
	lifetime context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// On registers a handler for any event type, including ones without a
// typed callback such as left_room.
func (c *Conn) On(eventType string, h RealtimeEventHandler) {
	c.dispatcher.on(eventType, h)
}

// State returns the current connection state.
func (c *Conn) State() RealtimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the socket is currently usable.
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// Done is closed once the connection is permanently closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Conn) setState(s RealtimeState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	ws, _, err := websocket.Dial(ctx, c.wsURL, &websocket.DialOptions{
		HTTPClient: c.config.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return ws, nil
}

// run owns the socket for the lifetime of the connection: it reads, and on
// unexpected loss it reconnects with backoff.
func (c *Conn) run(ws *websocket.Conn) {
	defer close(c.done)
	for {
		reason := c.readLoop(ws)
		if c.isClosing() {
			return
		}

		c.mu.Lock()
		c.ws = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		c.log.Warn().Str("reason", reason).Msg("realtime connection lost")
		c.dispatcher.emitDisconnected(reason)

		ws = c.reconnect()
		if ws == nil {
			return
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) string {
	sockCtx, stop := context.WithCancel(c.lifetime)
	defer stop()
	go c.heartbeatLoop(sockCtx, ws)

	for {
		_, data, err := ws.Read(sockCtx)
		if err != nil {
			ws.Close(websocket.StatusGoingAway, "read failed")
			if status := websocket.CloseStatus(err); status != -1 {
				return fmt.Sprintf("server closed: %d", status)
			}
			return err.Error()
		}

		var env RealtimeEnvelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.log.Debug().Msg("ignoring malformed realtime frame")
			continue
		}
		c.dispatcher.dispatch(env)
	}
}

func (c *Conn) heartbeatLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				ws.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

// reconnect retries until it gets a socket, the attempt budget runs out or
// the connection is closed. It returns nil in the latter two cases.
func (c *Conn) reconnect() *websocket.Conn {
	if c.config.DisableReconnect {
		c.setState(StateClosed)
		return nil
	}
	c.recon.reset()

	for c.recon.shouldReconnect() {
		delay := c.recon.nextDelay()
		attempt := c.recon.attempt
		c.setState(StateReconnecting)
		c.log.Info().Int(FieldAttempt, attempt).Int64(FieldDelay, delay.Milliseconds()).Msg("reconnecting")
		c.dispatcher.emitReconnectAttempt(attempt)

		timer := time.NewTimer(delay)
		select {
		case <-c.lifetime.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		ws, err := c.dial(c.lifetime)
		if err != nil {
			if c.lifetime.Err() != nil {
				return nil
			}
			c.dispatcher.emitConnectError(err)
			continue
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			ws.Close(websocket.StatusNormalClosure, "client disconnect")
			return nil
		}
		c.ws = ws
		c.state = StateConnected
		c.mu.Unlock()

		c.config.Metrics.observeReconnect()
		c.dispatcher.emitConnected()
		c.dispatcher.emitReconnected(attempt)
		return ws
	}

	c.log.Error().Int(FieldAttempt, c.recon.attempt).Msg("giving up on reconnection")
	c.setState(StateClosed)
	return nil
}

func (c *Conn) close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	ws := c.ws
	c.ws = nil
	c.state = StateClosed
	c.mu.Unlock()

	if ws != nil {
		if err := ws.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			c.log.Debug().Err(err).Msg("close handshake incomplete")
		}
	}
	c.cancel()
	c.dispatcher.emitDisconnected("client disconnect")
	return nil
}

func (c *Conn) send(ctx context.Context, cmd *RealtimeCommand) error {
	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()

	if ws == nil || state != StateConnected {
		return ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("realtime write %s: %w", cmd.Type, err)
	}
	return nil
}

// ============================================================================
// ConnectionManager
// ============================================================================

// ConnectionManager owns at most one live realtime connection. Other
// components reach the connection only through its methods.
type ConnectionManager struct {
	baseURL string
	config  RealtimeConfig

	mu   sync.Mutex
	conn *Conn
}

// NewConnectionManager creates a manager for the server at baseURL
// (http or https; the scheme is rewritten to ws or wss).
func NewConnectionManager(baseURL string, config *RealtimeConfig) *ConnectionManager {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &ConnectionManager{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  cfg,
	}
}

// URL returns the WebSocket URL for token.
func (m *ConnectionManager) URL(token string) string {
	base := strings.Replace(m.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	u := base + m.config.Path
	if token != "" {
		u += "?" + url.Values{"token": {token}}.Encode()
	}
	return u
}

// Connect returns the current connection if one is live or reconnecting.
// Otherwise it dials a new one that reports to callbacks. callbacks may be
// nil or implement any subset of the handler interfaces.
func (m *ConnectionManager) Connect(ctx context.Context, token string, callbacks any) (*Conn, error) {
	m.mu.Lock()
	if m.conn != nil {
		switch m.conn.State() {
		case StateConnected, StateReconnecting, StateDisconnected:
			conn := m.conn
			m.mu.Unlock()
			return conn, nil
		}
		m.conn = nil
	}

	logger := *m.config.Logger
	lifetime, cancel := context.WithCancel(context.Background())
	c := &Conn{
		wsURL:      m.URL(token),
		token:      token,
		config:     &m.config,
		dispatcher: newEventDispatcher(callbacks, logger, m.config.Metrics),
		recon:      newReconnector(&m.config),
		log:        logger,
		state:      StateInit,
		lifetime:   lifetime,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	// The lock is held across the dial so concurrent callers share one socket.
	ws, err := c.dial(ctx)
	if err != nil {
		m.mu.Unlock()
		cancel()
		c.setState(StateClosed)
		close(c.done)
		logger.Error().Err(err).Msg("realtime connect failed")
		c.dispatcher.emitConnectError(err)
		return nil, err
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.mu.Unlock()
	m.conn = c
	m.mu.Unlock()

	logger.Info().Msg("realtime connected")
	c.dispatcher.emitConnected()
	go c.run(ws)
	return c, nil
}

// Current returns the managed connection, or nil.
func (m *ConnectionManager) Current() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Disconnect closes conn and forgets it. A nil conn is a no-op.
func (m *ConnectionManager) Disconnect(conn *Conn) error {
	if conn == nil {
		return nil
	}
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	return conn.close()
}

// SendMessage emits send_message. Exactly one of roomID and receiverID
// must be set.
func (m *ConnectionManager) SendMessage(ctx context.Context, conn *Conn, content string, roomID, receiverID ID) error {
	if conn == nil || !conn.Connected() {
		return ErrNotConnected
	}
	if (roomID == "") == (receiverID == "") {
		return ErrInvalidTarget
	}
	return conn.send(ctx, &RealtimeCommand{
		Type:    CommandSendMessage,
		Payload: sendMessageCommand{Content: content, RoomID: roomID, ReceiverID: receiverID},
	})
}

// JoinRoom emits join_room. The joined_room acknowledgement arrives
// asynchronously through the callbacks.
func (m *ConnectionManager) JoinRoom(ctx context.Context, conn *Conn, roomID ID) error {
	if conn == nil {
		return ErrNotConnected
	}
	return conn.send(ctx, &RealtimeCommand{Type: CommandJoinRoom, Payload: roomCommand{RoomID: roomID}})
}

// LeaveRoom emits leave_room.
func (m *ConnectionManager) LeaveRoom(ctx context.Context, conn *Conn, roomID ID) error {
	if conn == nil {
		return ErrNotConnected
	}
	return conn.send(ctx, &RealtimeCommand{Type: CommandLeaveRoom, Payload: roomCommand{RoomID: roomID}})
}
