package chatroom

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultPerPage is the page size used for history loads.
const DefaultPerPage = 50

// presenceTimeout bounds a presence-triggered refresh of the online list.
const presenceTimeout = 10 * time.Second

// maxCountedIDs caps the ids remembered per room whose sequence is not held.
const maxCountedIDs = 512

// Chat keeps rooms, messages, unread counters and presence consistent
// between REST history loads and realtime events.
//
// Live events are applied in arrival order on the connection's read
// goroutine. Context switches (SelectRoom, SelectPrivateCounterpart, Deselect)
// bump a generation counter; history responses that come back after a switch
// are discarded.
type Chat struct {
	changeEmitter

	backend Backend
	conns   *ConnectionManager
	store   *MessageStore
	unread  *UnreadRegistry
	log     zerolog.Logger
	metrics *Metrics
	perPage int

	mu            sync.Mutex
	selfID        ID
	conn          *Conn
	rooms         []Room
	online        []User
	activeRoom    *Room
	activePrivate ID
	generation    uint64
	counted       map[ID]map[ID]struct{}

	presence singleflight.Group
}

// ChatOption configures a Chat.
type ChatOption func(*Chat)

// WithChatLogger sets the logger used by the orchestrator and its stores.
func WithChatLogger(logger zerolog.Logger) ChatOption {
	return func(c *Chat) { c.log = logger }
}

// WithMetrics records store and unread activity in m.
func WithMetrics(m *Metrics) ChatOption {
	return func(c *Chat) { c.metrics = m }
}

// WithSelfID sets the current user's id. Without it, Connect reads the id
// from the token.
func WithSelfID(id ID) ChatOption {
	return func(c *Chat) { c.selfID = id }
}

// WithPerPage sets the history page size.
func WithPerPage(n int) ChatOption {
	return func(c *Chat) {
		if n > 0 {
			c.perPage = n
		}
	}
}

// NewChat creates an orchestrator over backend. conns may be nil for a
// REST-only session; sends then fail with ErrNotConnected.
func NewChat(backend Backend, conns *ConnectionManager, opts ...ChatOption) *Chat {
	c := &Chat{
		backend: backend,
		conns:   conns,
		log:     zerolog.Nop(),
		perPage: DefaultPerPage,
		counted: make(map[ID]map[ID]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.changeEmitter = changeEmitter{listeners: make(map[string][]ChangeHandler), log: c.log}
	c.store = NewMessageStore(c.log, c.metrics)
	c.unread = NewUnreadRegistry()
	return c
}

// ============================================================================
// Connection
// ============================================================================

// Connect opens (or reuses) the realtime connection with the Chat as its
// callbacks.
func (c *Chat) Connect(ctx context.Context, token string) error {
	if c.conns == nil {
		return ErrNotConnected
	}

	c.mu.Lock()
	if c.selfID == "" {
		if id, err := UserIDFromToken(token); err == nil {
			c.selfID = id
		} else {
			c.log.Warn().Err(err).Msg("cannot determine own user id; own messages will count as unread")
		}
	}
	c.mu.Unlock()

	conn, err := c.conns.Connect(ctx, token, c)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Disconnect closes the realtime connection. Calling it without a
// connection is a no-op.
func (c *Chat) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if c.conns == nil {
		return nil
	}
	return c.conns.Disconnect(conn)
}

// SelfID returns the current user's id, if known.
func (c *Chat) SelfID() ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *Chat) liveConn() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// OnConnect implements ConnectHandler.
func (c *Chat) OnConnect() {
	c.emit(ChangeConnection, ConnectionEvent{State: StateConnected})
}

// OnConnectError implements ConnectErrorHandler.
func (c *Chat) OnConnectError(err error) {
	c.emit(ChangeConnection, ConnectionEvent{State: StateDisconnected, Err: err})
}

// OnDisconnect implements DisconnectHandler.
func (c *Chat) OnDisconnect(reason string) {
	c.emit(ChangeConnection, ConnectionEvent{State: StateDisconnected, Reason: reason})
}

// OnReconnectAttempt implements ReconnectAttemptHandler.
func (c *Chat) OnReconnectAttempt(attempt int) {
	c.emit(ChangeConnection, ConnectionEvent{State: StateReconnecting, Attempt: attempt})
}

// OnReconnect implements ReconnectHandler. Room membership on the server is
// per socket, so the active room is joined again.
func (c *Chat) OnReconnect(attempt int) {
	c.mu.Lock()
	room := c.activeRoom
	conn := c.conn
	c.mu.Unlock()
	c.emit(ChangeConnection, ConnectionEvent{State: StateConnected, Attempt: attempt})

	if room == nil || conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := c.conns.JoinRoom(ctx, conn, room.ID); err != nil {
		c.log.Warn().Err(err).Str(FieldRoomID, room.ID.String()).Msg("rejoin after reconnect failed")
	}
}

// OnJoinedRoom implements JoinedRoomHandler.
func (c *Chat) OnJoinedRoom(p RoomAckPayload) {
	c.log.Debug().Str(FieldRoomID, p.RoomID.String()).Msg("joined room")
	c.emit(ChangeRoomJoined, p)
}

// OnError implements ErrorHandler.
func (c *Chat) OnError(p RealtimeErrorPayload) {
	c.log.Warn().Str("message", p.Message).Msg("server reported realtime error")
	c.emit(ChangeError, &RealtimeError{Message: p.Message})
}

// OnUserOnline implements UserOnlineHandler.
func (c *Chat) OnUserOnline(p PresencePayload) {
	c.log.Debug().Str(FieldUserID, p.UserID.String()).Msg("user online")
	go c.refreshPresence()
}

// OnUserOffline implements UserOfflineHandler.
func (c *Chat) OnUserOffline(p PresencePayload) {
	c.log.Debug().Str(FieldUserID, p.UserID.String()).Msg("user offline")
	go c.refreshPresence()
}

func (c *Chat) refreshPresence() {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	c.LoadOnlineUsers(ctx)
}

// ============================================================================
// Live Messages
// ============================================================================

// OnMessage implements MessageHandler.
func (c *Chat) OnMessage(p NewMessagePayload) {
	c.HandleMessage(p.Message)
}

// HandleMessage applies one live message. Room messages for the active room
// are appended without touching its counter. Room messages elsewhere only
// count as unread. Private messages are appended to the counterpart's
// thread and count unless that thread is open.
func (c *Chat) HandleMessage(msg Message) MessageEvent {
	if msg.IsPrivate() {
		return c.handlePrivate(msg)
	}
	return c.handleRoom(msg)
}

func (c *Chat) handleRoom(msg Message) MessageEvent {
	ev := MessageEvent{Message: msg, Result: AppendMalformed}
	if msg.ID == "" {
		c.store.malformed("room", msg, "")
		return ev
	}

	c.mu.Lock()
	ev.Active = c.activeRoom != nil && c.activeRoom.ID == msg.RoomID
	if c.store.RoomID() == msg.RoomID {
		ev.Result = c.store.AppendRoomMessage(msg)
		ev.Stored = ev.Result == AppendAppended
	} else {
		ev.Result = c.markCountedLocked(msg)
	}
	if !ev.Active && ev.Result == AppendAppended && !c.isSelfLocked(msg.SenderID) {
		ev.Counted = c.unread.IncrementRoom(msg.RoomID)
	}
	c.mu.Unlock()

	if ev.Counted {
		c.metrics.observeUnread("room")
		c.log.Debug().Str(FieldRoomID, msg.RoomID.String()).Int("unread", c.unread.Room(msg.RoomID)).Msg("room unread")
	}
	c.publish(ev, ChangeMessages)
	return ev
}

func (c *Chat) handlePrivate(msg Message) MessageEvent {
	ev := MessageEvent{Message: msg, Private: true}

	c.mu.Lock()
	counterpart := msg.SenderID
	self := c.isSelfLocked(msg.SenderID)
	if self {
		counterpart = msg.ReceiverID
	}
	ev.CounterpartID = counterpart
	ev.Result = c.store.AppendPrivateMessage(counterpart, msg)
	if ev.Result == AppendMalformed {
		c.mu.Unlock()
		return ev
	}
	ev.Stored = ev.Result == AppendAppended
	ev.Active = c.activePrivate != "" && c.activePrivate == counterpart
	if !ev.Active && ev.Stored && !self {
		ev.Counted = c.unread.IncrementUser(counterpart)
	}
	c.mu.Unlock()

	if ev.Counted {
		c.metrics.observeUnread("private")
	}
	c.publish(ev, ChangePrivate)
	return ev
}

func (c *Chat) publish(ev MessageEvent, change string) {
	c.emit(ChangeReceived, ev)
	if ev.Stored {
		if ev.Private {
			c.emit(change, c.store.PrivateMessages(ev.CounterpartID))
		} else {
			c.emit(change, c.store.RoomMessages())
		}
	}
	if ev.Counted {
		c.emitUnread()
	}
}

// markCountedLocked remembers ids seen for a room whose sequence is not held,
// so a redelivered event is not counted twice.
func (c *Chat) markCountedLocked(msg Message) AppendResult {
	seen := c.counted[msg.RoomID]
	if _, ok := seen[msg.ID]; ok {
		c.metrics.observeAppend("room", AppendDuplicate)
		return AppendDuplicate
	}
	if seen == nil || len(seen) >= maxCountedIDs {
		seen = make(map[ID]struct{})
		c.counted[msg.RoomID] = seen
	}
	seen[msg.ID] = struct{}{}
	return AppendAppended
}

func (c *Chat) isSelfLocked(id ID) bool {
	return c.selfID != "" && id == c.selfID
}

func (c *Chat) emitUnread() {
	c.emit(ChangeUnread, c.Unread())
}

// ============================================================================
// Navigation
// ============================================================================

// SelectRoom makes room the active context, clears its unread counter,
// joins it on the realtime channel and loads its first page. The room
// sequence starts empty so live messages arriving before or without the
// first page are kept.
func (c *Chat) SelectRoom(ctx context.Context, room Room) {
	c.mu.Lock()
	r := room
	c.activeRoom = &r
	c.activePrivate = ""
	c.generation++
	c.store.ReplaceRoomHistory(room.ID, nil)
	delete(c.counted, room.ID)
	conn := c.conn
	c.mu.Unlock()

	c.emit(ChangeSelection, Selection{Room: &r})
	c.emit(ChangeMessages, c.store.RoomMessages())
	if c.unread.ClearRoom(room.ID) {
		c.emitUnread()
	}
	if conn != nil && conn.Connected() {
		if err := c.conns.JoinRoom(ctx, conn, room.ID); err != nil {
			c.log.Warn().Err(err).Str(FieldRoomID, room.ID.String()).Msg("join_room failed")
		}
	}
	c.LoadMessages(ctx, room.ID, 1)
}

// SelectPrivateCounterpart opens the direct conversation with userID. The
// active room is left; its counter resumes counting.
func (c *Chat) SelectPrivateCounterpart(ctx context.Context, userID ID) error {
	if userID == "" {
		return ErrInvalidTarget
	}
	c.mu.Lock()
	c.activeRoom = nil
	c.activePrivate = userID
	c.generation++
	c.mu.Unlock()

	c.emit(ChangeSelection, Selection{Private: userID})
	if c.unread.ClearUser(userID) {
		c.emitUnread()
	}
	_, err := c.LoadPrivateMessages(ctx, userID)
	return err
}

// Deselect leaves the active room or conversation without opening another.
func (c *Chat) Deselect() {
	c.mu.Lock()
	c.activeRoom = nil
	c.activePrivate = ""
	c.generation++
	c.mu.Unlock()
	c.emit(ChangeSelection, Selection{})
}

// ============================================================================
// History and Lists
// ============================================================================

// LoadMessages fetches page of roomID. Page 1 replaces the room sequence,
// later pages are prepended to it. A response that arrives after the active
// context changed is dropped. Failures are logged and leave state untouched.
func (c *Chat) LoadMessages(ctx context.Context, roomID ID, page int) {
	if page < 1 {
		page = 1
	}
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	msgs, err := c.backend.RoomMessages(ctx, roomID, page, c.perPage)
	if err != nil {
		c.log.Error().Err(err).Str(FieldRoomID, roomID.String()).Int(FieldPage, page).Msg("load messages failed")
		return
	}

	c.mu.Lock()
	stale := c.generation != gen || (page > 1 && c.store.RoomID() != roomID)
	if !stale {
		if page == 1 {
			c.store.ReplaceRoomHistory(roomID, msgs)
		} else {
			c.store.PrependRoomHistory(msgs)
		}
	}
	c.mu.Unlock()

	if stale {
		c.metrics.observeStaleLoad()
		c.log.Debug().Str(FieldRoomID, roomID.String()).Int(FieldPage, page).Msg("discarding stale history page")
		return
	}
	c.emit(ChangeMessages, c.store.RoomMessages())
}

// LoadPrivateMessages fetches the conversation with userID and replaces the
// stored thread. Errors are returned to the caller.
func (c *Chat) LoadPrivateMessages(ctx context.Context, userID ID) ([]Message, error) {
	msgs, err := c.backend.PrivateMessages(ctx, userID, c.perPage)
	if err != nil {
		return nil, err
	}
	c.store.ReplacePrivateHistory(userID, msgs)
	out := c.store.PrivateMessages(userID)
	c.emit(ChangePrivate, out)
	return out, nil
}

// LoadRooms refreshes the room list. Failures are logged and swallowed.
func (c *Chat) LoadRooms(ctx context.Context) {
	if err := c.fetchRooms(ctx); err != nil {
		c.log.Error().Err(err).Msg("load rooms failed")
	}
}

// LoadOnlineUsers refreshes the online list. Concurrent calls share one
// request. Failures are logged and swallowed.
func (c *Chat) LoadOnlineUsers(ctx context.Context) {
	if err := c.fetchOnline(ctx); err != nil {
		c.log.Error().Err(err).Msg("load online users failed")
	}
}

// Refresh reloads rooms and online users concurrently and returns the
// first failure.
func (c *Chat) Refresh(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.fetchRooms(ctx) })
	g.Go(func() error { return c.fetchOnline(ctx) })
	return g.Wait()
}

func (c *Chat) fetchRooms(ctx context.Context) error {
	rooms, err := c.backend.ListRooms(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rooms = append([]Room{}, rooms...)
	c.mu.Unlock()
	c.emit(ChangeRooms, c.Rooms())
	return nil
}

func (c *Chat) fetchOnline(ctx context.Context) error {
	_, err, _ := c.presence.Do("online", func() (interface{}, error) {
		users, err := c.backend.OnlineUsers(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.online = append([]User{}, users...)
		c.mu.Unlock()
		c.emit(ChangeOnline, c.OnlineUsers())
		return nil, nil
	})
	return err
}

// ============================================================================
// User Actions
// ============================================================================

// CreateRoom creates a room and appends it to the room list.
func (c *Chat) CreateRoom(ctx context.Context, opts *CreateRoomOptions) (*Room, error) {
	room, err := c.backend.CreateRoom(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.rooms = append(c.rooms, *room)
	c.mu.Unlock()
	c.emit(ChangeRooms, c.Rooms())
	return room, nil
}

// JoinRoom joins roomID over REST and reloads the room list.
func (c *Chat) JoinRoom(ctx context.Context, roomID ID) (*Room, error) {
	room, err := c.backend.JoinRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	c.LoadRooms(ctx)
	return room, nil
}

// JoinRoomByCode joins the room with the given invite code.
func (c *Chat) JoinRoomByCode(ctx context.Context, code string) (*Room, error) {
	room, err := c.backend.JoinRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	c.LoadRooms(ctx)
	return room, nil
}

// SendMessage sends content to exactly one of roomID and receiverID. The
// message reaches the store only when the server echoes it back.
func (c *Chat) SendMessage(ctx context.Context, content string, roomID, receiverID ID) error {
	if c.conns == nil {
		return ErrNotConnected
	}
	return c.conns.SendMessage(ctx, c.liveConn(), content, roomID, receiverID)
}

// ============================================================================
// Accessors
// ============================================================================

// Rooms returns a copy of the room list.
func (c *Chat) Rooms() []Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Room{}, c.rooms...)
}

// ActiveRoom returns the active room, or nil.
func (c *Chat) ActiveRoom() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeRoom == nil {
		return nil
	}
	r := *c.activeRoom
	return &r
}

// ActivePrivate returns the open conversation's counterpart, or "".
func (c *Chat) ActivePrivate() ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activePrivate
}

// Messages returns the stored room sequence.
func (c *Chat) Messages() []Message {
	return c.store.RoomMessages()
}

// PrivateMessages returns the stored conversation with userID.
func (c *Chat) PrivateMessages(userID ID) []Message {
	return c.store.PrivateMessages(userID)
}

// OnlineUsers returns a copy of the online list.
func (c *Chat) OnlineUsers() []User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]User{}, c.online...)
}

// Unread returns a snapshot of both counter maps.
func (c *Chat) Unread() UnreadSnapshot {
	return UnreadSnapshot{Rooms: c.unread.Rooms(), Users: c.unread.Users()}
}

// UnreadRegistry exposes the counters.
func (c *Chat) UnreadRegistry() *UnreadRegistry {
	return c.unread
}

// Close disconnects and drops every change handler.
func (c *Chat) Close() error {
	err := c.Disconnect()
	c.removeAll()
	return err
}
