package chatroom

import (
	"sync"

	"github.com/rs/zerolog"
)

// Change events emitted by Chat.
const (
	ChangeRooms      = "rooms.changed"
	ChangeMessages   = "messages.changed"
	ChangePrivate    = "private.changed"
	ChangeUnread     = "unread.changed"
	ChangeOnline     = "online.changed"
	ChangeConnection = "connection.changed"
	ChangeSelection  = "selection.changed"
	ChangeReceived   = "message.received"
	ChangeRoomJoined = "room.joined"
	ChangeError      = "error"
)

// ChangeHandler receives a change event. The payload type depends on the
// event: []Room, []Message, []User, UnreadSnapshot, ConnectionEvent,
// MessageEvent, Selection, RoomAckPayload or error.
type ChangeHandler func(event string, payload any)

// MessageEvent describes how a live message was applied. Stored is false
// for room messages whose room has no loaded sequence; they still count.
type MessageEvent struct {
	Message       Message
	Private       bool
	CounterpartID ID
	Active        bool
	Result        AppendResult
	Stored        bool
	Counted       bool
}

// ConnectionEvent describes a realtime lifecycle transition.
type ConnectionEvent struct {
	State   RealtimeState
	Attempt int
	Reason  string
	Err     error
}

// UnreadSnapshot is a copy of both counter maps.
type UnreadSnapshot struct {
	Rooms map[ID]int
	Users map[ID]int
}

// Selection is the active context after a switch.
type Selection struct {
	Room    *Room
	Private ID
}

type changeEmitter struct {
	mu        sync.RWMutex
	listeners map[string][]ChangeHandler
	log       zerolog.Logger
}

// On registers handler for event. Handlers run synchronously on the
// goroutine that made the change and must not block.
func (e *changeEmitter) On(event string, handler ChangeHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *changeEmitter) emit(event string, payload any) {
	e.mu.RLock()
	handlers := append([]ChangeHandler{}, e.listeners[event]...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error().Str(FieldEvent, event).Interface("panic", r).Msg("change handler panicked")
				}
			}()
			h(event, payload)
		}()
	}
}

func (e *changeEmitter) removeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]ChangeHandler)
}
