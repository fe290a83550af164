package chatroom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ============================================================================
// Identifiers
// ============================================================================

// ID identifies a user, room or message. The server emits integer ids; the
// client treats them as opaque strings. The empty ID means "absent".
type ID string

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits the empty ID as null and canonical integers as JSON
// numbers, matching what the server expects on the wire. Anything else,
// including "007", is quoted.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string { return string(id) }

// ============================================================================
// Domain Types
// ============================================================================

// RoomType enumerates the kinds of room the server knows about.
type RoomType string

const (
	RoomTypeGroup   RoomType = "group"
	RoomTypePrivate RoomType = "private"
)

// User is a chat participant.
type User struct {
	ID        ID     `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Room is a shared multi-party channel, joinable by id or by code.
type Room struct {
	ID          ID       `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	RoomCode    string   `json:"room_code,omitempty"`
	RoomType    RoomType `json:"room_type,omitempty"`
	CreatedBy   ID       `json:"created_by,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	MemberCount int      `json:"member_count,omitempty"`
}

// Message is a chat message. Exactly one of RoomID / ReceiverID is
// meaningful: a message without a room is a private message.
type Message struct {
	ID          ID     `json:"id"`
	Content     string `json:"content"`
	SenderID    ID     `json:"sender_id"`
	Sender      *User  `json:"sender,omitempty"`
	RoomID      ID     `json:"room_id"`
	ReceiverID  ID     `json:"receiver_id"`
	MessageType string `json:"message_type,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// IsPrivate reports whether the message belongs to a direct conversation.
func (m *Message) IsPrivate() bool {
	return m.RoomID == ""
}

// fingerprint is the secondary identity of a message, used only as a
// consistency check next to the authoritative ID.
func (m *Message) fingerprint() string {
	return m.Content + "\x00" + string(m.SenderID) + "\x00" + string(m.RoomID) + "\x00" + m.CreatedAt
}

// Friendship is an entry of the friend list or of the pending requests list.
type Friendship struct {
	ID     ID     `json:"id"`
	Friend *User  `json:"friend"`
	User   *User  `json:"user,omitempty"`
	Status string `json:"status,omitempty"`
}

// ============================================================================
// Request Options
// ============================================================================

// CreateRoomOptions describes a room to create.
type CreateRoomOptions struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	RoomCode    string   `json:"room_code,omitempty"`
	RoomType    RoomType `json:"room_type,omitempty"`
}

// PageOptions selects a page of room history. Zero values use the server
// defaults (page 1, 50 per page).
type PageOptions struct {
	Page    int
	PerPage int
}

// ============================================================================
// Response Types
// ============================================================================

// AuthResult is returned by login and registration.
type AuthResult struct {
	Message string `json:"message,omitempty"`
	Token   string `json:"token"`
	User    User   `json:"user"`
}

// VerifyResult is returned by token verification.
type VerifyResult struct {
	Valid bool `json:"valid"`
	User  User `json:"user"`
}

// RoomsResult is the room list response.
type RoomsResult struct {
	Rooms []Room `json:"rooms"`
}

// RoomResult wraps a single created or joined room.
type RoomResult struct {
	Message string `json:"message,omitempty"`
	Room    Room   `json:"room"`
}

// MessagesResult is a page of messages, oldest first.
type MessagesResult struct {
	Messages []Message `json:"messages"`
	Page     int       `json:"page,omitempty"`
	PerPage  int       `json:"per_page,omitempty"`
}

// OnlineUsersResult lists currently connected users.
type OnlineUsersResult struct {
	OnlineUsers []User `json:"online_users"`
	Count       int    `json:"count"`
}

// UsersResult is a user search response.
type UsersResult struct {
	Users []User `json:"users"`
}

// FriendsResult lists accepted friendships.
type FriendsResult struct {
	Friends []Friendship `json:"friends"`
}

// FriendRequestsResult lists pending friend requests addressed to the caller.
type FriendRequestsResult struct {
	Requests []Friendship `json:"requests"`
}

// StatusResult is a bare acknowledgement.
type StatusResult struct {
	Message string `json:"message"`
}

// errorBody is the server's error shape.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
