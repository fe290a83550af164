package chatroom

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a realtime send is attempted without a
	// live connection.
	ErrNotConnected = errors.New("chatroom: realtime connection not established")

	// ErrMalformedMessage marks a message that lacks a required identifier.
	// Store operations report it through AppendMalformed and logs, never as
	// a returned error.
	ErrMalformedMessage = errors.New("chatroom: malformed message")

	// ErrNetwork wraps every failed REST call.
	ErrNetwork = errors.New("chatroom: network failure")

	// ErrAuthExpired is reported for 401 responses. The session that issued
	// the request is no longer valid.
	ErrAuthExpired = errors.New("chatroom: authentication expired")

	// ErrInvalidTarget is returned when a send names both or neither of a
	// room and a receiver.
	ErrInvalidTarget = errors.New("chatroom: exactly one of room id and receiver id is required")
)

// HTTPError is a REST failure carrying the HTTP status.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Is makes every HTTPError match ErrNetwork, and 401s match ErrAuthExpired.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return true
	case ErrAuthExpired:
		return e.Status == 401
	}
	return false
}

// RealtimeError is a command rejection reported by the server over the
// realtime channel.
type RealtimeError struct {
	Message string
}

func (e *RealtimeError) Error() string {
	return "chatroom: server error: " + e.Message
}
