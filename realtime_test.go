package chatroom

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"nhooyr.io/websocket"
)

// ============================================================================
// Test Server
// ============================================================================

type rawCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsServer struct {
	*httptest.Server
	accepted chan *websocket.Conn
	received chan rawCommand

	mu       sync.Mutex
	requests []*http.Request
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		accepted: make(chan *websocket.Conn, 8),
		received: make(chan rawCommand, 32),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, r)
		s.mu.Unlock()

		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.accepted <- ws
		for {
			_, data, err := ws.Read(context.Background())
			if err != nil {
				return
			}
			var cmd rawCommand
			if json.Unmarshal(data, &cmd) == nil {
				s.received <- cmd
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-s.accepted:
		return ws
	case <-time.After(3 * time.Second):
		t.Fatal("no websocket accepted")
	}
	return nil
}

func (s *wsServer) nextCommand(t *testing.T) rawCommand {
	t.Helper()
	select {
	case cmd := <-s.received:
		return cmd
	case <-time.After(3 * time.Second):
		t.Fatal("no command received")
	}
	return rawCommand{}
}

func push(t *testing.T, ws *websocket.Conn, eventType string, payload any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": eventType, "payload": payload})
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("push %s: %v", eventType, err)
	}
}

func fastConfig() *RealtimeConfig {
	return &RealtimeConfig{
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	}
}

func connect(t *testing.T, mgr *ConnectionManager, token string, callbacks any) *Conn {
	t.Helper()
	conn, err := mgr.Connect(context.Background(), token, callbacks)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { mgr.Disconnect(conn) })
	return conn
}

// ============================================================================
// ConnectionManager
// ============================================================================

func TestConnectionManagerURL(t *testing.T) {
	tests := []struct {
		base, token, want string
	}{
		{"http://localhost:9000", "abc", "ws://localhost:9000/ws?token=abc"},
		{"https://chat.example.com/", "a b", "wss://chat.example.com/ws?token=a+b"},
		{"http://localhost:9000", "", "ws://localhost:9000/ws"},
	}
	for _, tt := range tests {
		if got := NewConnectionManager(tt.base, nil).URL(tt.token); got != tt.want {
			t.Errorf("URL(%q, %q) = %q, want %q", tt.base, tt.token, got, tt.want)
		}
	}
}

func TestConnectionManagerConnect(t *testing.T) {
	srv := newWSServer(t)
	mgr := NewConnectionManager(srv.URL, fastConfig())

	conn := connect(t, mgr, "tok-1", nil)
	srv.nextConn(t)
	if !conn.Connected() {
		t.Fatalf("state = %s", conn.State())
	}

	again, err := mgr.Connect(context.Background(), "tok-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if again != conn {
		t.Fatal("second Connect created a new connection")
	}
	select {
	case <-srv.accepted:
		t.Fatal("second Connect dialed again")
	case <-time.After(100 * time.Millisecond):
	}

	srv.mu.Lock()
	req := srv.requests[0]
	srv.mu.Unlock()
	if got := req.Header.Get("Authorization"); got != "Bearer tok-1" {
		t.Errorf("Authorization = %q", got)
	}
	if got := req.URL.Query().Get("token"); got != "tok-1" {
		t.Errorf("token query = %q", got)
	}
}

func TestConnectionManagerConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	var got error
	mgr := NewConnectionManager(srv.URL, &RealtimeConfig{DialTimeout: time.Second})
	_, err := mgr.Connect(context.Background(), "tok", CallbackFuncs{
		ConnectError: func(err error) { got = err },
	})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if got == nil {
		t.Fatal("connect_error callback not invoked")
	}
	if mgr.Current() != nil {
		t.Fatal("failed connection retained")
	}
}

func TestConnectionManagerSend(t *testing.T) {
	ctx := context.Background()
	srv := newWSServer(t)
	mgr := NewConnectionManager(srv.URL, fastConfig())

	t.Run("no connection", func(t *testing.T) {
		if err := mgr.SendMessage(ctx, nil, "hi", "1", ""); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("err = %v", err)
		}
		if err := mgr.JoinRoom(ctx, nil, "1"); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("join err = %v", err)
		}
		select {
		case cmd := <-srv.received:
			t.Fatalf("unexpected command %s", cmd.Type)
		default:
		}
	})

	conn := connect(t, mgr, "tok", nil)
	srv.nextConn(t)

	t.Run("room message", func(t *testing.T) {
		if err := mgr.SendMessage(ctx, conn, "hello", "3", ""); err != nil {
			t.Fatal(err)
		}
		cmd := srv.nextCommand(t)
		if cmd.Type != CommandSendMessage {
			t.Fatalf("type = %s", cmd.Type)
		}
		var payload map[string]any
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			t.Fatal(err)
		}
		if payload["content"] != "hello" || payload["room_id"] != float64(3) {
			t.Fatalf("payload = %v", payload)
		}
		if v, ok := payload["receiver_id"]; !ok || v != nil {
			t.Fatalf("receiver_id should be present and null, payload = %v", payload)
		}
	})

	t.Run("private message", func(t *testing.T) {
		if err := mgr.SendMessage(ctx, conn, "psst", "", "8"); err != nil {
			t.Fatal(err)
		}
		cmd := srv.nextCommand(t)
		if !strings.Contains(string(cmd.Payload), `"room_id":null`) || !strings.Contains(string(cmd.Payload), `"receiver_id":8`) {
			t.Fatalf("payload = %s", cmd.Payload)
		}
	})

	t.Run("invalid target", func(t *testing.T) {
		if err := mgr.SendMessage(ctx, conn, "x", "", ""); !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("neither: err = %v", err)
		}
		if err := mgr.SendMessage(ctx, conn, "x", "1", "2"); !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("both: err = %v", err)
		}
	})

	t.Run("join and leave", func(t *testing.T) {
		if err := mgr.JoinRoom(ctx, conn, "4"); err != nil {
			t.Fatal(err)
		}
		if cmd := srv.nextCommand(t); cmd.Type != CommandJoinRoom || string(cmd.Payload) != `{"room_id":4}` {
			t.Fatalf("join = %s %s", cmd.Type, cmd.Payload)
		}
		if err := mgr.LeaveRoom(ctx, conn, "4"); err != nil {
			t.Fatal(err)
		}
		if cmd := srv.nextCommand(t); cmd.Type != CommandLeaveRoom {
			t.Fatalf("leave = %s", cmd.Type)
		}
	})
}

func TestConnectionCallbacks(t *testing.T) {
	srv := newWSServer(t)
	mgr := NewConnectionManager(srv.URL, fastConfig())

	messages := make(chan NewMessagePayload, 4)
	online := make(chan PresencePayload, 4)
	generic := make(chan string, 4)
	conn := connect(t, mgr, "tok", CallbackFuncs{
		Message:    func(p NewMessagePayload) { messages <- p },
		UserOnline: func(p PresencePayload) { online <- p },
	})
	conn.On(EventLeftRoom, func(eventType string, _ json.RawMessage) { generic <- eventType })
	ws := srv.nextConn(t)

	// events without a handler are dropped quietly
	push(t, ws, EventUserOffline, map[string]any{"user_id": 3})
	push(t, ws, EventNewMessage, map[string]any{
		"message":   map[string]any{"id": 11, "content": "hey", "sender_id": 2, "room_id": 1, "receiver_id": nil},
		"timestamp": "2024-01-01T00:00:00",
	})
	push(t, ws, EventUserOnline, map[string]any{"user_id": 2, "username": "bob"})
	push(t, ws, EventLeftRoom, map[string]any{"room_id": 1})

	select {
	case p := <-messages:
		if p.Message.ID != "11" || p.Message.RoomID != "1" || p.Message.ReceiverID != "" {
			t.Fatalf("message = %+v", p.Message)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("message callback not invoked")
	}
	select {
	case p := <-online:
		if p.UserID != "2" || p.Username != "bob" {
			t.Fatalf("presence = %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("online callback not invoked")
	}
	select {
	case ev := <-generic:
		if ev != EventLeftRoom {
			t.Fatalf("generic = %s", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("generic handler not invoked")
	}
}

func TestConnectionReconnect(t *testing.T) {
	srv := newWSServer(t)
	mgr := NewConnectionManager(srv.URL, fastConfig())

	disconnected := make(chan string, 4)
	reconnected := make(chan int, 4)
	messages := make(chan ID, 4)
	conn := connect(t, mgr, "tok", CallbackFuncs{
		Disconnect: func(reason string) { disconnected <- reason },
		Reconnect:  func(attempt int) { reconnected <- attempt },
		Message:    func(p NewMessagePayload) { messages <- p.Message.ID },
	})

	first := srv.nextConn(t)
	first.Close(websocket.StatusGoingAway, "server restart")

	select {
	case <-disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect callback not invoked")
	}
	second := srv.nextConn(t)
	select {
	case attempt := <-reconnected:
		if attempt < 1 {
			t.Fatalf("attempt = %d", attempt)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect callback not invoked")
	}

	if mgr.Current() != conn {
		t.Fatal("manager replaced the connection handle")
	}
	if again, _ := mgr.Connect(context.Background(), "tok", nil); again != conn {
		t.Fatal("Connect after reconnect returned a different handle")
	}

	push(t, second, EventNewMessage, map[string]any{"message": map[string]any{"id": 5, "room_id": 1}})
	select {
	case id := <-messages:
		if id != "5" {
			t.Fatalf("id = %s", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("callbacks stopped after reconnect")
	}
}

func TestConnectionDisconnect(t *testing.T) {
	srv := newWSServer(t)
	mgr := NewConnectionManager(srv.URL, fastConfig())

	if err := mgr.Disconnect(nil); err != nil {
		t.Fatalf("nil disconnect: %v", err)
	}

	reasons := make(chan string, 4)
	conn, err := mgr.Connect(context.Background(), "tok", CallbackFuncs{
		Disconnect: func(reason string) { reasons <- reason },
	})
	if err != nil {
		t.Fatal(err)
	}
	srv.nextConn(t)

	if err := mgr.Disconnect(conn); err != nil {
		t.Fatal(err)
	}
	select {
	case <-conn.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connection did not stop")
	}
	if conn.State() != StateClosed {
		t.Fatalf("state = %s", conn.State())
	}
	if mgr.Current() != nil {
		t.Fatal("manager kept closed connection")
	}
	if reason := <-reasons; reason != "client disconnect" {
		t.Fatalf("reason = %q", reason)
	}
	if err := mgr.SendMessage(context.Background(), conn, "hi", "1", ""); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send after close: %v", err)
	}
	select {
	case <-srv.accepted:
		t.Fatal("closed connection reconnected")
	case <-time.After(100 * time.Millisecond):
	}
}

// ============================================================================
// Chat over a live connection
// ============================================================================

func TestChatOverRealtime(t *testing.T) {
	srv := newWSServer(t)
	mgr := NewConnectionManager(srv.URL, fastConfig())
	b := newFakeBackend()
	b.setPage("1", 1, msgIn("a1", "1"))
	chat := NewChat(b, mgr)
	t.Cleanup(func() { chat.Close() })

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 9}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if err := chat.Connect(context.Background(), token); err != nil {
		t.Fatal(err)
	}
	if chat.SelfID() != "9" {
		t.Fatalf("self id = %q", chat.SelfID())
	}
	ws := srv.nextConn(t)

	chat.SelectRoom(context.Background(), roomA)
	if cmd := srv.nextCommand(t); cmd.Type != CommandJoinRoom {
		t.Fatalf("command = %s", cmd.Type)
	}

	if err := chat.SendMessage(context.Background(), "hello", "1", ""); err != nil {
		t.Fatal(err)
	}
	if cmd := srv.nextCommand(t); cmd.Type != CommandSendMessage {
		t.Fatalf("command = %s", cmd.Type)
	}

	received := make(chan MessageEvent, 4)
	chat.On(ChangeReceived, func(_ string, payload any) { received <- payload.(MessageEvent) })

	echo := map[string]any{"id": 12, "content": "hello", "sender_id": 9, "room_id": 1}
	push(t, ws, EventNewMessage, map[string]any{"message": echo})
	push(t, ws, EventNewMessage, map[string]any{"message": echo})
	push(t, ws, EventNewMessage, map[string]any{"message": map[string]any{"id": 13, "sender_id": 4, "room_id": 2}})

	for i := 0; i < 3; i++ {
		select {
		case <-received:
		case <-time.After(3 * time.Second):
			t.Fatal("live message not applied")
		}
	}
	sameIDs(t, chat.Messages(), "a1", "12")
	if n := chat.UnreadRegistry().Room("2"); n != 1 {
		t.Fatalf("unread(2) = %d", n)
	}
}
