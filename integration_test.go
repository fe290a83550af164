//go:build integration

package chatroom_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	chatroom "github.com/chatroom-io/chatroom/sdk/golang"
)

// helpers ---------------------------------------------------------------

func testBaseURL(t *testing.T) string {
	t.Helper()
	base := os.Getenv("CHATROOM_BASE_URL_TEST")
	if base == "" {
		t.Skip("CHATROOM_BASE_URL_TEST not set")
	}
	return base
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

type account struct {
	client *chatroom.Client
	user   chatroom.User
	chat   *chatroom.Chat
}

func register(t *testing.T, ctx context.Context, base, prefix string) *account {
	t.Helper()
	name := uniqueName(prefix)
	anon := chatroom.NewClient("", chatroom.WithBaseURL(base))
	res, err := anon.Auth.Register(ctx, name, name+"@example.test", "integration-pw")
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	if res.Token == "" {
		t.Fatalf("register %s: empty token", name)
	}
	client := chatroom.NewClient(res.Token, chatroom.WithBaseURL(base))
	chat := chatroom.NewChat(client.Backend(), client.Realtime(nil))
	t.Cleanup(func() { chat.Close() })
	return &account{client: client, user: res.User, chat: chat}
}

func waitReceived(t *testing.T, ch <-chan chatroom.MessageEvent, content string) chatroom.MessageEvent {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Message.Content == content {
				return ev
			}
		case <-timeout:
			t.Fatalf("message %q not received", content)
		}
	}
}

// =======================================================================
// Full lifecycle
// =======================================================================

func TestIntegration_FullLifecycle(t *testing.T) {
	base := testBaseURL(t)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	alice := register(t, ctx, base, "gotest_a")
	bob := register(t, ctx, base, "gotest_b")

	// ---------------------------------------------------------------
	// Rooms: alice creates, bob joins by code
	// ---------------------------------------------------------------
	code := uniqueName("code")
	room, err := alice.chat.CreateRoom(ctx, &chatroom.CreateRoomOptions{Name: uniqueName("room"), RoomCode: code})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := bob.chat.JoinRoomByCode(ctx, code); err != nil {
		t.Fatalf("join by code: %v", err)
	}
	if _, err := bob.chat.JoinRoomByCode(ctx, uniqueName("missing")); err == nil {
		t.Error("joining an unknown code should fail")
	}

	// ---------------------------------------------------------------
	// Realtime: both connect, bob watches the room
	// ---------------------------------------------------------------
	if err := alice.chat.Connect(ctx, alice.client.Token()); err != nil {
		t.Fatalf("alice connect: %v", err)
	}
	if err := bob.chat.Connect(ctx, bob.client.Token()); err != nil {
		t.Fatalf("bob connect: %v", err)
	}

	bobEvents := make(chan chatroom.MessageEvent, 16)
	bob.chat.On(chatroom.ChangeReceived, func(_ string, payload any) {
		bobEvents <- payload.(chatroom.MessageEvent)
	})

	alice.chat.SelectRoom(ctx, *room)
	bob.chat.SelectRoom(ctx, *room)
	time.Sleep(500 * time.Millisecond) // join_room is acknowledged asynchronously

	roomText := uniqueName("hello room")
	if err := alice.chat.SendMessage(ctx, roomText, room.ID, ""); err != nil {
		t.Fatalf("send room message: %v", err)
	}
	ev := waitReceived(t, bobEvents, roomText)
	if !ev.Active || !ev.Stored || ev.Counted {
		t.Errorf("room message for active room: %+v", ev)
	}

	// ---------------------------------------------------------------
	// Private message counts as unread for bob
	// ---------------------------------------------------------------
	dmText := uniqueName("hello bob")
	if err := alice.chat.SendMessage(ctx, dmText, "", bob.user.ID); err != nil {
		t.Fatalf("send private message: %v", err)
	}
	ev = waitReceived(t, bobEvents, dmText)
	if !ev.Private || ev.CounterpartID != alice.user.ID {
		t.Errorf("private message event: %+v", ev)
	}
	if n := bob.chat.UnreadRegistry().User(alice.user.ID); n != 1 {
		t.Errorf("bob unread from alice = %d", n)
	}
	if err := bob.chat.SelectPrivateCounterpart(ctx, alice.user.ID); err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	if n := bob.chat.UnreadRegistry().User(alice.user.ID); n != 0 {
		t.Errorf("unread after opening = %d", n)
	}

	// ---------------------------------------------------------------
	// Friends
	// ---------------------------------------------------------------
	if _, err := alice.client.Friends.Add(ctx, bob.user.ID); err != nil {
		t.Fatalf("friend request: %v", err)
	}
	if _, err := bob.client.Friends.Accept(ctx, alice.user.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	friends, err := bob.client.Friends.List(ctx)
	if err != nil {
		t.Fatalf("friends: %v", err)
	}
	if len(friends.Friends) == 0 {
		t.Error("expected alice in bob's friends")
	}

	// ---------------------------------------------------------------
	// Disconnect: sends fail fast
	// ---------------------------------------------------------------
	if err := alice.chat.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := alice.chat.SendMessage(ctx, "late", room.ID, ""); !errors.Is(err, chatroom.ErrNotConnected) {
		t.Errorf("send after disconnect: %v", err)
	}
}
