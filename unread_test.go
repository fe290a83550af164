package chatroom

import (
	"sync"
	"testing"
)

func TestUnreadRegistry(t *testing.T) {
	t.Run("increment creates at one", func(t *testing.T) {
		r := NewUnreadRegistry()
		if !r.IncrementRoom("1") {
			t.Fatal("increment reported no change")
		}
		r.IncrementRoom("1")
		if got := r.Room("1"); got != 2 {
			t.Fatalf("Room(1) = %d, want 2", got)
		}
		if got := r.Room("2"); got != 0 {
			t.Fatalf("untouched room = %d", got)
		}
	})

	t.Run("empty id is ignored", func(t *testing.T) {
		r := NewUnreadRegistry()
		if r.IncrementRoom("") || r.IncrementUser("") {
			t.Fatal("empty id incremented")
		}
		if r.ClearRoom("") || r.ClearUser("") {
			t.Fatal("empty id cleared")
		}
		if len(r.Rooms()) != 0 || len(r.Users()) != 0 {
			t.Fatal("empty id created an entry")
		}
	})

	t.Run("clear", func(t *testing.T) {
		r := NewUnreadRegistry()
		if r.ClearUser("9") {
			t.Fatal("clearing a missing counter reported a change")
		}
		r.IncrementUser("9")
		if !r.ClearUser("9") {
			t.Fatal("clear reported no change")
		}
		if r.ClearUser("9") {
			t.Fatal("clearing zero reported a change")
		}
		if got := r.User("9"); got != 0 {
			t.Fatalf("User(9) = %d", got)
		}
	})

	t.Run("rooms and users are separate", func(t *testing.T) {
		r := NewUnreadRegistry()
		r.IncrementRoom("3")
		r.IncrementUser("3")
		r.IncrementUser("3")
		if r.Room("3") != 1 || r.User("3") != 2 {
			t.Fatalf("room=%d user=%d", r.Room("3"), r.User("3"))
		}
		if r.Total() != 3 {
			t.Fatalf("Total = %d", r.Total())
		}
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		r := NewUnreadRegistry()
		r.IncrementRoom("1")
		snap := r.Rooms()
		snap["1"] = 100
		if r.Room("1") != 1 {
			t.Fatal("snapshot aliases registry")
		}
	})
}

func TestUnreadRegistryConcurrent(t *testing.T) {
	r := NewUnreadRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncrementRoom("1")
		}()
	}
	wg.Wait()
	if got := r.Room("1"); got != 50 {
		t.Fatalf("Room(1) = %d, want 50", got)
	}
}
