package chatroom

import "sync"

// UnreadRegistry tracks unread counts per room and per private counterpart.
// Counts only grow between clears and are never negative.
type UnreadRegistry struct {
	mu    sync.RWMutex
	rooms map[ID]int
	users map[ID]int
}

// NewUnreadRegistry creates an empty registry.
func NewUnreadRegistry() *UnreadRegistry {
	return &UnreadRegistry{
		rooms: make(map[ID]int),
		users: make(map[ID]int),
	}
}

// IncrementRoom adds one unread message to roomID. Empty ids are ignored.
func (r *UnreadRegistry) IncrementRoom(roomID ID) bool {
	return r.increment(r.rooms, roomID)
}

// IncrementUser adds one unread message from userID. Empty ids are ignored.
func (r *UnreadRegistry) IncrementUser(userID ID) bool {
	return r.increment(r.users, userID)
}

// ClearRoom resets roomID to zero. It reports whether anything changed.
func (r *UnreadRegistry) ClearRoom(roomID ID) bool {
	return r.clear(r.rooms, roomID)
}

// ClearUser resets userID to zero. It reports whether anything changed.
func (r *UnreadRegistry) ClearUser(userID ID) bool {
	return r.clear(r.users, userID)
}

// Room returns the unread count of roomID.
func (r *UnreadRegistry) Room(roomID ID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// User returns the unread count of userID.
func (r *UnreadRegistry) User(userID ID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[userID]
}

// Rooms returns a snapshot of the room counters.
func (r *UnreadRegistry) Rooms() map[ID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyCounts(r.rooms)
}

// Users returns a snapshot of the user counters.
func (r *UnreadRegistry) Users() map[ID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyCounts(r.users)
}

// Total sums every room and user counter.
func (r *UnreadRegistry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, n := range r.rooms {
		total += n
	}
	for _, n := range r.users {
		total += n
	}
	return total
}

func (r *UnreadRegistry) increment(m map[ID]int, id ID) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	m[id]++
	r.mu.Unlock()
	return true
}

func (r *UnreadRegistry) clear(m map[ID]int, id ID) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m[id] == 0 {
		return false
	}
	m[id] = 0
	return true
}

func copyCounts(m map[ID]int) map[ID]int {
	out := make(map[ID]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
