package chatroom

import (
	"sync"

	"github.com/rs/zerolog"
)

// AppendResult reports the outcome of an idempotent append.
type AppendResult int

const (
	AppendAppended AppendResult = iota
	AppendDuplicate
	AppendMalformed
)

func (r AppendResult) String() string {
	switch r {
	case AppendAppended:
		return "appended"
	case AppendDuplicate:
		return "duplicate"
	case AppendMalformed:
		return "malformed"
	}
	return "unknown"
}

// ============================================================================
// Message Sequence
// ============================================================================

// sequence is an ordered list of messages with an id index next to it.
type sequence struct {
	msgs []Message
	ids  map[ID]struct{}
	sigs map[string]ID
}

func newSequence(msgs []Message) *sequence {
	s := &sequence{
		msgs: make([]Message, 0, len(msgs)),
		ids:  make(map[ID]struct{}, len(msgs)),
		sigs: make(map[string]ID, len(msgs)),
	}
	for _, m := range msgs {
		s.push(m)
	}
	return s
}

func (s *sequence) has(id ID) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *sequence) push(m Message) {
	s.msgs = append(s.msgs, m)
	s.index(m)
}

func (s *sequence) prepend(older []Message) {
	merged := make([]Message, 0, len(older)+len(s.msgs))
	merged = append(merged, older...)
	merged = append(merged, s.msgs...)
	s.msgs = merged
	for _, m := range older {
		s.index(m)
	}
}

func (s *sequence) index(m Message) {
	if m.ID != "" {
		s.ids[m.ID] = struct{}{}
	}
	s.sigs[m.fingerprint()] = m.ID
}

func (s *sequence) snapshot() []Message {
	if s == nil {
		return []Message{}
	}
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// ============================================================================
// MessageStore
// ============================================================================

// MessageStore holds the active room's message sequence and one sequence per
// private-chat counterpart. It is safe for concurrent use.
type MessageStore struct {
	mu      sync.RWMutex
	roomID  ID
	room    *sequence
	private map[ID]*sequence

	log     zerolog.Logger
	metrics *Metrics
}

// NewMessageStore creates an empty store.
func NewMessageStore(logger zerolog.Logger, metrics *Metrics) *MessageStore {
	return &MessageStore{
		room:    newSequence(nil),
		private: make(map[ID]*sequence),
		log:     logger,
		metrics: metrics,
	}
}

// ── Room sequence ────────────────────────────────────────

// AppendRoomMessage appends msg to the active room sequence unless a message
// with the same id is already there.
func (s *MessageStore) AppendRoomMessage(msg Message) AppendResult {
	if msg.ID == "" {
		s.malformed("room", msg, "")
		return AppendMalformed
	}

	s.mu.Lock()
	res := s.appendLocked(s.room, msg)
	s.mu.Unlock()

	s.metrics.observeAppend("room", res)
	return res
}

// ReplaceRoomHistory installs a freshly loaded first page for roomID,
// discarding whatever the active sequence held before.
func (s *MessageStore) ReplaceRoomHistory(roomID ID, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
	s.room = newSequence(msgs)
}

// PrependRoomHistory puts an older page in front of the active sequence.
// Pages are assumed disjoint, so entries are not checked against each other.
func (s *MessageStore) PrependRoomHistory(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room.prepend(msgs)
}

// RoomID returns the room the active sequence belongs to.
func (s *MessageStore) RoomID() ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// RoomMessages returns a copy of the active sequence, oldest first.
func (s *MessageStore) RoomMessages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room.snapshot()
}

// ── Private sequences ────────────────────────────────────

// AppendPrivateMessage appends msg to the conversation with counterpartID.
func (s *MessageStore) AppendPrivateMessage(counterpartID ID, msg Message) AppendResult {
	if counterpartID == "" || msg.ID == "" {
		s.malformed("private", msg, counterpartID)
		return AppendMalformed
	}

	s.mu.Lock()
	seq, ok := s.private[counterpartID]
	if !ok {
		seq = newSequence(nil)
		s.private[counterpartID] = seq
	}
	res := s.appendLocked(seq, msg)
	s.mu.Unlock()

	s.metrics.observeAppend("private", res)
	return res
}

// ReplacePrivateHistory installs a loaded private thread.
func (s *MessageStore) ReplacePrivateHistory(counterpartID ID, msgs []Message) {
	if counterpartID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.private[counterpartID] = newSequence(msgs)
}

// PrivateMessages returns the conversation with counterpartID, or an empty
// slice when nothing has been loaded yet.
func (s *MessageStore) PrivateMessages(counterpartID ID) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.private[counterpartID].snapshot()
}

// ── Helpers ──────────────────────────────────────────────

func (s *MessageStore) appendLocked(seq *sequence, msg Message) AppendResult {
	if seq.has(msg.ID) {
		return AppendDuplicate
	}
	if prev, ok := seq.sigs[msg.fingerprint()]; ok && prev != msg.ID {
		s.log.Warn().
			Str(FieldMessageID, msg.ID.String()).
			Str("previous_id", prev.String()).
			Msg("message content matches an entry with a different id")
	}
	seq.push(msg)
	return AppendAppended
}

func (s *MessageStore) malformed(kind string, msg Message, counterpartID ID) {
	s.log.Warn().
		Err(ErrMalformedMessage).
		Str("kind", kind).
		Str(FieldMessageID, msg.ID.String()).
		Str(FieldCounterpart, counterpartID.String()).
		Msg("dropping message without identifier")
	s.metrics.observeAppend(kind, AppendMalformed)
}
