package store

import (
	"sort"

	"github.com/hirelink/chatsync/internal/model"
)

// ConversationStore keeps the ordered conversation list. The order is fully
// recomputed from the sort key after every mutation; nothing is patched
// incrementally, so the list can never drift from the key.
type ConversationStore struct {
	list []model.Conversation
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{}
}

// All returns a copy of the ordered conversation list.
func (s *ConversationStore) All() []model.Conversation {
	out := make([]model.Conversation, len(s.list))
	copy(out, s.list)
	return out
}

// Get returns a copy of the conversation with the given id.
func (s *ConversationStore) Get(id string) (model.Conversation, bool) {
	for i := range s.list {
		if s.list[i].ID == id {
			return s.list[i], true
		}
	}
	return model.Conversation{}, false
}

// Len returns the number of known conversations.
func (s *ConversationStore) Len() int {
	return len(s.list)
}

// Upsert merges a conversation by id, replacing fields, and re-sorts.
func (s *ConversationStore) Upsert(conv model.Conversation) {
	for i := range s.list {
		if s.list[i].ID == conv.ID {
			s.list[i] = conv
			s.resort()
			return
		}
	}
	s.list = append(s.list, conv)
	s.resort()
}

// MergeFetched replaces the list with the server's authoritative response
// but keeps locally-known conversations absent from it. A conversation
// created a moment ago may not be indexed by the server's list query yet;
// dropping it here would make it vanish from under the user.
func (s *ConversationStore) MergeFetched(fetched []model.Conversation) {
	merged := make([]model.Conversation, len(fetched))
	copy(merged, fetched)

	seen := make(map[string]struct{}, len(fetched))
	for _, c := range fetched {
		seen[c.ID] = struct{}{}
	}
	for _, c := range s.list {
		if _, ok := seen[c.ID]; !ok {
			merged = append(merged, c)
		}
	}

	s.list = merged
	s.resort()
}

// ApplyMessage updates a conversation's summary for an incoming message:
// last message, last message time and unread accounting. The active
// conversation's unread count stays at zero. For an unknown conversation id
// a stub entry is created; the return value reports whether the conversation
// was already known, so the caller can fetch the full record for stubs.
func (s *ConversationStore) ApplyMessage(msg model.Message, activeID string) bool {
	active := msg.ConversationID == activeID
	for i := range s.list {
		if s.list[i].ID != msg.ConversationID {
			continue
		}
		m := msg
		at := msg.SentAt
		s.list[i].LastMessage = &m
		s.list[i].LastMessageAt = &at
		if active {
			s.list[i].UnreadCount = 0
		} else {
			s.list[i].UnreadCount++
		}
		s.resort()
		return true
	}

	m := msg
	at := msg.SentAt
	stub := model.Conversation{
		ID:            msg.ConversationID,
		LastMessage:   &m,
		LastMessageAt: &at,
		CreatedAt:     msg.SentAt,
	}
	if !active {
		stub.UnreadCount = 1
	}
	s.list = append(s.list, stub)
	s.resort()
	return false
}

// ClearUnread resets a conversation's unread count.
func (s *ConversationStore) ClearUnread(id string) {
	for i := range s.list {
		if s.list[i].ID == id {
			s.list[i].UnreadCount = 0
			return
		}
	}
}

func (s *ConversationStore) resort() {
	sort.SliceStable(s.list, func(i, j int) bool {
		ki, kj := s.list[i].SortKey(), s.list[j].SortKey()
		if !ki.Equal(kj) {
			return ki.After(kj)
		}
		return s.list[i].CreatedAt.After(s.list[j].CreatedAt)
	})
}
