// Package store holds the client-side conversation and message state.
// Stores are not safe for concurrent use: the owning session engine is the
// only mutator and serializes all access.
package store

import (
	"time"

	"github.com/hirelink/chatsync/internal/model"
)

// MessageStore keeps one ordered message log per conversation. Order is the
// order events were processed, not sentAt order: sorting by sender clocks
// would reorder entries on every echo, so cross-session clock skew is an
// accepted tradeoff.
type MessageStore struct {
	reconcileWindow time.Duration
	logs            map[string][]model.Message
}

func NewMessageStore(reconcileWindow time.Duration) *MessageStore {
	if reconcileWindow <= 0 {
		reconcileWindow = 5 * time.Second
	}
	return &MessageStore{
		reconcileWindow: reconcileWindow,
		logs:            make(map[string][]model.Message),
	}
}

// History returns a copy of a conversation's log.
func (s *MessageStore) History(conversationID string) []model.Message {
	log := s.logs[conversationID]
	out := make([]model.Message, len(log))
	copy(out, log)
	return out
}

// SetHistory replaces a conversation's log with a server-fetched history.
func (s *MessageStore) SetHistory(conversationID string, msgs []model.Message) {
	log := make([]model.Message, len(msgs))
	copy(log, msgs)
	s.logs[conversationID] = log
}

// Append adds a message to the end of its conversation's log.
func (s *MessageStore) Append(msg model.Message) {
	s.logs[msg.ConversationID] = append(s.logs[msg.ConversationID], msg)
}

// ApplyInbound stores a pushed message. For the active conversation it first
// tries to reconcile the message with a pending optimistic send; everywhere
// else it appends.
func (s *MessageStore) ApplyInbound(msg model.Message, active bool) {
	if active && s.reconcile(msg) {
		return
	}
	s.Append(msg)
}

// reconcile scans the tail of the log backward for an optimistic entry that
// matches the server echo: same sender, same content, sentAt within the
// tolerance window. The match replaces the optimistic entry in place, so the
// message keeps its original position.
//
// The match is heuristic because the server does not echo a correlation id.
// Two identical messages sent within the window can mis-reconcile; see the
// regression test for the documented failure mode.
func (s *MessageStore) reconcile(msg model.Message) bool {
	log := s.logs[msg.ConversationID]
	for i := len(log) - 1; i >= 0; i-- {
		entry := &log[i]
		if !entry.IsOptimistic() {
			continue
		}
		if entry.SenderID != msg.SenderID || entry.Content != msg.Content {
			continue
		}
		diff := msg.SentAt.Sub(entry.SentAt)
		if diff < 0 {
			diff = -diff
		}
		if diff > s.reconcileWindow {
			continue
		}
		log[i] = msg
		return true
	}
	return false
}

// SetStatus updates the status of the message with the given id. When the
// conversation is known only its log is scanned. Unknown ids are ignored.
func (s *MessageStore) SetStatus(conversationID, messageID string, status model.MessageStatus) {
	if conversationID != "" {
		s.setStatusIn(conversationID, messageID, status)
		return
	}
	for convID := range s.logs {
		if s.setStatusIn(convID, messageID, status) {
			return
		}
	}
}

func (s *MessageStore) setStatusIn(conversationID, messageID string, status model.MessageStatus) bool {
	log := s.logs[conversationID]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].ID == messageID {
			log[i].Status = status
			return true
		}
	}
	return false
}

// MarkFailed flags an optimistic message whose send did not go through.
// The entry stays in the log so the user can see and retry it.
func (s *MessageStore) MarkFailed(conversationID, tempID string) {
	s.setStatusIn(conversationID, tempID, model.MessageStatusFailed)
}

// Drop removes a conversation's log (used when leaving a session).
func (s *MessageStore) Drop(conversationID string) {
	delete(s.logs, conversationID)
}
