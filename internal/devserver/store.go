// Package devserver is an in-memory stand-in for the real backend: the four
// conversation endpoints plus the WebSocket half of the wire contract. It
// exists so the CLI and manual testing need no external services, the same
// way the API service's -dev mode boots without infrastructure.
package devserver

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hirelink/chatsync/internal/model"
)

// Store holds all devserver state in memory. Nothing survives a restart.
type Store struct {
	mu    sync.RWMutex
	users map[string]model.UserPublic
	convs map[string]*conversation
	msgs  map[string][]model.Message

	// visibilityLag simulates the read-your-own-write race of the real
	// backend: a freshly created conversation is "not authorized" for
	// by-id reads until the lag passes.
	visibilityLag time.Duration
}

type conversation struct {
	model.Conversation
	memberIDs []string
	createdAt time.Time
}

func NewStore(visibilityLag time.Duration) *Store {
	return &Store{
		users:         make(map[string]model.UserPublic),
		convs:         make(map[string]*conversation),
		msgs:          make(map[string][]model.Message),
		visibilityLag: visibilityLag,
	}
}

// EnsureUser registers a user on first login.
func (s *Store) EnsureUser(id, username string) model.UserPublic {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u
	}
	u := model.UserPublic{ID: id, Username: username}
	s.users[id] = u
	return u
}

// CreateConversation returns the existing conversation for the same
// participant set, or creates a new one.
func (s *Store) CreateConversation(memberIDs []string) model.Conversation {
	key := memberKey(memberIDs)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if memberKey(c.memberIDs) == key {
			return c.Conversation
		}
	}
	now := time.Now().UTC()
	c := &conversation{
		Conversation: model.Conversation{
			ID:           uuid.New().String(),
			Participants: s.participants(memberIDs),
			CreatedAt:    now,
		},
		memberIDs: memberIDs,
		createdAt: now,
	}
	s.convs[c.ID] = c
	return c.Conversation
}

// Conversations lists the conversations a user belongs to.
func (s *Store) Conversations(userID string) []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Conversation
	for _, c := range s.convs {
		if c.isMember(userID) {
			out = append(out, c.Conversation)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortKey().After(out[j].SortKey()) })
	return out
}

// Conversation returns one conversation for a member. The bool results are
// (found, authorized); a conversation still inside the visibility lag
// window reads as unauthorized, like the real backend's lagging index.
func (s *Store) Conversation(userID, id string) (model.Conversation, bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return model.Conversation{}, false, false
	}
	if !c.isMember(userID) {
		return model.Conversation{}, true, false
	}
	if s.visibilityLag > 0 && time.Since(c.createdAt) < s.visibilityLag {
		return model.Conversation{}, true, false
	}
	return c.Conversation, true, true
}

// IsMember reports conversation membership.
func (s *Store) IsMember(userID, convID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convID]
	return ok && c.isMember(userID)
}

// MemberIDs returns a conversation's member ids.
func (s *Store) MemberIDs(convID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convID]
	if !ok {
		return nil
	}
	out := make([]string, len(c.memberIDs))
	copy(out, c.memberIDs)
	return out
}

// AppendMessage stores a message and updates its conversation summary.
func (s *Store) AppendMessage(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[msg.ConversationID] = append(s.msgs[msg.ConversationID], msg)
	if c, ok := s.convs[msg.ConversationID]; ok {
		m := msg
		at := msg.SentAt
		c.LastMessage = &m
		c.LastMessageAt = &at
	}
}

// Messages returns a conversation's history.
func (s *Store) Messages(convID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.msgs[convID]
	out := make([]model.Message, len(log))
	copy(out, log)
	return out
}

// SetStatus updates a stored message's status and returns the updated copy.
func (s *Store) SetStatus(convID, msgID string, status model.MessageStatus) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.msgs[convID]
	for i := range log {
		if log[i].ID == msgID {
			log[i].Status = status
			return log[i], true
		}
	}
	return model.Message{}, false
}

func (s *Store) participants(memberIDs []string) []model.UserPublic {
	out := make([]model.UserPublic, 0, len(memberIDs))
	for _, id := range memberIDs {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		} else {
			out = append(out, model.UserPublic{ID: id, Username: id})
		}
	}
	return out
}

func (c *conversation) isMember(userID string) bool {
	for _, id := range c.memberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func memberKey(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}
