package presence

import (
	"sort"
	"time"
)

// TypingRegistry maps conversation ids to the users currently typing there.
// The wire protocol has no server-driven expiry, so a dropped stop-typing
// event would leave the indicator stuck forever; every flag therefore
// carries a local deadline and is pruned on read.
type TypingRegistry struct {
	ttl    time.Duration
	typing map[string]map[string]time.Time
	now    func() time.Time
}

func NewTypingRegistry(ttl time.Duration) *TypingRegistry {
	if ttl <= 0 {
		ttl = 6 * time.Second
	}
	return &TypingRegistry{
		ttl:    ttl,
		typing: make(map[string]map[string]time.Time),
		now:    time.Now,
	}
}

// Set records a typing delta. A repeated isTyping=true refreshes the
// deadline; isTyping=false removes the flag. A conversation whose set
// becomes empty is dropped from the map entirely.
func (r *TypingRegistry) Set(conversationID, userID string, isTyping bool) {
	if !isTyping {
		users, ok := r.typing[conversationID]
		if !ok {
			return
		}
		delete(users, userID)
		if len(users) == 0 {
			delete(r.typing, conversationID)
		}
		return
	}

	users, ok := r.typing[conversationID]
	if !ok {
		users = make(map[string]time.Time)
		r.typing[conversationID] = users
	}
	users[userID] = r.now().Add(r.ttl)
}

// Users returns who is typing in a conversation, sorted. Expired flags are
// pruned here.
func (r *TypingRegistry) Users(conversationID string) []string {
	users, ok := r.typing[conversationID]
	if !ok {
		return nil
	}
	now := r.now()
	out := make([]string, 0, len(users))
	for id, deadline := range users {
		if now.After(deadline) {
			delete(users, id)
			continue
		}
		out = append(out, id)
	}
	if len(users) == 0 {
		delete(r.typing, conversationID)
	}
	sort.Strings(out)
	return out
}

// Active reports whether any conversation has a live typing flag.
func (r *TypingRegistry) Active() bool {
	return len(r.typing) > 0
}
