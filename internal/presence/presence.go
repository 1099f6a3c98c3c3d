// Package presence tracks who is online and who is typing, from transport
// snapshot and delta events. Like the stores, it is serialized by the owning
// session engine.
package presence

import "sort"

// Tracker holds the set of currently-online user ids.
type Tracker struct {
	online map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{online: make(map[string]struct{})}
}

// Snapshot replaces the whole set.
func (t *Tracker) Snapshot(userIDs []string) {
	t.online = make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		t.online[id] = struct{}{}
	}
}

// SetOnline adds a single user.
func (t *Tracker) SetOnline(userID string) {
	t.online[userID] = struct{}{}
}

// SetOffline removes a single user. Removing an absent id is a no-op.
func (t *Tracker) SetOffline(userID string) {
	delete(t.online, userID)
}

// IsOnline reports whether a user is online.
func (t *Tracker) IsOnline(userID string) bool {
	_, ok := t.online[userID]
	return ok
}

// List returns the online user ids, sorted for stable output.
func (t *Tracker) List() []string {
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
