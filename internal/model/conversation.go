package model

import "time"

type Conversation struct {
	ID            string       `json:"id"`
	Participants  []UserPublic `json:"participants"`
	LastMessage   *Message     `json:"last_message,omitempty"`
	LastMessageAt *time.Time   `json:"last_message_at,omitempty"`
	UnreadCount   int          `json:"unread_count"`
	CreatedAt     time.Time    `json:"created_at"`
}

// SortKey returns the timestamp conversations are ordered by:
// the last message time when there is one, otherwise the creation time.
func (c *Conversation) SortKey() time.Time {
	if c.LastMessageAt != nil && c.LastMessageAt.After(c.CreatedAt) {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}
