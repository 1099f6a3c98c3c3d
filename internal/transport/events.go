package transport

import (
	"encoding/json"

	"github.com/hirelink/chatsync/internal/model"
)

type EventType string

// Client → server events.
const (
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventSendMessage       EventType = "send_message"
	EventMarkAsRead        EventType = "mark_as_read"
	EventTyping            EventType = "typing"
)

// Server → client events.
const (
	EventNewMessage    EventType = "new_message"
	EventMessageStatus EventType = "message_status_update"
	EventUserTyping    EventType = "user_typing"
	EventOnlineUsers   EventType = "online_users"
	EventUserOnline    EventType = "user_online"
	EventUserOffline   EventType = "user_offline"
)

// ClientEvent is what the client sends to the server.
type ClientEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`

	// For send_message
	MessageType  model.MessageType `json:"message_type,omitempty"`
	Content      string            `json:"content,omitempty"`
	AttachmentID string            `json:"attachment_id,omitempty"`
	ReplyToID    string            `json:"reply_to_id,omitempty"`

	// For mark_as_read
	MessageIDs []string `json:"message_ids,omitempty"`

	// For typing
	IsTyping bool `json:"is_typing,omitempty"`
}

// ServerEvent is the envelope for everything the server pushes.
// Payload stays raw until the event type is known.
type ServerEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StatusPayload is pushed when a message's delivery status changes.
type StatusPayload struct {
	MessageID      string              `json:"message_id"`
	ConversationID string              `json:"conversation_id,omitempty"`
	Status         model.MessageStatus `json:"status"`
}

// TypingPayload is pushed when a user starts or stops typing.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// PresenceSnapshotPayload replaces the full online-user set.
type PresenceSnapshotPayload struct {
	UserIDs []string `json:"user_ids"`
}

// PresencePayload is a single online/offline delta.
type PresencePayload struct {
	UserID string `json:"user_id"`
}
