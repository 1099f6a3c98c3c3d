package model

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeFile   MessageType = "file"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// tempIDPrefix marks optimistic messages that have not been acknowledged
// by the server yet. The server replaces the id on echo.
const tempIDPrefix = "tmp-"

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	Status         MessageStatus `json:"status"`
	AttachmentID   string        `json:"attachment_id,omitempty"`
	ReplyToID      *string       `json:"reply_to_id,omitempty"`
	IsDeleted      bool          `json:"is_deleted"`
	SentAt         time.Time     `json:"sent_at"`
	Sender         *UserPublic   `json:"sender,omitempty"`
}

// IsOptimistic reports whether the message carries a locally generated
// temporary id (not yet reconciled with a server echo).
func (m *Message) IsOptimistic() bool {
	return strings.HasPrefix(m.ID, tempIDPrefix)
}

// TempID builds a temporary message id from a uuid string.
func TempID(raw string) string {
	return tempIDPrefix + raw
}

// SendPayload is what callers pass to send a message. A payload with neither
// content nor attachment is invalid and never transmitted.
type SendPayload struct {
	Type         MessageType `json:"type"`
	Content      string      `json:"content,omitempty"`
	AttachmentID string      `json:"attachment_id,omitempty"`
	ReplyToID    string      `json:"reply_to_id,omitempty"`
}

// Empty reports whether the payload has nothing to send.
func (p SendPayload) Empty() bool {
	return strings.TrimSpace(p.Content) == "" && p.AttachmentID == ""
}
