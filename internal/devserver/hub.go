package devserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hirelink/chatsync/internal/logger"
	"github.com/hirelink/chatsync/internal/model"
	"github.com/hirelink/chatsync/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 64
)

// Hub fan-outs wire events to connected dev clients. A scaled-down version
// of the production hub: one process, no persistence, no push.
type Hub struct {
	store *Store

	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
}

func NewHub(store *Store) *Hub {
	return &Hub{
		store:   store,
		clients: make(map[string]map[*wsClient]struct{}),
	}
}

type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan transport.ServerEvent
	done   chan struct{}
	userID string
	once   sync.Once
}

// ServeConn runs the pumps for an upgraded connection until it drops.
func (h *Hub) ServeConn(conn *websocket.Conn, userID string) {
	c := &wsClient{
		hub:    h,
		conn:   conn,
		send:   make(chan transport.ServerEvent, sendBufSize),
		done:   make(chan struct{}),
		userID: userID,
	}
	h.register(c)
	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*wsClient]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.mu.Unlock()

	// Snapshot for the newcomer, delta for everyone else.
	h.sendToClient(c, transport.EventOnlineUsers, transport.PresenceSnapshotPayload{UserIDs: h.onlineUsers()})
	h.broadcast(transport.EventUserOnline, transport.PresencePayload{UserID: c.userID})
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
	c.close()
	h.broadcast(transport.EventUserOffline, transport.PresencePayload{UserID: c.userID})
}

func (h *Hub) onlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	return out
}

func (h *Hub) handle(c *wsClient, ev transport.ClientEvent) {
	switch ev.Type {
	case transport.EventJoinConversation, transport.EventLeaveConversation:
		// Channel scoping is a no-op in the dev hub: events already fan out
		// by membership only.
	case transport.EventSendMessage:
		h.handleSend(c, ev)
	case transport.EventMarkAsRead:
		h.handleMarkRead(c, ev)
	case transport.EventTyping:
		h.handleTyping(c, ev)
	default:
		logger.Debugf("dev hub: unknown event %q from %s", ev.Type, c.userID)
	}
}

func (h *Hub) handleSend(c *wsClient, ev transport.ClientEvent) {
	if ev.ConversationID == "" || (ev.Content == "" && ev.AttachmentID == "") {
		return
	}
	if !h.store.IsMember(c.userID, ev.ConversationID) {
		return
	}
	msgType := ev.MessageType
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	msg := model.Message{
		ID:             uuid.New().String(),
		ConversationID: ev.ConversationID,
		SenderID:       c.userID,
		Content:        ev.Content,
		Type:           msgType,
		AttachmentID:   ev.AttachmentID,
		Status:         model.MessageStatusSent,
		SentAt:         time.Now().UTC(),
	}
	if ev.ReplyToID != "" {
		replyTo := ev.ReplyToID
		msg.ReplyToID = &replyTo
	}
	h.store.AppendMessage(msg)
	h.sendToMembers(ev.ConversationID, transport.EventNewMessage, msg)
}

func (h *Hub) handleMarkRead(c *wsClient, ev transport.ClientEvent) {
	if ev.ConversationID == "" || !h.store.IsMember(c.userID, ev.ConversationID) {
		return
	}
	for _, msgID := range ev.MessageIDs {
		msg, ok := h.store.SetStatus(ev.ConversationID, msgID, model.MessageStatusRead)
		if !ok {
			continue
		}
		h.sendToMembers(ev.ConversationID, transport.EventMessageStatus, transport.StatusPayload{
			MessageID:      msg.ID,
			ConversationID: ev.ConversationID,
			Status:         model.MessageStatusRead,
		})
	}
}

func (h *Hub) handleTyping(c *wsClient, ev transport.ClientEvent) {
	if ev.ConversationID == "" || !h.store.IsMember(c.userID, ev.ConversationID) {
		return
	}
	payload := transport.TypingPayload{
		ConversationID: ev.ConversationID,
		UserID:         c.userID,
		IsTyping:       ev.IsTyping,
	}
	for _, uid := range h.store.MemberIDs(ev.ConversationID) {
		if uid != c.userID {
			h.sendToUser(uid, transport.EventUserTyping, payload)
		}
	}
}

func (h *Hub) sendToMembers(convID string, evType transport.EventType, payload any) {
	for _, uid := range h.store.MemberIDs(convID) {
		h.sendToUser(uid, evType, payload)
	}
}

func (h *Hub) broadcast(evType transport.EventType, payload any) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for _, clients := range h.clients {
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.sendToClient(c, evType, payload)
	}
}

func (h *Hub) sendToUser(userID string, evType transport.EventType, payload any) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, 2)
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.sendToClient(c, evType, payload)
	}
}

func (h *Hub) sendToClient(c *wsClient, evType transport.EventType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("dev hub marshal %s: %v", evType, err)
		return
	}
	select {
	case c.send <- transport.ServerEvent{Type: evType, Payload: raw}:
	case <-c.done:
	default:
		logger.Errorf("dev hub: send buffer full, closing slow client user=%s", c.userID)
		c.close()
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev transport.ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Errorf("dev hub unmarshal user=%s: %v", c.userID, err)
			continue
		}
		c.hub.handle(c, ev)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
