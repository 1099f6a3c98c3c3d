// Package client is the session-level synchronization engine: it owns the
// transport, the conversation and message stores and the presence state, and
// exposes the surface the application reads from. One engine instance per
// session, constructed explicitly and connected on session start.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hirelink/chatsync/internal/config"
	"github.com/hirelink/chatsync/internal/logger"
	"github.com/hirelink/chatsync/internal/model"
	"github.com/hirelink/chatsync/internal/presence"
	"github.com/hirelink/chatsync/internal/rest"
	"github.com/hirelink/chatsync/internal/store"
	"github.com/hirelink/chatsync/internal/transport"
)

// API is the REST collaborator surface the engine consumes.
type API interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
	Conversation(ctx context.Context, id string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, participantIDs []string) (*model.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Transport is the duplex connection surface the engine drives.
type Transport interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
	State() transport.State
	Join(conversationID string)
	Leave(conversationID string)
	SendMessage(conversationID string, p model.SendPayload)
	MarkAsRead(conversationID string, messageIDs []string)
	SendTyping(conversationID string, isTyping bool)
}

// Client keeps a user's conversation list and message logs consistent under
// optimistic sends, server push and reconnects. All state behind mu; wire
// callbacks and the public methods are the only mutation paths.
type Client struct {
	cfg       *config.Config
	api       API
	transport Transport

	mu            sync.Mutex
	userID        string
	activeID      string
	selectSeq     uint64
	resyncPending bool
	lastErr       error
	convs         *store.ConversationStore
	msgs          *store.MessageStore
	online        *presence.Tracker
	typing        *presence.TypingRegistry
	onChange      func()
}

// New builds an engine wired to the real transport and REST client.
func New(cfg *config.Config) *Client {
	c := newEngine(cfg, nil, nil)
	c.transport = transport.New(cfg.WSURL, transport.Options{
		WriteTimeout:         cfg.WSWriteTimeout,
		PongTimeout:          cfg.WSPongTimeout,
		MaxMessageSize:       cfg.WSMaxMessageSize,
		SendBufferSize:       cfg.WSSendBufferSize,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
	}, c.transportHandlers())
	return c
}

// newEngine is the wiring point shared with tests, which inject fakes.
func newEngine(cfg *config.Config, api API, tr Transport) *Client {
	return &Client{
		cfg:       cfg,
		api:       api,
		transport: tr,
		convs:     store.NewConversationStore(),
		msgs:      store.NewMessageStore(cfg.ReconcileWindow),
		online:    presence.NewTracker(),
		typing:    presence.NewTypingRegistry(cfg.TypingTTL),
	}
}

func (c *Client) transportHandlers() transport.Handlers {
	return transport.Handlers{
		OnStateChange:      c.handleState,
		OnNewMessage:       c.handleNewMessage,
		OnMessageStatus:    c.handleStatus,
		OnTyping:           c.handleTyping,
		OnPresenceSnapshot: c.handlePresenceSnapshot,
		OnUserOnline:       c.handleUserOnline,
		OnUserOffline:      c.handleUserOffline,
	}
}

// OnChange registers a callback invoked after every state mutation.
// Register before Connect.
func (c *Client) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Connect establishes the session: extracts the user id from the token,
// connects the transport and loads the initial conversation list.
func (c *Client) Connect(ctx context.Context, token string) error {
	userID, err := subjectFromToken(token)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrAuthExpired, err)
	}

	c.mu.Lock()
	c.userID = userID
	if c.api == nil {
		c.api = rest.NewClient(c.cfg.APIBaseURL, token, c.cfg.HTTPTimeout)
	}
	c.mu.Unlock()

	if err := c.transport.Connect(ctx, token); err != nil {
		return fmt.Errorf("%w: %v", model.ErrConnectionLost, err)
	}
	return c.FetchConversations(ctx)
}

// Close tears the session down.
func (c *Client) Close() {
	c.transport.Disconnect()
}

// UserID returns the session user's id.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// ConnectionState returns the transport state.
func (c *Client) ConnectionState() transport.State {
	return c.transport.State()
}

// Conversations returns the ordered conversation list.
func (c *Client) Conversations() []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convs.All()
}

// ActiveConversation returns the active conversation, if any.
func (c *Client) ActiveConversation() (model.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID == "" {
		return model.Conversation{}, false
	}
	return c.convs.Get(c.activeID)
}

// Messages returns the active conversation's message log in arrival order.
func (c *Client) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID == "" {
		return nil
	}
	return c.msgs.History(c.activeID)
}

// OnlineUsers returns the ids of currently-online users.
func (c *Client) OnlineUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online.List()
}

// TypingUsers returns who is typing in a conversation right now.
func (c *Client) TypingUsers(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing.Users(conversationID)
}

// LastError returns the most recent action-scoped error, if any. It is
// cleared by the next successful operation.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SendMessage constructs an optimistic message for the active conversation,
// appends it locally and forwards the payload to the transport. An empty
// payload is rejected before anything is stored or transmitted. Sends while
// disconnected are not queued: the optimistic entry is flagged failed.
func (c *Client) SendMessage(p model.SendPayload) error {
	if p.Empty() {
		return model.ErrEmptyMessage
	}
	if p.Type == "" {
		p.Type = model.MessageTypeText
	}

	c.mu.Lock()
	convID := c.activeID
	userID := c.userID
	c.mu.Unlock()
	if convID == "" {
		return model.ErrNoActiveChat
	}

	msg := model.Message{
		ID:             model.TempID(uuid.New().String()),
		ConversationID: convID,
		SenderID:       userID,
		Content:        p.Content,
		Type:           p.Type,
		AttachmentID:   p.AttachmentID,
		Status:         model.MessageStatusSent,
		SentAt:         time.Now().UTC(),
	}
	if p.ReplyToID != "" {
		replyTo := p.ReplyToID
		msg.ReplyToID = &replyTo
	}

	c.mu.Lock()
	c.msgs.Append(msg)
	c.convs.ApplyMessage(msg, convID)
	c.mu.Unlock()

	if c.transport.State() == transport.StateConnected {
		c.transport.SendMessage(convID, p)
	} else {
		logger.Debugf("send while %s, flagging %s failed", c.transport.State(), msg.ID)
		c.mu.Lock()
		c.msgs.MarkFailed(convID, msg.ID)
		c.mu.Unlock()
	}
	c.notify()
	return nil
}

// SetTyping reports the local typing indicator for the active conversation.
func (c *Client) SetTyping(isTyping bool) {
	c.mu.Lock()
	convID := c.activeID
	c.mu.Unlock()
	if convID == "" {
		return
	}
	c.transport.SendTyping(convID, isTyping)
}

// MarkRead reports messages of the active conversation as read.
// Fire-and-forget: local read status comes back via the status event.
func (c *Client) MarkRead(messageIDs []string) {
	c.mu.Lock()
	convID := c.activeID
	c.mu.Unlock()
	if convID == "" || len(messageIDs) == 0 {
		return
	}
	c.transport.MarkAsRead(convID, messageIDs)
	c.mu.Lock()
	c.convs.ClearUnread(convID)
	c.mu.Unlock()
	c.notify()
}

// FetchConversations refreshes the conversation list from the server.
// Locally-known conversations missing from the response are preserved.
func (c *Client) FetchConversations(ctx context.Context) error {
	fetched, err := c.api.Conversations(ctx)
	if err != nil {
		if errors.Is(err, model.ErrAuthExpired) {
			return err
		}
		c.setErr(err)
		return err
	}
	c.mu.Lock()
	c.convs.MergeFetched(fetched)
	c.lastErr = nil
	c.mu.Unlock()
	c.notify()
	return nil
}

// CreateConversation creates (or returns) the conversation with the given
// participant and makes it active.
func (c *Client) CreateConversation(ctx context.Context, participantID string) (*model.Conversation, error) {
	conv, err := c.api.CreateConversation(ctx, []string{participantID})
	if err != nil {
		if !errors.Is(err, model.ErrAuthExpired) {
			c.setErr(err)
		}
		return nil, err
	}
	c.mu.Lock()
	c.convs.Upsert(*conv)
	c.lastErr = nil
	c.mu.Unlock()
	c.notify()

	if err := c.SelectConversation(ctx, conv.ID, conv); err != nil {
		return conv, err
	}
	return conv, nil
}

// --- transport event handlers; each runs to completion on the read loop ---

func (c *Client) handleState(s transport.State) {
	switch s {
	case transport.StateReconnecting:
		c.mu.Lock()
		c.resyncPending = true
		c.mu.Unlock()
	case transport.StateFailed:
		c.setErr(model.ErrConnectionLost)
	case transport.StateConnected:
		c.mu.Lock()
		pending := c.resyncPending
		c.resyncPending = false
		c.mu.Unlock()
		if pending {
			go c.resync()
		}
	}
	c.notify()
}

func (c *Client) handleNewMessage(msg model.Message) {
	c.mu.Lock()
	activeID := c.activeID
	isActive := msg.ConversationID == activeID
	c.msgs.ApplyInbound(msg, isActive)
	known := c.convs.ApplyMessage(msg, activeID)
	c.mu.Unlock()

	if !known {
		// First sign of a conversation created elsewhere; fill the stub in.
		go c.fillConversation(msg.ConversationID)
	}
	c.notify()
}

func (c *Client) handleStatus(p transport.StatusPayload) {
	c.mu.Lock()
	c.msgs.SetStatus(p.ConversationID, p.MessageID, p.Status)
	c.mu.Unlock()
	c.notify()
}

func (c *Client) handleTyping(p transport.TypingPayload) {
	c.mu.Lock()
	c.typing.Set(p.ConversationID, p.UserID, p.IsTyping)
	c.mu.Unlock()
	c.notify()
}

func (c *Client) handlePresenceSnapshot(userIDs []string) {
	c.mu.Lock()
	c.online.Snapshot(userIDs)
	c.mu.Unlock()
	c.notify()
}

func (c *Client) handleUserOnline(userID string) {
	c.mu.Lock()
	c.online.SetOnline(userID)
	c.mu.Unlock()
	c.notify()
}

func (c *Client) handleUserOffline(userID string) {
	c.mu.Lock()
	c.online.SetOffline(userID)
	c.mu.Unlock()
	c.notify()
}

// resync runs after a successful reconnect: re-join the active channel and
// refresh the state that may have moved while the connection was down.
func (c *Client) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*c.cfg.HTTPTimeout)
	defer cancel()

	c.mu.Lock()
	activeID := c.activeID
	c.mu.Unlock()

	if activeID != "" {
		c.transport.Join(activeID)
	}
	if err := c.FetchConversations(ctx); err != nil {
		logger.Errorf("resync conversations: %v", err)
	}
	if activeID == "" {
		return
	}
	msgs, err := c.api.Messages(ctx, activeID)
	if err != nil {
		logger.Errorf("resync history %s: %v", activeID, err)
		return
	}
	c.mu.Lock()
	if c.activeID == activeID {
		c.msgs.SetHistory(activeID, msgs)
	}
	c.mu.Unlock()
	c.notify()
}

// fillConversation fetches the full record for a conversation first seen via
// an incoming message, preserving the unread accounting of the local stub.
func (c *Client) fillConversation(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HTTPTimeout)
	defer cancel()

	conv, err := c.api.Conversation(ctx, id)
	if err != nil {
		logger.Errorf("fill conversation %s: %v", id, err)
		return
	}
	c.mu.Lock()
	if existing, ok := c.convs.Get(id); ok {
		conv.UnreadCount = existing.UnreadCount
		if conv.LastMessage == nil {
			conv.LastMessage = existing.LastMessage
			conv.LastMessageAt = existing.LastMessageAt
		}
	}
	c.convs.Upsert(*conv)
	c.mu.Unlock()
	c.notify()
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Client) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// subjectFromToken pulls the user id out of the session JWT without
// verifying the signature; verification is the server's job.
func subjectFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}
