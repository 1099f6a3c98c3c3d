// Package transport owns the authenticated WebSocket connection: dialing,
// bounded reconnection, and dispatch of server events to registered handlers.
// Handlers run sequentially on the read loop; no two handlers interleave.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hirelink/chatsync/internal/logger"
	"github.com/hirelink/chatsync/internal/model"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateFailed is terminal: the reconnect attempt ceiling was reached.
	// Only an explicit Connect leaves it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "disconnected (failed)"
	default:
		return "unknown"
	}
}

// Handlers are callbacks for server events. Nil handlers are skipped.
// All callbacks are invoked from the single read loop, never concurrently.
type Handlers struct {
	OnStateChange      func(State)
	OnNewMessage       func(model.Message)
	OnMessageStatus    func(StatusPayload)
	OnTyping           func(TypingPayload)
	OnPresenceSnapshot func([]string)
	OnUserOnline       func(string)
	OnUserOffline      func(string)
}

// Options tune the connection. Zero values fall back to defaults.
type Options struct {
	WriteTimeout         time.Duration
	PongTimeout          time.Duration
	HandshakeTimeout     time.Duration
	MaxMessageSize       int64
	SendBufferSize       int
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
}

func (o *Options) withDefaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.ReconnectMaxAttempts <= 0 {
		o.ReconnectMaxAttempts = 5
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Second
	}
}

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Manager owns one WebSocket connection and its pump goroutines.
// Emitting while not connected is fire-and-forget: the event is dropped,
// there is no local queue.
type Manager struct {
	url      string
	opts     Options
	handlers Handlers

	mu     sync.Mutex
	state  State
	token  string
	conn   *websocket.Conn
	send   chan ClientEvent
	stop   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

func New(url string, opts Options, handlers Handlers) *Manager {
	opts.withDefaults()
	return &Manager{
		url:      url,
		opts:     opts,
		handlers: handlers,
		state:    StateDisconnected,
	}
}

// Connect performs the handshake with the given session token.
// A no-op while already connecting or connected.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected || m.state == StateReconnecting {
		m.mu.Unlock()
		return nil
	}
	m.token = token
	m.closed = false
	m.mu.Unlock()

	m.setState(StateConnecting)
	conn, err := m.dial(ctx)
	if err != nil {
		m.setState(StateDisconnected)
		return err
	}
	m.startSession(conn)
	return nil
}

// Disconnect closes the connection deliberately; no reconnection follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		// Unblocks readPump, which finishes teardown.
		conn.Close()
	} else {
		m.setState(StateDisconnected)
	}
	m.wg.Wait()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Join subscribes to a conversation's channel.
func (m *Manager) Join(conversationID string) {
	m.Emit(ClientEvent{Type: EventJoinConversation, ConversationID: conversationID})
}

// Leave unsubscribes from a conversation's channel.
func (m *Manager) Leave(conversationID string) {
	m.Emit(ClientEvent{Type: EventLeaveConversation, ConversationID: conversationID})
}

// SendMessage forwards a message payload to the server.
func (m *Manager) SendMessage(conversationID string, p model.SendPayload) {
	m.Emit(ClientEvent{
		Type:           EventSendMessage,
		ConversationID: conversationID,
		MessageType:    p.Type,
		Content:        p.Content,
		AttachmentID:   p.AttachmentID,
		ReplyToID:      p.ReplyToID,
	})
}

// MarkAsRead reports messages as read. Fire-and-forget: local read state
// is applied only from the authoritative status event.
func (m *Manager) MarkAsRead(conversationID string, messageIDs []string) {
	m.Emit(ClientEvent{Type: EventMarkAsRead, ConversationID: conversationID, MessageIDs: messageIDs})
}

// SendTyping reports the local typing indicator.
func (m *Manager) SendTyping(conversationID string, isTyping bool) {
	m.Emit(ClientEvent{Type: EventTyping, ConversationID: conversationID, IsTyping: isTyping})
}

// Emit sends an event if connected, otherwise drops it silently.
func (m *Manager) Emit(ev ClientEvent) {
	m.mu.Lock()
	if m.state != StateConnected || m.send == nil {
		m.mu.Unlock()
		logger.Debugf("ws drop %s: not connected", ev.Type)
		return
	}
	send, stop := m.send, m.stop
	m.mu.Unlock()

	select {
	case send <- ev:
	case <-stop:
	default:
		logger.Errorf("ws send buffer full, dropping %s", ev.Type)
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: m.opts.HandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := dialer.DialContext(ctx, m.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (m *Manager) startSession(conn *websocket.Conn) {
	stop := make(chan struct{})
	send := make(chan ClientEvent, m.opts.SendBufferSize)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		m.setState(StateDisconnected)
		return
	}
	m.conn = conn
	m.send = send
	m.stop = stop
	m.mu.Unlock()

	m.setState(StateConnected)
	m.wg.Add(2)
	go m.writePump(conn, send, stop)
	go m.readPump(conn, stop)
}

// readPump reads server events and dispatches them sequentially.
// On read error it tears the session down and, unless the close was
// deliberate, hands off to the reconnect loop.
func (m *Manager) readPump(conn *websocket.Conn, stop chan struct{}) {
	defer m.wg.Done()

	conn.SetReadLimit(m.opts.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(m.opts.PongTimeout)); err != nil {
		logger.Errorf("ws set read deadline: %v", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read: %v", err)
			}
			break
		}
		m.dispatch(raw)
	}

	close(stop)
	conn.Close()

	m.mu.Lock()
	closed := m.closed
	m.conn = nil
	m.send = nil
	m.mu.Unlock()

	if closed {
		m.setState(StateDisconnected)
		return
	}
	go m.reconnect()
}

// writePump serializes outgoing events and keeps the connection alive
// with pings.
func (m *Manager) writePump(conn *websocket.Conn, send chan ClientEvent, stop chan struct{}) {
	defer m.wg.Done()
	pingPeriod := m.opts.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-stop:
			if err := conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(m.opts.WriteTimeout)); err != nil {
				logger.Debugf("ws close message: %v", err)
			}
			return
		case ev := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout)); err != nil {
				logger.Errorf("ws set write deadline: %v", err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(ev); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal %s: %v", ev.Type, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnect retries the handshake with exponential backoff up to the
// attempt ceiling, then settles into the terminal failed state.
func (m *Manager) reconnect() {
	m.setState(StateReconnecting)
	delay := m.opts.ReconnectBaseDelay
	for attempt := 1; attempt <= m.opts.ReconnectMaxAttempts; attempt++ {
		time.Sleep(delay)
		delay *= 2

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			m.setState(StateDisconnected)
			return
		}
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
		conn, err := m.dial(ctx)
		cancel()
		if err == nil {
			logger.Infof("ws reconnected after %d attempt(s)", attempt)
			m.startSession(conn)
			return
		}
		logger.Errorf("ws reconnect attempt %d/%d: %v", attempt, m.opts.ReconnectMaxAttempts, err)
	}
	m.setState(StateFailed)
}

func (m *Manager) dispatch(raw []byte) {
	var ev ServerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		logger.Errorf("ws unmarshal event: %v", err)
		return
	}

	switch ev.Type {
	case EventNewMessage:
		var msg model.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			logger.Errorf("ws decode new_message: %v", err)
			return
		}
		if m.handlers.OnNewMessage != nil {
			m.handlers.OnNewMessage(msg)
		}
	case EventMessageStatus:
		var p StatusPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			logger.Errorf("ws decode message_status_update: %v", err)
			return
		}
		if m.handlers.OnMessageStatus != nil {
			m.handlers.OnMessageStatus(p)
		}
	case EventUserTyping:
		var p TypingPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			logger.Errorf("ws decode user_typing: %v", err)
			return
		}
		if m.handlers.OnTyping != nil {
			m.handlers.OnTyping(p)
		}
	case EventOnlineUsers:
		var p PresenceSnapshotPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			logger.Errorf("ws decode online_users: %v", err)
			return
		}
		if m.handlers.OnPresenceSnapshot != nil {
			m.handlers.OnPresenceSnapshot(p.UserIDs)
		}
	case EventUserOnline:
		var p PresencePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			logger.Errorf("ws decode user_online: %v", err)
			return
		}
		if m.handlers.OnUserOnline != nil {
			m.handlers.OnUserOnline(p.UserID)
		}
	case EventUserOffline:
		var p PresencePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			logger.Errorf("ws decode user_offline: %v", err)
			return
		}
		if m.handlers.OnUserOffline != nil {
			m.handlers.OnUserOffline(p.UserID)
		}
	default:
		logger.Debugf("ws unknown event type %q", ev.Type)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	logger.Debugf("ws state: %s", s)
	if m.handlers.OnStateChange != nil {
		m.handlers.OnStateChange(s)
	}
}
