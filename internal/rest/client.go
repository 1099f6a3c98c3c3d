// Package rest calls the conversation endpoints of the backend API.
// Only the contract is consumed here; the CRUD logic lives server-side.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hirelink/chatsync/internal/model"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Conversations fetches the caller's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Conversation fetches a single conversation by id.
func (c *Client) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	var out model.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateConversation creates a conversation with the given participants,
// or returns the existing one for the same participant set.
func (c *Client) CreateConversation(ctx context.Context, participantIDs []string) (*model.Conversation, error) {
	body := struct {
		ParticipantIDs []string `json:"participant_ids"`
	}{ParticipantIDs: participantIDs}
	var out model.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages fetches the message history of a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(data, &errResp)
		return Classify(resp.StatusCode, errResp.Error)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Classify maps an API error response onto the engine's error taxonomy.
// The backend uses one opaque "unauthorized" shape both for expired sessions
// and for participant records not yet visible after conversation creation;
// keeping the string matching in one place keeps that distinction testable.
func Classify(status int, message string) error {
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", model.ErrAuthExpired, nonEmpty(message, "401"))
	case status == http.StatusForbidden || PermissionShaped(message):
		return fmt.Errorf("%w: %s", model.ErrPermissionDenied, nonEmpty(message, "403"))
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", model.ErrNotFound, nonEmpty(message, "404"))
	default:
		return fmt.Errorf("api error %d: %s", status, message)
	}
}

// PermissionShaped reports whether an error message looks like a
// permission denial regardless of status code.
func PermissionShaped(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "not authorized") || strings.Contains(m, "access denied")
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
