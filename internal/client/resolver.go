package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hirelink/chatsync/internal/logger"
	"github.com/hirelink/chatsync/internal/model"
)

// SelectConversation makes a conversation the active one: resolves its
// record, joins its channel and loads its history.
//
// Resolution order: the provided object, then the local store, then a
// by-id fetch. A permission-denied-shaped fetch failure on a freshly
// created conversation is usually the server's participant index lagging,
// so the whole resolution is retried with an incremental delay before the
// error is surfaced as genuine. Session expiry is never retried here.
//
// Every attempt carries a generation token: if the user navigates to a
// different conversation while a fetch is in flight, the stale response is
// discarded instead of reactivating the wrong conversation.
func (c *Client) SelectConversation(ctx context.Context, id string, known *model.Conversation) error {
	c.mu.Lock()
	if c.activeID == id {
		if _, ok := c.convs.Get(id); ok || known != nil {
			c.mu.Unlock()
			return nil
		}
	}
	prev := c.activeID
	c.activeID = ""
	c.selectSeq++
	seq := c.selectSeq
	c.mu.Unlock()

	if prev != "" && prev != id {
		c.transport.Leave(prev)
	}
	return c.resolve(ctx, id, known, seq, 0)
}

func (c *Client) resolve(ctx context.Context, id string, known *model.Conversation, seq uint64, attempt int) error {
	conv := known
	if conv == nil {
		if got, ok := c.lookup(id); ok {
			conv = &got
		}
	}
	if conv == nil {
		fetched, err := c.api.Conversation(ctx, id)
		if err != nil {
			return c.resolveFailure(ctx, id, seq, attempt, err)
		}
		if c.stale(seq) {
			return nil
		}
		conv = fetched
	}
	return c.activate(ctx, *conv, seq)
}

func (c *Client) resolveFailure(ctx context.Context, id string, seq uint64, attempt int, err error) error {
	switch {
	case errors.Is(err, model.ErrAuthExpired):
		// Requires session teardown outside this subsystem; never retried.
		return err

	case errors.Is(err, model.ErrPermissionDenied):
		if attempt < c.cfg.ResolveMaxRetries {
			delay := c.cfg.ResolveRetryDelay * time.Duration(attempt+1)
			logger.Infof("conversation %s not visible yet, retry %d/%d in %s",
				id, attempt+1, c.cfg.ResolveMaxRetries, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			if c.stale(seq) {
				return nil
			}
			return c.resolve(ctx, id, nil, seq, attempt+1)
		}
		c.setErr(err)
		return err

	default:
		// Unclassified failure: refresh the full list and re-check locally
		// once before giving up.
		if ferr := c.FetchConversations(ctx); ferr != nil && errors.Is(ferr, model.ErrAuthExpired) {
			return ferr
		}
		if c.stale(seq) {
			return nil
		}
		if got, ok := c.lookup(id); ok {
			return c.activate(ctx, got, seq)
		}
		nf := fmt.Errorf("%w: %s", model.ErrNotFound, id)
		c.setErr(nf)
		return nf
	}
}

func (c *Client) activate(ctx context.Context, conv model.Conversation, seq uint64) error {
	if c.stale(seq) {
		return nil
	}
	c.mu.Lock()
	c.convs.Upsert(conv)
	c.convs.ClearUnread(conv.ID)
	c.activeID = conv.ID
	c.lastErr = nil
	c.mu.Unlock()

	c.transport.Join(conv.ID)
	c.notify()

	msgs, err := c.api.Messages(ctx, conv.ID)
	if err != nil {
		if errors.Is(err, model.ErrAuthExpired) {
			return err
		}
		// Action-scoped: the conversation stays active with an empty log.
		c.setErr(err)
		return nil
	}
	if c.stale(seq) {
		return nil
	}
	c.mu.Lock()
	c.msgs.SetHistory(conv.ID, msgs)
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Client) lookup(id string) (model.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convs.Get(id)
}

func (c *Client) stale(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectSeq != seq
}
