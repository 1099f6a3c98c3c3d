package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hirelink/chatsync/internal/model"
)

func TestSelectFromLocalStore(t *testing.T) {
	api := &fakeAPI{}
	tr := &fakeTransport{}
	c := newTestClient(api, tr)
	c.convs.Upsert(model.Conversation{ID: "c1", UnreadCount: 2, CreatedAt: time.Now().UTC()})

	if err := c.SelectConversation(context.Background(), "c1", nil); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	if _, conv, _ := api.calls(); conv != 0 {
		t.Fatal("locally-known conversation must not trigger a by-id fetch")
	}
	active, ok := c.ActiveConversation()
	if !ok || active.ID != "c1" {
		t.Fatal("conversation should be active")
	}
	if active.UnreadCount != 0 {
		t.Fatalf("selection must clear unread, got %d", active.UnreadCount)
	}
	if joins := tr.joined(); len(joins) != 1 || joins[0] != "c1" {
		t.Fatalf("expected single join, got %v", joins)
	}
}

func TestSelectIsIdempotent(t *testing.T) {
	api := &fakeAPI{}
	tr := &fakeTransport{}
	c := newTestClient(api, tr)
	c.convs.Upsert(model.Conversation{ID: "c1", CreatedAt: time.Now().UTC()})

	if err := c.SelectConversation(context.Background(), "c1", nil); err != nil {
		t.Fatalf("first select: %v", err)
	}
	if err := c.SelectConversation(context.Background(), "c1", nil); err != nil {
		t.Fatalf("second select: %v", err)
	}

	if joins := tr.joined(); len(joins) != 1 {
		t.Fatalf("re-selecting the active conversation must not re-join, got %v", joins)
	}
	if leaves := tr.left(); len(leaves) != 0 {
		t.Fatalf("re-selecting the active conversation must not leave, got %v", leaves)
	}
}

func TestSelectLeavesPreviousChannel(t *testing.T) {
	api := &fakeAPI{}
	tr := &fakeTransport{}
	c := newTestClient(api, tr)
	now := time.Now().UTC()
	c.convs.Upsert(model.Conversation{ID: "c1", CreatedAt: now})
	c.convs.Upsert(model.Conversation{ID: "c2", CreatedAt: now})

	if err := c.SelectConversation(context.Background(), "c1", nil); err != nil {
		t.Fatalf("select c1: %v", err)
	}
	if err := c.SelectConversation(context.Background(), "c2", nil); err != nil {
		t.Fatalf("select c2: %v", err)
	}

	if leaves := tr.left(); len(leaves) != 1 || leaves[0] != "c1" {
		t.Fatalf("expected leave of c1, got %v", leaves)
	}
	if joins := tr.joined(); len(joins) != 2 || joins[1] != "c2" {
		t.Fatalf("expected joins c1,c2, got %v", joins)
	}
}

func TestSelectRetriesPermissionDenied(t *testing.T) {
	failures := 2
	api := &fakeAPI{}
	api.conversationFn = func(ctx context.Context, id string) (*model.Conversation, error) {
		api.mu.Lock()
		n := api.convCalls
		api.mu.Unlock()
		if n <= failures {
			return nil, fmt.Errorf("%w: not authorized", model.ErrPermissionDenied)
		}
		return &model.Conversation{ID: id, CreatedAt: time.Now().UTC()}, nil
	}
	tr := &fakeTransport{}
	c := newTestClient(api, tr)

	if err := c.SelectConversation(context.Background(), "fresh", nil); err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}

	if _, conv, _ := api.calls(); conv != 3 {
		t.Fatalf("expected 3 by-id fetches, got %d", conv)
	}
	if joins := tr.joined(); len(joins) != 1 || joins[0] != "fresh" {
		t.Fatalf("expected exactly one join after recovery, got %v", joins)
	}
	if c.LastError() != nil {
		t.Fatalf("recovered selection must clear the error, got %v", c.LastError())
	}
}

func TestSelectPermissionDeniedRetryCeiling(t *testing.T) {
	api := &fakeAPI{
		conversationFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			return nil, fmt.Errorf("%w: access denied", model.ErrPermissionDenied)
		},
	}
	tr := &fakeTransport{}
	c := newTestClient(api, tr)

	err := c.SelectConversation(context.Background(), "c9", nil)
	if !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	if _, conv, _ := api.calls(); conv != 3 {
		t.Fatalf("expected initial try plus 2 retries, got %d fetches", conv)
	}
	if joins := tr.joined(); len(joins) != 0 {
		t.Fatalf("failed selection must not join, got %v", joins)
	}
	if _, ok := c.ActiveConversation(); ok {
		t.Fatal("failed selection must not leave a stale active conversation")
	}
	if !errors.Is(c.LastError(), model.ErrPermissionDenied) {
		t.Fatalf("expected LastError set, got %v", c.LastError())
	}
}

func TestSelectAuthExpiredNeverRetried(t *testing.T) {
	api := &fakeAPI{
		conversationFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			return nil, fmt.Errorf("%w: token expired", model.ErrAuthExpired)
		},
	}
	tr := &fakeTransport{}
	c := newTestClient(api, tr)

	err := c.SelectConversation(context.Background(), "c1", nil)
	if !errors.Is(err, model.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if _, conv, _ := api.calls(); conv != 1 {
		t.Fatalf("session expiry must not be retried, got %d fetches", conv)
	}
}

func TestSelectUnclassifiedFailureFallsBackToList(t *testing.T) {
	now := time.Now().UTC()
	api := &fakeAPI{
		conversationFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			return nil, errors.New("boom")
		},
		conversationsFn: func(ctx context.Context) ([]model.Conversation, error) {
			return []model.Conversation{{ID: "c1", CreatedAt: now}}, nil
		},
	}
	tr := &fakeTransport{}
	c := newTestClient(api, tr)

	if err := c.SelectConversation(context.Background(), "c1", nil); err != nil {
		t.Fatalf("expected list fallback to recover, got %v", err)
	}

	if list, _, _ := api.calls(); list != 1 {
		t.Fatalf("expected one full-list refresh, got %d", list)
	}
	active, ok := c.ActiveConversation()
	if !ok || active.ID != "c1" {
		t.Fatal("conversation from the refreshed list should be active")
	}
}

func TestSelectNotFound(t *testing.T) {
	api := &fakeAPI{
		conversationFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			return nil, errors.New("boom")
		},
	}
	tr := &fakeTransport{}
	c := newTestClient(api, tr)

	err := c.SelectConversation(context.Background(), "ghost", nil)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := c.ActiveConversation(); ok {
		t.Fatal("nothing should be active after a failed selection")
	}
	if joins := tr.joined(); len(joins) != 0 {
		t.Fatalf("expected no joins, got %v", joins)
	}
}

func TestSelectStaleResponseDiscarded(t *testing.T) {
	now := time.Now().UTC()
	release := make(chan struct{})
	started := make(chan struct{})
	api := &fakeAPI{
		conversationFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			close(started)
			<-release
			return &model.Conversation{ID: id, CreatedAt: now}, nil
		},
	}
	tr := &fakeTransport{}
	c := newTestClient(api, tr)

	done := make(chan error, 1)
	go func() {
		done <- c.SelectConversation(context.Background(), "c1", nil)
	}()
	<-started

	// The user navigates away while the c1 fetch is in flight.
	c2 := model.Conversation{ID: "c2", CreatedAt: now}
	if err := c.SelectConversation(context.Background(), "c2", &c2); err != nil {
		t.Fatalf("select c2: %v", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("stale selection must resolve silently, got %v", err)
	}
	active, ok := c.ActiveConversation()
	if !ok || active.ID != "c2" {
		t.Fatalf("stale response must not steal the active conversation, active=%v", active.ID)
	}
	if joins := tr.joined(); len(joins) != 1 || joins[0] != "c2" {
		t.Fatalf("stale response must not join, got %v", joins)
	}
}

func TestSelectHistoryFailureKeepsConversationActive(t *testing.T) {
	api := &fakeAPI{
		messagesFn: func(ctx context.Context, id string) ([]model.Message, error) {
			return nil, errors.New("history unavailable")
		},
	}
	tr := &fakeTransport{}
	c := newTestClient(api, tr)
	c.convs.Upsert(model.Conversation{ID: "c1", CreatedAt: time.Now().UTC()})

	if err := c.SelectConversation(context.Background(), "c1", nil); err != nil {
		t.Fatalf("history failure is action-scoped, got %v", err)
	}
	if _, ok := c.ActiveConversation(); !ok {
		t.Fatal("conversation must stay active with an empty log")
	}
	if c.LastError() == nil {
		t.Fatal("expected LastError set for the failed history load")
	}
}

func TestSelectCancelledDuringRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeAPI{
		conversationFn: func(ctx context.Context, id string) (*model.Conversation, error) {
			cancel()
			return nil, fmt.Errorf("%w: not authorized", model.ErrPermissionDenied)
		},
	}
	c := newTestClient(api, &fakeTransport{})
	c.cfg.ResolveRetryDelay = time.Minute // the retry wait must be interruptible

	err := c.SelectConversation(ctx, "c1", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
