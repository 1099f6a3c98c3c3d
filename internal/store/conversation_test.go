package store

import (
	"testing"
	"time"

	"github.com/hirelink/chatsync/internal/model"
)

func conv(id string, createdAt time.Time, lastMessageAt *time.Time) model.Conversation {
	return model.Conversation{ID: id, CreatedAt: createdAt, LastMessageAt: lastMessageAt}
}

func ts(t time.Time) *time.Time { return &t }

func TestSortByLastMessageDescending(t *testing.T) {
	s := NewConversationStore()
	base := time.Now().UTC()

	s.Upsert(conv("b", base.Add(-2*time.Hour), ts(base.Add(-time.Hour))))
	s.Upsert(conv("a", base.Add(-3*time.Hour), ts(base)))

	list := s.All()
	if list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("expected [a b], got [%s %s]", list[0].ID, list[1].ID)
	}
}

func TestSortFallsBackToCreatedAt(t *testing.T) {
	s := NewConversationStore()
	base := time.Now().UTC()

	// no messages anywhere: newest conversation first
	s.Upsert(conv("old", base.Add(-2*time.Hour), nil))
	s.Upsert(conv("new", base, nil))

	list := s.All()
	if list[0].ID != "new" {
		t.Fatalf("expected newest-created first, got %s", list[0].ID)
	}
}

func TestSortTieBrokenByCreatedAt(t *testing.T) {
	s := NewConversationStore()
	base := time.Now().UTC()
	at := base.Add(-time.Minute)

	s.Upsert(conv("older", base.Add(-2*time.Hour), ts(at)))
	s.Upsert(conv("newer", base.Add(-time.Hour), ts(at)))

	list := s.All()
	if list[0].ID != "newer" {
		t.Fatalf("expected createdAt tiebreak, got %s first", list[0].ID)
	}
}

func TestMergeFetchedPreservesLocalOnly(t *testing.T) {
	s := NewConversationStore()
	base := time.Now().UTC()

	// just created locally, server list does not know it yet
	s.Upsert(conv("local-only", base, nil))

	s.MergeFetched([]model.Conversation{
		conv("server-1", base.Add(-time.Hour), ts(base.Add(-time.Minute))),
	})

	if s.Len() != 2 {
		t.Fatalf("expected merged list of 2, got %d", s.Len())
	}
	if _, ok := s.Get("local-only"); !ok {
		t.Fatal("locally-known conversation was dropped by the merge")
	}
	list := s.All()
	if list[0].ID != "local-only" {
		t.Fatalf("expected local-only first by sort key, got %s", list[0].ID)
	}
}

func TestMergeFetchedReplacesKnownFields(t *testing.T) {
	s := NewConversationStore()
	base := time.Now().UTC()

	c := conv("c1", base.Add(-time.Hour), nil)
	c.UnreadCount = 5
	s.Upsert(c)

	fetched := conv("c1", base.Add(-time.Hour), ts(base))
	fetched.UnreadCount = 2
	s.MergeFetched([]model.Conversation{fetched})

	got, _ := s.Get("c1")
	if got.UnreadCount != 2 || got.LastMessageAt == nil {
		t.Fatalf("server response is authoritative for known ids: %+v", got)
	}
}

func TestApplyMessageUnreadAccounting(t *testing.T) {
	s := NewConversationStore()
	base := time.Now().UTC()
	s.Upsert(conv("c1", base.Add(-time.Hour), nil))
	s.Upsert(conv("c2", base.Add(-time.Hour), nil))

	msg := model.Message{ID: "m1", ConversationID: "c1", SentAt: base}

	// not active: exactly +1
	s.ApplyMessage(msg, "c2")
	got, _ := s.Get("c1")
	if got.UnreadCount != 1 {
		t.Fatalf("expected unread=1, got %d", got.UnreadCount)
	}
	if got.LastMessage == nil || got.LastMessage.ID != "m1" {
		t.Fatal("lastMessage not updated")
	}

	// active: stays at zero
	active := model.Message{ID: "m2", ConversationID: "c2", SentAt: base}
	s.ApplyMessage(active, "c2")
	got, _ = s.Get("c2")
	if got.UnreadCount != 0 {
		t.Fatalf("active conversation unread must stay 0, got %d", got.UnreadCount)
	}
}

func TestApplyMessageResortsToTop(t *testing.T) {
	s := NewConversationStore()
	base := time.Now().UTC()
	s.Upsert(conv("c1", base.Add(-2*time.Hour), ts(base.Add(-time.Hour))))
	s.Upsert(conv("c2", base.Add(-2*time.Hour), ts(base.Add(-time.Minute))))

	s.ApplyMessage(model.Message{ID: "m1", ConversationID: "c1", SentAt: base}, "")
	if s.All()[0].ID != "c1" {
		t.Fatal("conversation with newest message should sort first")
	}
}

func TestApplyMessageUnknownConversationCreatesStub(t *testing.T) {
	s := NewConversationStore()
	base := time.Now().UTC()

	known := s.ApplyMessage(model.Message{ID: "m1", ConversationID: "ghost", SentAt: base}, "")
	if known {
		t.Fatal("expected known=false for an unseen conversation id")
	}
	got, ok := s.Get("ghost")
	if !ok {
		t.Fatal("stub conversation was not created")
	}
	if got.UnreadCount != 1 {
		t.Fatalf("stub should count the message unread, got %d", got.UnreadCount)
	}
}

func TestClearUnread(t *testing.T) {
	s := NewConversationStore()
	base := time.Now().UTC()
	c := conv("c1", base, nil)
	c.UnreadCount = 7
	s.Upsert(c)

	s.ClearUnread("c1")
	got, _ := s.Get("c1")
	if got.UnreadCount != 0 {
		t.Fatalf("expected 0, got %d", got.UnreadCount)
	}
	// unknown id is a no-op
	s.ClearUnread("missing")
}
