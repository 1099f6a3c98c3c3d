package presence

import (
	"reflect"
	"testing"
	"time"
)

func TestTypingSetAndStop(t *testing.T) {
	r := NewTypingRegistry(6 * time.Second)

	r.Set("c1", "u1", true)
	r.Set("c1", "u2", true)
	if got := r.Users("c1"); !reflect.DeepEqual(got, []string{"u1", "u2"}) {
		t.Fatalf("unexpected typing set: %v", got)
	}

	r.Set("c1", "u1", false)
	if got := r.Users("c1"); !reflect.DeepEqual(got, []string{"u2"}) {
		t.Fatalf("unexpected typing set after stop: %v", got)
	}
}

func TestTypingLastStopDropsEntry(t *testing.T) {
	r := NewTypingRegistry(6 * time.Second)

	r.Set("c1", "u1", true)
	r.Set("c1", "u1", false)

	if got := r.Users("c1"); len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
	if r.Active() {
		t.Fatal("empty conversation entry must be dropped from the map")
	}
}

func TestTypingStopForUnknownIsNoop(t *testing.T) {
	r := NewTypingRegistry(6 * time.Second)
	r.Set("c1", "u1", false)
	r.Set("missing", "u1", false)
	if r.Active() {
		t.Fatal("no entries expected")
	}
}

func TestTypingExpiresWithoutStopEvent(t *testing.T) {
	r := NewTypingRegistry(6 * time.Second)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Set("c1", "u1", true)

	// stop-typing event lost; the flag must not stick forever
	now = now.Add(7 * time.Second)
	if got := r.Users("c1"); len(got) != 0 {
		t.Fatalf("expected expired flag to be pruned, got %v", got)
	}
	if r.Active() {
		t.Fatal("expired conversation entry must be dropped")
	}
}

func TestTypingRefreshExtendsDeadline(t *testing.T) {
	r := NewTypingRegistry(6 * time.Second)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Set("c1", "u1", true)
	now = now.Add(4 * time.Second)
	r.Set("c1", "u1", true) // refresh
	now = now.Add(4 * time.Second)

	if got := r.Users("c1"); !reflect.DeepEqual(got, []string{"u1"}) {
		t.Fatalf("refreshed flag expired too early: %v", got)
	}
}
