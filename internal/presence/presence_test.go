package presence

import (
	"reflect"
	"testing"
)

func TestSnapshotReplacesWholesale(t *testing.T) {
	tr := NewTracker()
	tr.SetOnline("u1")
	tr.SetOnline("u2")

	tr.Snapshot([]string{"u3"})
	if tr.IsOnline("u1") || tr.IsOnline("u2") {
		t.Fatal("snapshot must replace the previous set")
	}
	if !tr.IsOnline("u3") {
		t.Fatal("u3 should be online after snapshot")
	}
}

func TestDeltas(t *testing.T) {
	tr := NewTracker()
	tr.Snapshot([]string{"u1", "u2"})

	tr.SetOnline("u3")
	tr.SetOffline("u1")
	if got := tr.List(); !reflect.DeepEqual(got, []string{"u2", "u3"}) {
		t.Fatalf("unexpected online set: %v", got)
	}
}

func TestOfflineForAbsentUserIsNoop(t *testing.T) {
	tr := NewTracker()
	tr.Snapshot([]string{"u1", "u2"})

	tr.SetOffline("u3")
	if got := tr.List(); !reflect.DeepEqual(got, []string{"u1", "u2"}) {
		t.Fatalf("offline delta for absent id must not change the set: %v", got)
	}
}
