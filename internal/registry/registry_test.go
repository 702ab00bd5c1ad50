package registry

import (
	"testing"

	"github.com/haxdb/rtc-master/internal/session"
)

func TestPutGetRemove(t *testing.T) {
	r := New()
	key := session.Key{OriginID: 1, SessionNonce: 2, EventSeq: 3}

	if _, ok := r.Get(key); ok {
		t.Fatal("expected no entry before Put")
	}
	r.Put(key, Entry{Handle: 42, LastActivity: Executing})
	entry, ok := r.Get(key)
	if !ok {
		t.Fatal("expected entry after Put")
	}
	if entry.Handle.(int) != 42 {
		t.Fatalf("unexpected handle: %v", entry.Handle)
	}

	r.Remove(key)
	if _, ok := r.Get(key); ok {
		t.Fatal("expected entry gone after Remove")
	}
}

func TestTouchMissingKeyReturnsFalse(t *testing.T) {
	r := New()
	key := session.Key{OriginID: 9}
	if r.Touch(key, 100) {
		t.Fatal("expected Touch on unknown key to return false")
	}
}

func TestSnapshotIsPointInTime(t *testing.T) {
	r := New()
	k1 := session.Key{OriginID: 1}
	k2 := session.Key{OriginID: 2}
	r.Put(k1, Entry{Handle: 1, LastActivity: Executing})
	r.Put(k2, Entry{Handle: 2, LastActivity: Executing})

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries in snapshot, got %d", len(snap))
	}

	r.Remove(k1)
	if len(snap) != 2 {
		t.Fatal("snapshot must not be affected by mutations after it was taken")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 live entry, got %d", r.Len())
	}
}
