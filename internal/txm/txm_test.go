package txm

import (
	"errors"
	"testing"

	"github.com/haxdb/rtc-master/internal/worker"
)

func TestBeginCurrentCommit(t *testing.T) {
	m := NewInProcess()
	w := worker.New()

	if _, ok := m.Current(w); ok {
		t.Fatal("expected no current transaction before Begin")
	}
	h, err := m.Begin(w)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if cur, ok := m.Current(w); !ok || cur != h {
		t.Fatalf("Current after Begin = %v, %v; want %v, true", cur, ok, h)
	}
	if err := m.Commit(w, h); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, ok := m.Current(w); ok {
		t.Fatal("expected no current transaction after Commit")
	}
}

func TestBeginTwiceOnSameWorkerFails(t *testing.T) {
	m := NewInProcess()
	w := worker.New()
	if _, err := m.Begin(w); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	if _, err := m.Begin(w); err == nil {
		t.Fatal("expected second Begin on the same worker to fail")
	}
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	m := NewInProcess()
	w1 := worker.New()
	w2 := worker.New()

	h, err := m.Begin(w1)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := m.Suspend(w1); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if _, ok := m.Current(w1); ok {
		t.Fatal("expected no current transaction after Suspend")
	}
	if err := m.Resume(w2, h); err != nil {
		t.Fatalf("Resume on a different worker: %v", err)
	}
	if cur, ok := m.Current(w2); !ok || cur != h {
		t.Fatalf("Current(w2) = %v, %v; want %v, true", cur, ok, h)
	}
}

func TestResumeSameHandleFromTwoWorkersFails(t *testing.T) {
	m := NewInProcess()
	w1 := worker.New()
	w2 := worker.New()

	h, err := m.Begin(w1)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	// h is current for w1 (not suspended). A second worker trying to
	// resume the same handle must fail with AlreadyResumedError, the
	// signal the Reaper uses to distinguish "still active" from
	// "genuinely abandoned" (spec.md §4.2 step 4).
	err = m.Resume(w2, h)
	if err == nil {
		t.Fatal("expected Resume of a still-current handle from another worker to fail")
	}
	var alreadyResumed *AlreadyResumedError
	if !errors.As(err, &alreadyResumed) {
		t.Fatalf("expected *AlreadyResumedError, got %T: %v", err, err)
	}
	if alreadyResumed.Handle != h {
		t.Fatalf("expected error to name handle %v, got %v", h, alreadyResumed.Handle)
	}
}

func TestResumeUnknownHandleFails(t *testing.T) {
	m := NewInProcess()
	w := worker.New()
	if err := m.Resume(w, Handle{}); err == nil {
		t.Fatal("expected Resume of a never-begun handle to fail")
	}
}

func TestRollbackForgetsHandle(t *testing.T) {
	m := NewInProcess()
	w := worker.New()
	h, err := m.Begin(w)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := m.Rollback(w, h); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := m.Resume(w, h); err == nil {
		t.Fatal("expected Resume of a rolled-back handle to fail")
	}
}
