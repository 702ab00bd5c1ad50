package rtc

import (
	"testing"

	"github.com/haxdb/rtc-master/internal/clock"
	"github.com/haxdb/rtc-master/internal/idalloc"
	"github.com/haxdb/rtc-master/internal/lockable"
	"github.com/haxdb/rtc-master/internal/lockservice"
	"github.com/haxdb/rtc-master/internal/logstore/memory"
	"github.com/haxdb/rtc-master/internal/session"
	"github.com/haxdb/rtc-master/internal/txm"
	"github.com/haxdb/rtc-master/internal/worker"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	f := New(Config{
		TxManager:   txm.NewInProcess(),
		LockService: lockservice.New(),
		DataSources: memory.NewSet("nodes"),
		IDAlloc:     idalloc.NewBatchAllocator(100),
		Clock:       clock.Real{},
	})
	t.Cleanup(f.Shutdown)
	return f
}

func TestInitializeAcquireCommitFinish(t *testing.T) {
	f := newTestFacade(t)
	w := worker.New()
	key := session.Key{OriginID: 1}

	if err := f.InitializeTx(w, key); err != nil {
		t.Fatalf("InitializeTx: %v", err)
	}

	lockResp, err := f.AcquireNodeWriteLock(w, key, []uint64{1})
	if err != nil {
		t.Fatalf("AcquireNodeWriteLock: %v", err)
	}
	if lockResp.Value.Kind != lockable.ResultOkLocked {
		t.Fatalf("expected OkLocked, got %v", lockResp.Value)
	}

	commitResp, err := f.CommitSingleResourceTransaction(w, key, "nodes", []byte("payload"))
	if err != nil {
		t.Fatalf("CommitSingleResourceTransaction: %v", err)
	}
	if commitResp.Value != 1 {
		t.Fatalf("expected txid 1, got %d", commitResp.Value)
	}

	if err := f.FinishTransaction(w, key, true); err != nil {
		t.Fatalf("FinishTransaction: %v", err)
	}

	// The session is gone now; a second finish must fail with NoSuchSession.
	if err := f.FinishTransaction(w, key, true); err == nil {
		t.Fatal("expected FinishTransaction on an already-finished session to fail")
	}
}

func TestCommitAgainstUnknownResourceFails(t *testing.T) {
	f := newTestFacade(t)
	w := worker.New()
	key := session.Key{OriginID: 1}

	if err := f.InitializeTx(w, key); err != nil {
		t.Fatalf("InitializeTx: %v", err)
	}
	if _, err := f.CommitSingleResourceTransaction(w, key, "ghost", []byte("x")); err == nil {
		t.Fatal("expected commit against an unregistered resource to fail")
	}
	if err := f.FinishTransaction(w, key, false); err != nil {
		t.Fatalf("FinishTransaction rollback: %v", err)
	}
}

func TestAllocateIdsHasNoWatermarkStream(t *testing.T) {
	f := newTestFacade(t)
	resp, err := f.AllocateIds("node")
	if err != nil {
		t.Fatalf("AllocateIds: %v", err)
	}
	if resp.Value.Count != 100 {
		t.Fatalf("expected a full batch of 100 ids, got %d", resp.Value.Count)
	}
	if resp.Tail.Next() {
		t.Fatal("expected an empty commit tail for a sessionless operation")
	}
}
