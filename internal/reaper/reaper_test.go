package reaper

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/haxdb/rtc-master/internal/clock"
	"github.com/haxdb/rtc-master/internal/lockservice"
	"github.com/haxdb/rtc-master/internal/loggingutil"
	"github.com/haxdb/rtc-master/internal/registry"
	"github.com/haxdb/rtc-master/internal/session"
	"github.com/haxdb/rtc-master/internal/swap"
	"github.com/haxdb/rtc-master/internal/txm"
	"github.com/haxdb/rtc-master/internal/worker"
)

type countingMetrics struct {
	sweeps     int64
	reclaimed  int64
}

func (m *countingMetrics) RecordReaperSweep()     { atomic.AddInt64(&m.sweeps, 1) }
func (m *countingMetrics) RecordReaperReclaimed() { atomic.AddInt64(&m.reclaimed, 1) }

func TestReaperReclaimsSessionIdlePastThreshold(t *testing.T) {
	reg := registry.New()
	mgr := txm.NewInProcess()
	swapCtx := swap.New(reg, mgr, clock.Real{}, lockservice.New())
	metrics := &countingMetrics{}

	w := worker.New()
	key := session.Key{OriginID: 1}
	res, err := swap.Enter(swapCtx, w, key, true)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := swap.Leave(swapCtx, w, key, res, swap.OutcomeKeep); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	r := New(Config{
		Registry:  reg,
		Swap:      swapCtx,
		Clock:     clock.Real{},
		Logger:    loggingutil.NoopLogger(),
		Metrics:   metrics,
		Threshold: 10 * time.Millisecond,
		Tick:      10 * time.Millisecond,
	})
	r.Start()
	t.Cleanup(r.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get(key); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := reg.Get(key); ok {
		t.Fatal("expected the idle session to be reclaimed and removed from the registry")
	}
	if atomic.LoadInt64(&metrics.reclaimed) == 0 {
		t.Fatal("expected RecordReaperReclaimed to be called at least once")
	}
}

func TestReaperLeavesActiveSessionAlone(t *testing.T) {
	reg := registry.New()
	mgr := txm.NewInProcess()
	swapCtx := swap.New(reg, mgr, clock.Real{}, lockservice.New())
	metrics := &countingMetrics{}

	w := worker.New()
	key := session.Key{OriginID: 1}
	// Enter and never Leave: the session stays Executing (lastActivity==0)
	// for the duration of the test, which the Reaper must never touch.
	if _, err := swap.Enter(swapCtx, w, key, true); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	r := New(Config{
		Registry:  reg,
		Swap:      swapCtx,
		Clock:     clock.Real{},
		Logger:    loggingutil.NoopLogger(),
		Metrics:   metrics,
		Threshold: 10 * time.Millisecond,
		Tick:      10 * time.Millisecond,
	})
	r.Start()
	time.Sleep(150 * time.Millisecond)
	r.Stop()

	if _, ok := reg.Get(key); !ok {
		t.Fatal("expected the actively-executing session to remain in the registry")
	}
	if atomic.LoadInt64(&metrics.reclaimed) != 0 {
		t.Fatal("expected no reclamations while the session is Executing")
	}
}
