// Package reaper implements the periodic idle-session sweep (spec.md
// §4.2), grounded on the teacher's internal/core/ha.go haLoop ticker shape
// and idle_sweeper.go's per-tick swallow-and-log discipline.
package reaper

import (
	"errors"
	"sync"
	"time"

	"github.com/haxdb/rtc-master/internal/clock"
	"github.com/haxdb/rtc-master/internal/registry"
	"github.com/haxdb/rtc-master/internal/rtcerr"
	"github.com/haxdb/rtc-master/internal/session"
	"github.com/haxdb/rtc-master/internal/swap"
	"github.com/haxdb/rtc-master/internal/txm"
	"github.com/haxdb/rtc-master/internal/worker"
	"pkt.systems/pslog"
)

// Metrics receives sweep/reclaim counts. Defined here rather than taken as
// a concrete otel type so this package stays independent of the metrics
// backend the embedding facade chooses.
type Metrics interface {
	RecordReaperSweep()
	RecordReaperReclaimed()
}

// Config configures a Reaper.
type Config struct {
	Registry  *registry.Registry
	Swap      *swap.Context
	Clock     clock.Clock
	Logger    pslog.Logger
	Metrics   Metrics
	Threshold time.Duration // ha.read_lock_timeout_seconds
	Tick      time.Duration // master.reaper_tick_seconds, default 5s
}

// Reaper periodically sweeps the registry for sessions idle past Threshold
// and force-rolls them back.
type Reaper struct {
	cfg Config

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New constructs a Reaper. Call Start to begin sweeping.
func New(cfg Config) *Reaper {
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Second
	}
	return &Reaper{cfg: cfg, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start launches the sweep loop in its own goroutine.
func (r *Reaper) Start() {
	go r.loop()
}

// Stop signals the loop to exit and waits for it to finish, per spec.md
// §4.6's shutdown() contract (stop Reaper, let in-flight requests drain).
func (r *Reaper) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Reaper) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepOnce()
		case <-r.stop:
			return
		}
	}
}

func (r *Reaper) sweepOnce() {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordReaperSweep()
	}
	snapshot := r.cfg.Registry.Snapshot()
	now := r.cfg.Clock.NowMillis()
	thresholdMillis := r.cfg.Threshold.Milliseconds()
	for _, s := range snapshot {
		t := s.Entry.LastActivity
		if t == registry.Executing {
			continue
		}
		if now-t < thresholdMillis {
			continue
		}
		r.reclaim(s.Key)
	}
}

// reclaim runs enter(allowBegin=false)+leave(rollback) on the Reaper's own
// worker token, per spec.md §4.2 step 3. Errors are swallowed so one stuck
// session cannot stop the sweep. Two failure modes are expected and logged
// at debug rather than warn: NoSuchSession (the session finished
// concurrently between snapshot and reclaim) and AlreadyResumedError (the
// session is genuinely still active on another worker, not abandoned).
// Anything else is unexpected and logs at warn per spec.md §4.2 step 4.
func (r *Reaper) reclaim(key session.Key) {
	w := worker.New()
	r.cfg.Logger.Debug("reaper.reclaim.begin", "session", key.CacheKey())

	res, err := swap.Enter(r.cfg.Swap, w, key, false)
	if err != nil {
		var alreadyResumed *txm.AlreadyResumedError
		switch {
		case rtcerr.IsNoSuchSession(err):
			r.cfg.Logger.Debug("reaper.reclaim.no_such_session", "session", key.CacheKey())
		case errors.As(err, &alreadyResumed):
			r.cfg.Logger.Debug("reaper.reclaim.still_active", "session", key.CacheKey())
		default:
			r.cfg.Logger.Warn("reaper.reclaim.enter_failed", "session", key.CacheKey(), "error", err)
		}
		return
	}
	if res.Nested {
		// Enter found the session already current on w itself; Leave must
		// not be called for a nested enter, so leave the session be.
		return
	}

	if err := swap.Leave(r.cfg.Swap, w, key, res, swap.OutcomeRollback); err != nil {
		r.cfg.Logger.Warn("reaper.reclaim.leave_failed", "session", key.CacheKey(), "error", err)
		return
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordReaperReclaimed()
	}
	r.cfg.Logger.Debug("reaper.reclaim.done", "session", key.CacheKey())
}
