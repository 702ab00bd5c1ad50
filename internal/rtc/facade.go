// Package rtc implements the RTC Facade: the master-side Remote
// Transaction Controller's entry point (spec.md §6), composing the swap
// protocol, lock acquisition, single-resource commit, and response
// packing into the external operation surface.
package rtc

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/haxdb/rtc-master/internal/idalloc"
	"github.com/haxdb/rtc-master/internal/lockable"
	"github.com/haxdb/rtc-master/internal/lockservice"
	"github.com/haxdb/rtc-master/internal/reaper"
	"github.com/haxdb/rtc-master/internal/registry"
	"github.com/haxdb/rtc-master/internal/responsepacker"
	"github.com/haxdb/rtc-master/internal/rtcerr"
	"github.com/haxdb/rtc-master/internal/session"
	"github.com/haxdb/rtc-master/internal/swap"
	"github.com/haxdb/rtc-master/internal/worker"
	"pkt.systems/pslog"
)

// Facade is the RTC entry point. All exported methods correspond one-to-one
// with a row of spec.md §6's operation table.
type Facade struct {
	cfg     Config
	reg     *registry.Registry
	swapCtx *swap.Context
	packer  *responsepacker.Packer
	reaper  *reaper.Reaper
	metrics *rtcMetrics
	logger  pslog.Logger

	relTypesMu sync.Mutex
	relTypes   map[string]int
	nextRelID  int
}

// New constructs a Facade and starts its Reaper. Call Shutdown to stop it.
func New(cfg Config) *Facade {
	cfg.applyDefaults()
	reg := registry.New()
	swapCtx := swap.New(reg, cfg.TxManager, cfg.Clock, cfg.LockService)
	metrics := newRTCMetrics(cfg.Logger)

	f := &Facade{
		cfg:      cfg,
		reg:      reg,
		swapCtx:  swapCtx,
		packer:   responsepacker.New(cfg.DataSources),
		metrics:  metrics,
		logger:   cfg.Logger,
		relTypes: make(map[string]int),
	}
	f.reaper = reaper.New(reaper.Config{
		Registry:  reg,
		Swap:      swapCtx,
		Clock:     cfg.Clock,
		Logger:    cfg.Logger,
		Metrics:   metrics,
		Threshold: cfg.ReadLockTimeout,
		Tick:      cfg.ReaperTick,
	})
	f.reaper.Start()
	return f
}

// InitializeTx pre-registers session before its first lock (spec.md §4.6).
func (f *Facade) InitializeTx(w worker.Token, key session.Key) error {
	start := f.cfg.Clock.Now()
	res, err := swap.Enter(f.swapCtx, w, key, true)
	if err != nil {
		return err
	}
	defer func() {
		f.metrics.recordSwap(nil, "initializeTx", f.cfg.Clock.Now().Sub(start))
	}()
	if res.Nested {
		return nil
	}
	return swap.Leave(f.swapCtx, w, key, res, swap.OutcomeKeep)
}

// FinishTransaction commits or rolls back session, per success.
func (f *Facade) FinishTransaction(w worker.Token, key session.Key, success bool) error {
	res, err := swap.Enter(f.swapCtx, w, key, false)
	if err != nil {
		return err
	}
	if res.Nested {
		return fmt.Errorf("rtc: finishTransaction called from a nested enter")
	}
	outcome := swap.OutcomeRollback
	if success {
		outcome = swap.OutcomeCommit
	}
	return swap.Leave(f.swapCtx, w, key, res, outcome)
}

// acquire runs the lock-acquisition algorithm of spec.md §4.3 within a
// single enter/leave pair, in caller order, stopping at the first
// non-OkLocked outcome.
func (f *Facade) acquire(w worker.Token, key session.Key, resources []lockable.Resource, mode lockable.Mode) (responsepacker.Response[lockable.Result], error) {
	var zero responsepacker.Response[lockable.Result]

	res, err := swap.Enter(f.swapCtx, w, key, false)
	if err != nil {
		return zero, err
	}
	holder, _ := f.cfg.TxManager.Current(w)

	result := lockable.OkLocked()
	for _, r := range resources {
		var lockErr error
		if mode == lockable.ModeRead {
			lockErr = f.cfg.LockService.GetReadLock(holder, r)
		} else {
			lockErr = f.cfg.LockService.GetWriteLock(holder, r)
		}
		if lockErr != nil {
			var deadlock *lockservice.DeadlockError
			var notLockable *lockservice.NotLockableError
			switch {
			case errors.As(lockErr, &deadlock):
				result = lockable.DeadLocked(deadlock.Message)
				f.metrics.recordLockOutcome(nil, r.Kind.String(), "deadlock")
			case errors.As(lockErr, &notLockable):
				result = lockable.NotLocked()
				f.metrics.recordLockOutcome(nil, r.Kind.String(), "not_locked")
			default:
				if !res.Nested {
					_ = swap.Leave(f.swapCtx, w, key, res, swap.OutcomeKeep)
				}
				return zero, lockErr
			}
			break
		}
		f.cfg.LockService.Track(holder, r, mode)
		f.metrics.recordLockOutcome(nil, r.Kind.String(), "ok")
	}

	if !res.Nested {
		if err := swap.Leave(f.swapCtx, w, key, res, swap.OutcomeKeep); err != nil {
			return zero, err
		}
	}

	stream, err := f.packer.Pack(key, nil)
	if err != nil {
		return zero, err
	}
	return responsepacker.Response[lockable.Result]{Value: result, Tail: stream}, nil
}

// AcquireNodeReadLock/WriteLock, AcquireRelationshipReadLock/WriteLock,
// AcquireGraphReadLock/WriteLock, and AcquireIndexReadLock/WriteLock are
// the eight concrete operations of spec.md §6's lock rows, each a thin
// projection onto the shared acquire algorithm.

func (f *Facade) AcquireNodeReadLock(w worker.Token, key session.Key, ids []uint64) (responsepacker.Response[lockable.Result], error) {
	return f.acquire(w, key, nodeResources(ids), lockable.ModeRead)
}

func (f *Facade) AcquireNodeWriteLock(w worker.Token, key session.Key, ids []uint64) (responsepacker.Response[lockable.Result], error) {
	return f.acquire(w, key, nodeResources(ids), lockable.ModeWrite)
}

func (f *Facade) AcquireRelationshipReadLock(w worker.Token, key session.Key, ids []uint64) (responsepacker.Response[lockable.Result], error) {
	return f.acquire(w, key, relationshipResources(ids), lockable.ModeRead)
}

func (f *Facade) AcquireRelationshipWriteLock(w worker.Token, key session.Key, ids []uint64) (responsepacker.Response[lockable.Result], error) {
	return f.acquire(w, key, relationshipResources(ids), lockable.ModeWrite)
}

func (f *Facade) AcquireGraphReadLock(w worker.Token, key session.Key) (responsepacker.Response[lockable.Result], error) {
	return f.acquire(w, key, []lockable.Resource{lockable.Graph()}, lockable.ModeRead)
}

func (f *Facade) AcquireGraphWriteLock(w worker.Token, key session.Key) (responsepacker.Response[lockable.Result], error) {
	return f.acquire(w, key, []lockable.Resource{lockable.Graph()}, lockable.ModeWrite)
}

func (f *Facade) AcquireIndexReadLock(w worker.Token, key session.Key, index, indexKey string) (responsepacker.Response[lockable.Result], error) {
	return f.acquire(w, key, []lockable.Resource{lockable.Index(index, indexKey)}, lockable.ModeRead)
}

func (f *Facade) AcquireIndexWriteLock(w worker.Token, key session.Key, index, indexKey string) (responsepacker.Response[lockable.Result], error) {
	return f.acquire(w, key, []lockable.Resource{lockable.Index(index, indexKey)}, lockable.ModeWrite)
}

func nodeResources(ids []uint64) []lockable.Resource {
	out := make([]lockable.Resource, len(ids))
	for i, id := range ids {
		out[i] = lockable.Node(id)
	}
	return out
}

func relationshipResources(ids []uint64) []lockable.Resource {
	out := make([]lockable.Resource, len(ids))
	for i, id := range ids {
		out[i] = lockable.Relationship(id)
	}
	return out
}

// CommitSingleResourceTransaction implements spec.md §4.4.
func (f *Facade) CommitSingleResourceTransaction(w worker.Token, key session.Key, resourceName string, payload []byte) (responsepacker.Response[uint64], error) {
	var zero responsepacker.Response[uint64]
	start := f.cfg.Clock.Now()

	res, err := swap.Enter(f.swapCtx, w, key, false)
	if err != nil {
		return zero, err
	}

	ds, ok := f.cfg.DataSources.ByName(resourceName)
	if !ok {
		if !res.Nested {
			_ = swap.Leave(f.swapCtx, w, key, res, swap.OutcomeKeep)
		}
		return zero, rtcerr.UnknownResource(resourceName)
	}

	txid, err := ds.ApplyPrepared(payload)
	if err != nil {
		if !res.Nested {
			_ = swap.Leave(f.swapCtx, w, key, res, swap.OutcomeKeep)
		}
		return zero, rtcerr.IOErrorf("apply prepared payload to %q: %v", resourceName, err)
	}
	f.metrics.recordCommit(nil, resourceName, f.cfg.Clock.Now().Sub(start))

	// The session is not finished here; the slave calls finishTransaction
	// explicitly once it has durably recorded the commit on its side.
	if !res.Nested {
		if err := swap.Leave(f.swapCtx, w, key, res, swap.OutcomeKeep); err != nil {
			return zero, err
		}
	}

	stream, err := f.packer.Pack(key, func(name string, seenTxID uint64) bool {
		return name != resourceName || seenTxID < txid
	})
	if err != nil {
		return zero, err
	}
	return responsepacker.Response[uint64]{Value: txid, Tail: stream}, nil
}

// AllocateIds pulls a batch from IdAllocator; no session is involved
// (spec.md §4.6 uses session.Empty here).
func (f *Facade) AllocateIds(idType string) (responsepacker.Response[idalloc.Allocation], error) {
	alloc, err := f.cfg.IDAlloc.AllocateBatch(idType)
	if err != nil {
		return responsepacker.Response[idalloc.Allocation]{}, err
	}
	return responsepacker.PackWithoutStream(alloc), nil
}

// CreateRelationshipType registers name under session and returns its
// numeric id, minting a new one on first use.
func (f *Facade) CreateRelationshipType(w worker.Token, key session.Key, name string) (responsepacker.Response[int], error) {
	var zero responsepacker.Response[int]
	res, err := swap.Enter(f.swapCtx, w, key, false)
	if err != nil {
		return zero, err
	}

	f.relTypesMu.Lock()
	id, ok := f.relTypes[name]
	if !ok {
		id = f.nextRelID
		f.nextRelID++
		f.relTypes[name] = id
	}
	f.relTypesMu.Unlock()

	if !res.Nested {
		if err := swap.Leave(f.swapCtx, w, key, res, swap.OutcomeKeep); err != nil {
			return zero, err
		}
	}
	stream, err := f.packer.Pack(key, nil)
	if err != nil {
		return zero, err
	}
	return responsepacker.Response[int]{Value: id, Tail: stream}, nil
}

// PullUpdates has no payload of its own; it exists purely to receive the
// commit-tail stream (spec.md §4.6).
func (f *Facade) PullUpdates(w worker.Token, key session.Key) (responsepacker.Response[struct{}], error) {
	var zero responsepacker.Response[struct{}]
	res, err := swap.Enter(f.swapCtx, w, key, false)
	if err != nil {
		return zero, err
	}
	if !res.Nested {
		if err := swap.Leave(f.swapCtx, w, key, res, swap.OutcomeKeep); err != nil {
			return zero, err
		}
	}
	stream, err := f.packer.Pack(key, nil)
	if err != nil {
		return zero, err
	}
	return responsepacker.Response[struct{}]{Tail: stream}, nil
}

// MasterIDInfo is the resolved (masterEpoch, previousTxid) pair for a
// historical commit.
type MasterIDInfo struct {
	MasterEpoch  uint64
	PreviousTxID uint64
}

// GetMasterIdForCommittedTx resolves the master epoch a historical commit
// belongs to. storeId identifies which store's log to consult; this
// facade only serves the single store its DataSources cover.
func (f *Facade) GetMasterIdForCommittedTx(resourceName string, txid uint64, storeID string) (responsepacker.Response[MasterIDInfo], error) {
	ds, ok := f.cfg.DataSources.ByName(resourceName)
	if !ok {
		return responsepacker.Response[MasterIDInfo]{}, rtcerr.UnknownResource(resourceName)
	}
	if txid == 0 || txid > ds.MasterFor() {
		return responsepacker.Response[MasterIDInfo]{}, rtcerr.IOErrorf("txid %d not present on %q", txid, resourceName)
	}
	info := MasterIDInfo{MasterEpoch: 0, PreviousTxID: txid - 1}
	return responsepacker.PackWithoutStream(info), nil
}

// CopyStore streams every resource's full log through dst, then returns
// key with each resource's watermark set to the last TxID streamed for it
// so the caller never re-requests records it just received in the copy.
// The logs are not rotated.
func (f *Facade) CopyStore(w worker.Token, key session.Key, dst io.Writer) (session.Key, error) {
	res, err := swap.Enter(f.swapCtx, w, key, false)
	if err != nil {
		return session.Key{}, err
	}
	defer func() {
		if !res.Nested {
			_ = swap.Leave(f.swapCtx, w, key, res, swap.OutcomeKeep)
		}
	}()

	newKey := key
	for _, name := range f.cfg.DataSources.Names() {
		ds, ok := f.cfg.DataSources.ByName(name)
		if !ok {
			continue
		}
		it, err := ds.Tail(0)
		if err != nil {
			return session.Key{}, rtcerr.IOErrorf("open tail for copyStore on %q: %v", name, err)
		}
		var last uint64
		for it.Next() {
			rec := it.Record()
			if _, err := dst.Write(rec.Payload); err != nil {
				it.Close()
				return session.Key{}, rtcerr.IOErrorf("write copyStore payload for %q: %v", name, err)
			}
			last = rec.TxID
		}
		if err := it.Err(); err != nil {
			it.Close()
			return session.Key{}, rtcerr.IOErrorf("stream copyStore for %q: %v", name, err)
		}
		it.Close()
		newKey = newKey.WithWatermark(name, last)
	}
	return newKey, nil
}

// Shutdown stops the Reaper and lets in-flight requests drain (best
// effort — there is no forced-cancellation mechanism per spec.md §5).
func (f *Facade) Shutdown() {
	f.reaper.Stop()
}
