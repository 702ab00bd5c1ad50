// Package lockservice implements the LockService and LockTracker external
// collaborators from spec.md §2 as a single in-process reader/writer lock
// table with wait-for-graph deadlock detection, generalized from the
// teacher's per-key creation mutex (internal/core/locks.go's createLocks
// sync.Map) to full shared/exclusive locking with waiter bookkeeping.
package lockservice

import (
	"fmt"
	"sync"

	"github.com/haxdb/rtc-master/internal/lockable"
	"github.com/haxdb/rtc-master/internal/txm"
)

// DeadlockError reports a cycle detected in the wait-for graph. It is
// carried as a Go error internally but the RTC facade converts it to a
// lockable.Result{Kind: ResultDeadLocked} before it ever crosses the API
// boundary (spec.md §4.3, §7).
type DeadlockError struct{ Message string }

func (e *DeadlockError) Error() string { return e.Message }

// NotLockableError reports an IllegalResource condition.
type NotLockableError struct{ Detail string }

func (e *NotLockableError) Error() string { return e.Detail }

type resourceState struct {
	cond      *sync.Cond
	readers   map[txm.Handle]struct{}
	hasWriter bool
	writer    txm.Handle
}

// Service is the in-process LockService/LockTracker implementation.
type Service struct {
	mu        sync.Mutex
	resources map[string]*resourceState
	heldBy    map[txm.Handle]map[string]lockable.Mode
	waitsFor  map[txm.Handle]map[txm.Handle]struct{}
}

// New constructs an empty lock table.
func New() *Service {
	return &Service{
		resources: make(map[string]*resourceState),
		heldBy:    make(map[txm.Handle]map[string]lockable.Mode),
		waitsFor:  make(map[txm.Handle]map[txm.Handle]struct{}),
	}
}

func (s *Service) resourceLocked(key string) *resourceState {
	st, ok := s.resources[key]
	if !ok {
		st = &resourceState{readers: make(map[txm.Handle]struct{})}
		st.cond = sync.NewCond(&s.mu)
		s.resources[key] = st
	}
	return st
}

// GetReadLock blocks until holder has a shared lock on res, or returns a
// DeadlockError/NotLockableError. holder must be a live local transaction
// handle: no lock is ever granted on behalf of the zero handle.
func (s *Service) GetReadLock(holder txm.Handle, res lockable.Resource) error {
	return s.acquire(holder, res, lockable.ModeRead)
}

// GetWriteLock blocks until holder has an exclusive lock on res, or returns
// a DeadlockError/NotLockableError.
func (s *Service) GetWriteLock(holder txm.Handle, res lockable.Resource) error {
	return s.acquire(holder, res, lockable.ModeWrite)
}

func (s *Service) acquire(holder txm.Handle, res lockable.Resource, mode lockable.Mode) error {
	if holder.IsZero() {
		return &NotLockableError{Detail: "no active transaction to lock on behalf of"}
	}
	key := res.CacheKey()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.resourceLocked(key)
	for {
		blockers := blockersLocked(st, holder, mode)
		if len(blockers) == 0 {
			break
		}
		if err := s.addWaitEdgesLocked(holder, blockers); err != nil {
			return err
		}
		st.cond.Wait()
		s.removeWaitEdgesLocked(holder, blockers)
	}
	switch mode {
	case lockable.ModeRead:
		st.readers[holder] = struct{}{}
	case lockable.ModeWrite:
		st.hasWriter = true
		st.writer = holder
	}
	return nil
}

func blockersLocked(st *resourceState, holder txm.Handle, mode lockable.Mode) []txm.Handle {
	var blockers []txm.Handle
	if st.hasWriter && st.writer != holder {
		blockers = append(blockers, st.writer)
	}
	if mode == lockable.ModeWrite {
		for h := range st.readers {
			if h != holder {
				blockers = append(blockers, h)
			}
		}
	}
	return blockers
}

// addWaitEdgesLocked records that holder is about to wait on each of
// blockers. If doing so would close a cycle back to holder, no edge is
// added and a DeadlockError is returned instead — the caller must never
// block on a resource that would deadlock it.
func (s *Service) addWaitEdgesLocked(holder txm.Handle, blockers []txm.Handle) error {
	for _, b := range blockers {
		if s.reachableLocked(b, holder) {
			return &DeadlockError{Message: fmt.Sprintf("deadlock: %s waits for %s which already waits for %s", holder, b, holder)}
		}
	}
	edges := s.waitsFor[holder]
	if edges == nil {
		edges = make(map[txm.Handle]struct{})
		s.waitsFor[holder] = edges
	}
	for _, b := range blockers {
		edges[b] = struct{}{}
	}
	return nil
}

func (s *Service) removeWaitEdgesLocked(holder txm.Handle, blockers []txm.Handle) {
	edges := s.waitsFor[holder]
	if edges == nil {
		return
	}
	for _, b := range blockers {
		delete(edges, b)
	}
	if len(edges) == 0 {
		delete(s.waitsFor, holder)
	}
}

// reachableLocked reports whether to is reachable from from in the wait-for
// graph (breadth-first over s.waitsFor).
func (s *Service) reachableLocked(from, to txm.Handle) bool {
	if from == to {
		return true
	}
	visited := map[txm.Handle]bool{from: true}
	queue := []txm.Handle{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range s.waitsFor[cur] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Track records that holder now holds res in mode, for release on
// commit/rollback. This is LockTracker.addLockToTransaction — kept as a
// distinct step from GetReadLock/GetWriteLock per spec.md §4.3's algorithm,
// even though both are backed by the same Service.
func (s *Service) Track(holder txm.Handle, res lockable.Resource, mode lockable.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.heldBy[holder]
	if m == nil {
		m = make(map[string]lockable.Mode)
		s.heldBy[holder] = m
	}
	m[res.CacheKey()] = mode
}

// ReleaseAll releases every lock tracked against holder. Called by the
// swap protocol's leave() on both commit and rollback.
func (s *Service) ReleaseAll(holder txm.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, mode := range s.heldBy[holder] {
		st := s.resources[key]
		if st == nil {
			continue
		}
		switch mode {
		case lockable.ModeRead:
			delete(st.readers, holder)
		case lockable.ModeWrite:
			if st.writer == holder {
				st.hasWriter = false
				st.writer = txm.Handle{}
			}
		}
		st.cond.Broadcast()
	}
	delete(s.heldBy, holder)
	delete(s.waitsFor, holder)
}
