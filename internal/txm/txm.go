// Package txm declares the thread-affine LocalTxManager contract RTC
// arbitrates around, and ships an in-process reference implementation so
// this module is runnable standalone (spec.md treats LocalTxManager as an
// external collaborator; RTC's own code only ever sees the Manager
// interface).
package txm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/haxdb/rtc-master/internal/worker"
)

// Handle is an opaque local transaction handle. The zero Handle never
// denotes a live transaction.
type Handle struct {
	id uint64
}

// AlreadyResumedError reports an attempt to resume a handle that is
// current for a different worker — the IllegalState condition spec.md
// §4.2 step 4 calls out as an expected reclamation failure (the session
// is genuinely still active, not abandoned).
type AlreadyResumedError struct {
	Handle Handle
}

func (e *AlreadyResumedError) Error() string {
	return fmt.Sprintf("txm: %s is already resumed on another worker", e.Handle)
}

// IsZero reports whether h is the no-handle sentinel.
func (h Handle) IsZero() bool { return h.id == 0 }

func (h Handle) String() string { return fmt.Sprintf("tx#%d", h.id) }

// Manager is the thread-affine transaction manager contract: at most one
// transaction is "current" for a given worker.Token at a time, and begin/
// commit/rollback/lock acquisition implicitly target whatever is current.
type Manager interface {
	// Current returns the handle bound to w, if any.
	Current(w worker.Token) (Handle, bool)
	// Begin starts a new transaction and binds it to w. Fails if w already
	// has a current transaction.
	Begin(w worker.Token) (Handle, error)
	// Suspend detaches w's current transaction, leaving it live but not
	// current for any worker.
	Suspend(w worker.Token) error
	// Resume binds h as current for w. Fails if h is not a live,
	// currently-unbound handle, or if w already has a current transaction.
	Resume(w worker.Token, h Handle) error
	// Commit commits h, which must be current for w, and forgets it.
	Commit(w worker.Token, h Handle) error
	// Rollback rolls back h, which must be current for w, and forgets it.
	Rollback(w worker.Token, h Handle) error
}

// InProcess is a reference Manager backed by plain maps. It has no storage
// engine behind it: commit/rollback only affect handle bookkeeping. Real
// deployments plug in the graph database's own transaction manager.
type InProcess struct {
	mu       sync.Mutex
	current  map[worker.Token]Handle
	resumers map[Handle]worker.Token
	live     map[Handle]struct{}
	nextID   uint64
}

// NewInProcess constructs an empty in-process transaction manager.
func NewInProcess() *InProcess {
	return &InProcess{
		current:  make(map[worker.Token]Handle),
		resumers: make(map[Handle]worker.Token),
		live:     make(map[Handle]struct{}),
	}
}

func (m *InProcess) Current(w worker.Token) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.current[w]
	return h, ok
}

func (m *InProcess) Begin(w worker.Token) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, bound := m.current[w]; bound {
		return Handle{}, errors.New("txm: worker already has a current transaction")
	}
	m.nextID++
	h := Handle{id: m.nextID}
	m.live[h] = struct{}{}
	m.current[w] = h
	m.resumers[h] = w
	return h, nil
}

func (m *InProcess) Suspend(w worker.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.current[w]
	if !ok {
		return errors.New("txm: nothing current to suspend")
	}
	delete(m.current, w)
	delete(m.resumers, h)
	return nil
}

func (m *InProcess) Resume(w worker.Token, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[h]; !ok {
		return fmt.Errorf("txm: handle %s is not live", h)
	}
	if cur, bound := m.current[w]; bound {
		return fmt.Errorf("txm: worker already resumed on %s", cur)
	}
	if resumer, bound := m.resumers[h]; bound && resumer != w {
		return &AlreadyResumedError{Handle: h}
	}
	m.current[w] = h
	m.resumers[h] = w
	return nil
}

func (m *InProcess) Commit(w worker.Token, h Handle) error {
	return m.finish(w, h)
}

func (m *InProcess) Rollback(w worker.Token, h Handle) error {
	return m.finish(w, h)
}

func (m *InProcess) finish(w worker.Token, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.current[w]
	if !ok || cur != h {
		return fmt.Errorf("txm: %s is not current for this worker", h)
	}
	delete(m.current, w)
	delete(m.resumers, h)
	delete(m.live, h)
	return nil
}
