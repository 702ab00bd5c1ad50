// Package registry implements TxRegistry: the coarse-locked mapping from
// SessionKey to (local transaction handle, last-activity timestamp) that
// the swap protocol and Reaper both operate on.
package registry

import (
	"sync"

	"github.com/haxdb/rtc-master/internal/session"
)

// Executing is the SUSPENDED_ZERO sentinel: lastActivity == 0 means the
// session is currently executing a request or blocked on a lock and must
// never be reaped.
const Executing int64 = 0

// Entry is a session's registry record. Values are always accessed through
// Registry methods so the "coarse locking is sufficient" discipline
// spec.md §4.2 calls for is enforced in one place.
type Entry struct {
	// Handle is the local transaction handle (txm.Handle), stored as any
	// to avoid a dependency from registry on txm.
	Handle       any
	LastActivity int64
}

type record struct {
	key   session.Key
	entry Entry
}

// Registry is TxRegistry: a SessionKey maps to at most one Entry, inserted
// only by Put (called from enter's begin path) and removed only by Remove
// (called from leave's commit/rollback path).
type Registry struct {
	mu      sync.Mutex
	byKey   map[string]*record
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{byKey: make(map[string]*record)}
}

// Get returns the entry bound to key, if any.
func (r *Registry) Get(key session.Key) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byKey[key.CacheKey()]
	if !ok {
		return Entry{}, false
	}
	return rec.entry, true
}

// Put inserts a new entry for key. Invariant 3 (spec.md §3): only called
// from within begin.
func (r *Registry) Put(key session.Key, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[key.CacheKey()] = &record{key: key, entry: entry}
}

// Remove deletes key's entry. Invariant 3: only called from within finish
// (commit/rollback) or the Reaper's reclamation.
func (r *Registry) Remove(key session.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, key.CacheKey())
}

// Touch updates key's lastActivity in place. Returns false if key is not
// present (the session finished concurrently). This and the swap protocol
// are the only two places lastActivity is written, per spec.md §3.
func (r *Registry) Touch(key session.Key, lastActivity int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byKey[key.CacheKey()]
	if !ok {
		return false
	}
	rec.entry.LastActivity = lastActivity
	return true
}

// Snapshot is one row of a point-in-time copy of the registry.
type Snapshot struct {
	Key   session.Key
	Entry Entry
}

// Snapshot copies out every (key, entry) pair under the registry lock and
// returns them for the caller to iterate without holding the lock, per
// spec.md §3 invariant 4 (no direct iteration while other threads
// insert/remove).
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.byKey))
	for _, rec := range r.byKey {
		out = append(out, Snapshot{Key: rec.key, Entry: rec.entry})
	}
	return out
}

// Len reports the number of live sessions. Test/diagnostic helper.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}
