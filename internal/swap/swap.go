// Package swap implements the thread↔session binding protocol (spec.md
// §4.1): enter arranges that a session's transaction is current for a
// worker for the duration of a request, leave un-binds it and re-arms or
// disarms the Reaper as appropriate.
package swap

import (
	"github.com/haxdb/rtc-master/internal/clock"
	"github.com/haxdb/rtc-master/internal/registry"
	"github.com/haxdb/rtc-master/internal/rtcerr"
	"github.com/haxdb/rtc-master/internal/session"
	"github.com/haxdb/rtc-master/internal/txm"
	"github.com/haxdb/rtc-master/internal/worker"
)

// Releaser releases every lock LockService.Track recorded against a
// transaction handle. internal/lockservice.Service implements this; it is
// narrowed to the one method leave() needs.
type Releaser interface {
	ReleaseAll(txm.Handle)
}

// Context bundles the collaborators enter/leave need.
type Context struct {
	Registry  *registry.Registry
	TxManager txm.Manager
	Clock     clock.Clock
	Locks     Releaser
}

// New constructs a swap Context.
func New(reg *registry.Registry, mgr txm.Manager, clk clock.Clock, locks Releaser) *Context {
	return &Context{Registry: reg, TxManager: mgr, Clock: clk, Locks: locks}
}

// EnterResult carries what leave needs to know to unwind an enter call.
// Nested is true when enter found the worker already current on the
// session's transaction (nested re-entry): callers must skip calling
// Leave entirely in that case, per spec.md §4.1 step 3.
type EnterResult struct {
	Prior    txm.Handle
	HadPrior bool
	Nested   bool
}

// Enter binds w onto session's transaction, beginning one if allowBegin is
// true and none exists, or resuming the existing one. It disarms the
// Reaper for session (lastActivity = 0) for the duration of the request.
func Enter(ctx *Context, w worker.Token, key session.Key, allowBegin bool) (EnterResult, error) {
	prior, hadPrior := ctx.TxManager.Current(w)

	entry, hasEntry := ctx.Registry.Get(key)
	var target txm.Handle
	if hasEntry {
		target = entry.Handle.(txm.Handle)
	}

	if hadPrior && hasEntry && prior == target {
		return EnterResult{Nested: true}, nil
	}

	if hadPrior {
		if err := ctx.TxManager.Suspend(w); err != nil {
			return EnterResult{}, err
		}
	}

	if !hasEntry {
		if !allowBegin {
			return EnterResult{}, rtcerr.NoSuchSession("no registry entry for session")
		}
		h, err := ctx.TxManager.Begin(w)
		if err != nil {
			return EnterResult{}, err
		}
		ctx.Registry.Put(key, registry.Entry{Handle: h, LastActivity: registry.Executing})
		target = h
	} else {
		if err := ctx.TxManager.Resume(w, target); err != nil {
			return EnterResult{}, err
		}
	}

	ctx.Registry.Touch(key, registry.Executing)

	return EnterResult{Prior: prior, HadPrior: hadPrior}, nil
}

// Outcome tags what Leave should do to the session's transaction.
type Outcome int

const (
	// OutcomeKeep suspends the transaction and arms the Reaper.
	OutcomeKeep Outcome = iota
	// OutcomeCommit commits the transaction and removes its registry entry.
	OutcomeCommit
	// OutcomeRollback rolls back the transaction and removes its registry entry.
	OutcomeRollback
)

// Leave un-binds w from session's transaction per outcome, then restores
// w's prior transaction if it had one. Callers must not call Leave when
// the matching Enter reported Nested.
func Leave(ctx *Context, w worker.Token, key session.Key, res EnterResult, outcome Outcome) error {
	entry, hasEntry := ctx.Registry.Get(key)
	var h txm.Handle
	if hasEntry {
		h = entry.Handle.(txm.Handle)
	}

	switch outcome {
	case OutcomeKeep:
		if err := ctx.TxManager.Suspend(w); err != nil {
			return err
		}
		now := ctx.Clock.NowMillis()
		if now == registry.Executing {
			// A clock reading of 0 would collide with the Executing
			// sentinel and leave the Reaper disarmed; step past it.
			now = registry.Executing + 1
		}
		ctx.Registry.Touch(key, now)
	case OutcomeCommit:
		if err := ctx.TxManager.Commit(w, h); err != nil {
			return err
		}
		ctx.Registry.Remove(key)
		if ctx.Locks != nil {
			ctx.Locks.ReleaseAll(h)
		}
	case OutcomeRollback:
		if err := ctx.TxManager.Rollback(w, h); err != nil {
			return err
		}
		ctx.Registry.Remove(key)
		if ctx.Locks != nil {
			ctx.Locks.ReleaseAll(h)
		}
	}

	if res.HadPrior {
		if err := ctx.TxManager.Resume(w, res.Prior); err != nil {
			return err
		}
	}
	return nil
}
