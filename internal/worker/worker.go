// Package worker gives the swap protocol a stand-in for the thread affinity
// the underlying LocalTxManager assumes. Go has no supported way to query
// "the calling OS thread"; instead a Token is passed explicitly to every
// enter/leave call and Facade operation (WithToken/FromContext can carry
// one on a context.Context), so the caller decides what counts as "the
// same worker" across a pair of enter/leave calls. Per spec.md §9 design note (b), this is the
// scoped binding that replaces reliance on ambient thread-local state.
package worker

import (
	"context"
	"sync/atomic"
)

type contextKey struct{}

// Token identifies the logical worker executing a request. Two calls that
// carry the same Token are, by definition, "the same thread" for the
// purposes of the swap protocol's nested re-entry guard.
type Token uint64

var counter uint64

// New allocates a fresh Token.
func New() Token {
	return Token(atomic.AddUint64(&counter, 1))
}

// WithToken attaches t to ctx.
func WithToken(ctx context.Context, t Token) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the Token carried by ctx, minting a fresh one if ctx
// carries none. A freshly minted Token differs from every Token handed out
// before it, so it has no current transaction, and treating "no token in
// context" as "a brand-new worker" is safe.
func FromContext(ctx context.Context) Token {
	if ctx != nil {
		if t, ok := ctx.Value(contextKey{}).(Token); ok {
			return t
		}
	}
	return New()
}
