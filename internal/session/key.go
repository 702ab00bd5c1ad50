// Package session defines the value-equal remote-transaction identity a
// slave submits requests under.
package session

import (
	"fmt"
	"sort"
	"strings"
)

// Watermark records the last txid a slave has already ingested for one
// named resource.
type Watermark struct {
	ResourceName string
	TxIDSeen     uint64
}

// Key is the opaque, value-equal tuple identifying a remote transaction.
// Watermarks is compared and encoded in canonical order (sorted by
// ResourceName) by Equal and CacheKey, so two Keys naming the same
// watermarks in different orders are still the same session. It is not a
// comparable Go type (Watermarks is a slice), so it cannot be used
// directly as a map key; Registry keys its internal map on CacheKey().
type Key struct {
	OriginID     uint32
	SessionNonce uint64
	EventSeq     uint64
	Watermarks   []Watermark
}

// Empty is the stateless-query constant: no watermarks, no session
// binding. The facade's AllocateIds and GetMasterIdForCommittedTx take no
// session key at all, so they do not use it.
var Empty = Key{}

// sortedWatermarks returns a copy of ws ordered by ResourceName, the fixed
// canonical order SPEC_FULL.md's data model commits Key to, so two
// logically identical watermark sets compare and encode equal regardless
// of the order a caller happened to supply them in.
func sortedWatermarks(ws []Watermark) []Watermark {
	out := make([]Watermark, len(ws))
	copy(out, ws)
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceName < out[j].ResourceName })
	return out
}

// Equal reports whether k and other denote the same remote transaction.
func (k Key) Equal(other Key) bool {
	if k.OriginID != other.OriginID || k.SessionNonce != other.SessionNonce || k.EventSeq != other.EventSeq {
		return false
	}
	a, b := sortedWatermarks(k.Watermarks), sortedWatermarks(other.Watermarks)
	if len(a) != len(b) {
		return false
	}
	for i, w := range a {
		if w != b[i] {
			return false
		}
	}
	return true
}

// CacheKey returns a canonical string encoding suitable for use as a map
// key. Two Keys with Equal() == true always produce the same CacheKey.
func (k Key) CacheKey() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d/%d", k.OriginID, k.SessionNonce, k.EventSeq)
	for _, w := range sortedWatermarks(k.Watermarks) {
		fmt.Fprintf(&b, "|%s=%d", w.ResourceName, w.TxIDSeen)
	}
	return b.String()
}

// WithWatermark returns a copy of k with resource's watermark set to txid,
// inserting a new entry if resource is not yet tracked. The result's
// Watermarks are kept sorted by ResourceName, per SPEC_FULL.md's data
// model, so repeated WithWatermark calls never drift into an order that
// would change CacheKey() for an otherwise-identical session.
func (k Key) WithWatermark(resource string, txid uint64) Key {
	out := Key{OriginID: k.OriginID, SessionNonce: k.SessionNonce, EventSeq: k.EventSeq}
	out.Watermarks = make([]Watermark, len(k.Watermarks))
	copy(out.Watermarks, k.Watermarks)
	found := false
	for i := range out.Watermarks {
		if out.Watermarks[i].ResourceName == resource {
			out.Watermarks[i].TxIDSeen = txid
			found = true
			break
		}
	}
	if !found {
		out.Watermarks = append(out.Watermarks, Watermark{ResourceName: resource, TxIDSeen: txid})
	}
	out.Watermarks = sortedWatermarks(out.Watermarks)
	return out
}
