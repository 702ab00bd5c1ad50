// Package responsepacker builds the packed response envelope spec.md §4.5a
// describes: a value plus a commit-tail stream of the log records the
// caller's session watermarks are behind on, grounded on the teacher's
// internal/core/query.go streaming-sink pattern (StreamPublishedDocuments)
// generalized from documents to logstore.Records and from an HTTP sink to
// an in-process iterator the caller drains at its own pace.
package responsepacker

import (
	"fmt"

	"github.com/haxdb/rtc-master/internal/logstore"
	"github.com/haxdb/rtc-master/internal/session"
)

// Filter decides whether a record for resourceName at txid should be
// included in a packed stream. A nil Filter includes everything.
type Filter func(resourceName string, txid uint64) bool

// Stream is a commit tail: the concatenation, in watermark order, of every
// resource's missed records. Callers Next/Record/Close it exactly like a
// single logstore.RecordIterator.
type Stream struct {
	iterators []namedIterator
	pos       int
	cur       logstore.Record
	err       error
}

type namedIterator struct {
	resourceName string
	it           logstore.RecordIterator
}

// Next advances to the next record across the underlying per-resource
// iterators, exhausting each in turn.
func (s *Stream) Next() bool {
	if s.err != nil {
		return false
	}
	for s.pos < len(s.iterators) {
		it := s.iterators[s.pos].it
		if it.Next() {
			s.cur = it.Record()
			return true
		}
		if err := it.Err(); err != nil {
			s.err = err
			return false
		}
		s.pos++
	}
	return false
}

func (s *Stream) Record() logstore.Record { return s.cur }
func (s *Stream) Err() error               { return s.err }

// Close closes every underlying iterator, returning the first error.
func (s *Stream) Close() error {
	var first error
	for _, ni := range s.iterators {
		if err := ni.it.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Response is the packed envelope: an operation's own result value plus
// the commit tail the caller's session was behind on.
type Response[T any] struct {
	Value T
	Tail  *Stream
}

// Packer builds Streams from a session's watermarks.
type Packer struct {
	dsset logstore.DataSourceSet
}

// New constructs a Packer over the given DataSourceSet.
func New(dsset logstore.DataSourceSet) *Packer {
	return &Packer{dsset: dsset}
}

// Pack builds the commit tail implied by key's watermarks: for each
// watermark, every record newer than TxIDSeen on that resource, subject to
// filter. Only resources named in key.Watermarks are consulted — an
// operation never streams a resource the caller never touched (spec.md
// §4.5a). Callers wrap the returned Stream together with their own result
// value into a Response.
func (p *Packer) Pack(key session.Key, filter Filter) (*Stream, error) {
	stream := &Stream{}
	for _, wm := range key.Watermarks {
		ds, ok := p.dsset.ByName(wm.ResourceName)
		if !ok {
			return nil, fmt.Errorf("responsepacker: unknown resource %q in watermark", wm.ResourceName)
		}
		it, err := ds.Tail(wm.TxIDSeen)
		if err != nil {
			return nil, fmt.Errorf("responsepacker: tail %q: %w", wm.ResourceName, err)
		}
		if filter != nil {
			it = &filteredIterator{inner: it, name: wm.ResourceName, filter: filter}
		}
		stream.iterators = append(stream.iterators, namedIterator{resourceName: wm.ResourceName, it: it})
	}
	return stream, nil
}

// PackWithoutStream builds a Response with an empty Tail, for operations
// that never produce a commit tail (e.g. shutdown).
func PackWithoutStream[T any](value T) Response[T] {
	return Response[T]{Value: value, Tail: &Stream{}}
}

type filteredIterator struct {
	inner  logstore.RecordIterator
	name   string
	filter Filter
	cur    logstore.Record
}

func (f *filteredIterator) Next() bool {
	for f.inner.Next() {
		rec := f.inner.Record()
		if f.filter(f.name, rec.TxID) {
			f.cur = rec
			return true
		}
	}
	return false
}

func (f *filteredIterator) Record() logstore.Record { return f.cur }
func (f *filteredIterator) Err() error               { return f.inner.Err() }
func (f *filteredIterator) Close() error             { return f.inner.Close() }
