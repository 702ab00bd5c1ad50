// Package memory implements logstore.DataSourceSet backed by a plain
// mutex-guarded slice per resource, for tests and non-durable deployments.
package memory

import (
	"sync"

	"github.com/haxdb/rtc-master/internal/logstore"
)

// Source is an in-memory logstore.DataSource.
type Source struct {
	name string

	mu      sync.RWMutex
	records []logstore.Record
}

func newSource(name string) *Source {
	return &Source{name: name}
}

func (s *Source) Name() string { return s.name }

func (s *Source) ApplyPrepared(payload []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txid := uint64(len(s.records)) + 1
	s.records = append(s.records, logstore.Record{ResourceName: s.name, TxID: txid, Payload: payload})
	return txid, nil
}

func (s *Source) MasterFor() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.records))
}

func (s *Source) Tail(afterTxID uint64) (logstore.RecordIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Records are stored 1-indexed by TxID and never reordered, so a
	// snapshot copy is sufficient for the "iterate without holding the
	// lock" discipline the rest of this module follows.
	var out []logstore.Record
	for _, r := range s.records {
		if r.TxID > afterTxID {
			out = append(out, r)
		}
	}
	return &sliceIterator{records: out, pos: -1}, nil
}

type sliceIterator struct {
	records []logstore.Record
	pos     int
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.records)
}

func (it *sliceIterator) Record() logstore.Record { return it.records[it.pos] }
func (it *sliceIterator) Err() error               { return nil }
func (it *sliceIterator) Close() error             { return nil }

// Set is a logstore.DataSourceSet whose members are fixed at construction
// time: ByName never auto-vivifies an entry for an unregistered name.
type Set struct {
	sources map[string]*Source
	names   []string
}

// NewSet constructs a Set pre-registered with the given resource names.
func NewSet(names ...string) *Set {
	s := &Set{sources: make(map[string]*Source, len(names)), names: append([]string(nil), names...)}
	for _, n := range names {
		s.sources[n] = newSource(n)
	}
	return s
}

func (s *Set) ByName(name string) (logstore.DataSource, bool) {
	src, ok := s.sources[name]
	if !ok {
		return nil, false
	}
	return src, true
}

func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}
