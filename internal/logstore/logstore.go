// Package logstore declares DataSource and DataSourceSet: the per-resource
// commit-tail append log the RTC facade writes into on single-resource
// commit and
// responsepacker reads back from when packing a commit tail, grounded on
// the teacher's internal/core/query.go cursor-iteration shape.
package logstore

// Record is one committed entry in a resource's log: the transaction that
// produced it and its payload. TxID is the master's monotonic per-resource
// counter spec.md's Watermark.TxIDSeen compares against.
type Record struct {
	ResourceName string
	TxID         uint64
	Payload      []byte
}

// RecordIterator streams Records in ascending TxID order.
type RecordIterator interface {
	// Next advances the iterator, returning false at end of stream or on
	// error (check Err after Next returns false).
	Next() bool
	Record() Record
	Err() error
	Close() error
}

// DataSource is a single named resource's append-only commit log.
type DataSource interface {
	Name() string
	// ApplyPrepared appends payload as the next committed record and
	// returns the TxID it was assigned.
	ApplyPrepared(payload []byte) (uint64, error)
	// Tail returns an iterator over every record with TxID > afterTxID.
	Tail(afterTxID uint64) (RecordIterator, error)
	// MasterFor returns the current high-water TxID for this resource,
	// i.e. the TxID the next ApplyPrepared call will assign minus one.
	MasterFor() uint64
}

// DataSourceSet resolves resource names to their DataSource. It never
// auto-creates: an unregistered name reports ok=false so
// rtcerr.UnknownResource is reachable (spec.md §4.4, §7).
type DataSourceSet interface {
	ByName(name string) (DataSource, bool)
	Names() []string
}
