// Package disk implements logstore.DataSourceSet backed by one append-only
// file per resource, grounded on the teacher's internal/storage/disk
// package: atomic writes via a per-key advisory file lock (filelock_unix.go
// / filelock_stub.go, carried over unchanged) and an fsync before a write
// is considered durable. Unlike the teacher's per-key JSON documents, each
// resource here is a single append-only binary log of committed records,
// since RTC only ever appends and streams tails.
package disk

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/haxdb/rtc-master/internal/logstore"
)

// recordHeaderSize is the on-disk header: 8-byte big-endian TxID followed
// by a 4-byte big-endian payload length.
const recordHeaderSize = 8 + 4

// Source is a disk-backed logstore.DataSource: one append-only file, one
// writer at a time, holding an advisory OS file lock for the file's
// lifetime so a second process cannot open the same log concurrently.
type Source struct {
	name string
	path string

	mu     sync.RWMutex
	file   *os.File
	nextID uint64
}

// Open opens (creating if necessary) the log file for name under dir,
// replaying any existing records to recover nextID. A torn write at the
// tail (a partial record left by a crash mid-append) is truncated away
// rather than treated as corruption, since it was never fsynced.
func Open(dir, name string) (*Source, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk: prepare directory %q: %w", dir, err)
	}
	path := filepath.Join(dir, name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk: open log %q: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: lock log %q: %w", path, err)
	}

	nextID, validLen, err := recoverLength(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: recover log %q: %w", path, err)
	}
	if err := f.Truncate(validLen); err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: truncate torn tail of %q: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: seek log %q: %w", path, err)
	}

	return &Source{name: name, path: path, file: f, nextID: nextID}, nil
}

// recoverLength scans f from the start, returning the next TxID to assign
// and the byte offset of the last well-formed record's end.
func recoverLength(f *os.File) (nextID uint64, validLen int64, err error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	r := bufio.NewReader(f)
	var offset int64
	var lastTxID uint64
	header := make([]byte, recordHeaderSize)
	for {
		n, readErr := io.ReadFull(r, header)
		if readErr == io.EOF {
			break
		}
		if readErr == io.ErrUnexpectedEOF {
			break // torn header, stop before it
		}
		if readErr != nil {
			return 0, 0, readErr
		}
		txid := binary.BigEndian.Uint64(header[0:8])
		length := binary.BigEndian.Uint32(header[8:12])
		payload := make([]byte, length)
		pn, readErr := io.ReadFull(r, payload)
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break // torn payload, stop before the header we just consumed
		}
		if readErr != nil {
			return 0, 0, readErr
		}
		offset += int64(n) + int64(pn)
		lastTxID = txid
	}
	return lastTxID + 1, offset, nil
}

func (s *Source) Name() string { return s.name }

// ApplyPrepared appends payload as the next record and fsyncs before
// returning, so a successful call means the record survives a crash.
func (s *Source) ApplyPrepared(payload []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txid := s.nextID
	header := make([]byte, recordHeaderSize)
	binary.BigEndian.PutUint64(header[0:8], txid)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(payload)))

	if _, err := s.file.Write(header); err != nil {
		return 0, fmt.Errorf("disk: write header for %q: %w", s.name, err)
	}
	if _, err := s.file.Write(payload); err != nil {
		return 0, fmt.Errorf("disk: write payload for %q: %w", s.name, err)
	}
	if err := s.file.Sync(); err != nil {
		return 0, fmt.Errorf("disk: fsync %q: %w", s.name, err)
	}
	s.nextID++
	return txid, nil
}

func (s *Source) MasterFor() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID - 1
}

// Tail opens an independent read handle over the log and streams records
// with TxID > afterTxID, so it never contends with concurrent appends.
func (s *Source) Tail(afterTxID uint64) (logstore.RecordIterator, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("disk: open tail of %q: %w", s.name, err)
	}
	return &fileIterator{name: s.name, file: f, r: bufio.NewReader(f), after: afterTxID}, nil
}

// Close releases the file handle and its advisory lock.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := unlockFile(s.file); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

type fileIterator struct {
	name  string
	file  *os.File
	r     *bufio.Reader
	after uint64

	cur logstore.Record
	err error
}

func (it *fileIterator) Next() bool {
	if it.err != nil {
		return false
	}
	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(it.r, header); err != nil {
			if err != io.EOF {
				it.err = err
			}
			return false
		}
		txid := binary.BigEndian.Uint64(header[0:8])
		length := binary.BigEndian.Uint32(header[8:12])
		payload := make([]byte, length)
		if _, err := io.ReadFull(it.r, payload); err != nil {
			it.err = err
			return false
		}
		if txid <= it.after {
			continue
		}
		it.cur = logstore.Record{ResourceName: it.name, TxID: txid, Payload: payload}
		return true
	}
}

func (it *fileIterator) Record() logstore.Record { return it.cur }
func (it *fileIterator) Err() error               { return it.err }
func (it *fileIterator) Close() error             { return it.file.Close() }

// Set is a logstore.DataSourceSet whose members live under a common root
// directory, one log file per resource. Like memory.Set, ByName never
// auto-creates: resources must be opened up front via NewSet.
type Set struct {
	sources map[string]*Source
	names   []string
}

// NewSet opens (or creates) a log file under dir for each of names.
func NewSet(dir string, names ...string) (*Set, error) {
	s := &Set{sources: make(map[string]*Source, len(names)), names: append([]string(nil), names...)}
	for _, n := range names {
		src, err := Open(dir, n)
		if err != nil {
			return nil, err
		}
		s.sources[n] = src
	}
	return s, nil
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

// Close closes every resource's log file.
func (s *Set) Close() error {
	var first error
	for _, src := range s.sources {
		if err := src.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
