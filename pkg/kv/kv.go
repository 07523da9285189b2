// Package kv is the public façade over internal/engine: an opaque
// []byte key-value store backed by a WAL and an LSM tree of SSTables.
package kv

import (
	"errors"

	"github.com/siltkv/siltkv/internal/engine"
	"github.com/siltkv/siltkv/internal/storageerr"
)

// ErrNotFound is returned by Get when the key has no live value.
var ErrNotFound = errors.New("kv: key not found")

// ErrClosed is returned by Put, Get, Delete, Flush and Compact once Close
// has been called. Stats keeps working and Close itself is idempotent.
var ErrClosed = errors.New("kv: db is closed")

// DB is a handle to an open key-value store. The zero value is not
// usable; construct with Open.
type DB struct {
	e *engine.Engine
}

// Open opens (creating if necessary) a database rooted at dir, using
// the documented default configuration.
func Open(dir string) (*DB, error) {
	return OpenWithOptions(engine.DefaultOptions(dir))
}

// OpenWithOptions opens a database with a caller-supplied configuration,
// for callers that need non-default memtable/WAL/compaction tuning.
func OpenWithOptions(opts engine.Options) (*DB, error) {
	e, err := engine.Open(opts)
	if err != nil {
		return nil, translate(err)
	}
	return &DB{e: e}, nil
}

// Put stores value under key, replacing any prior value.
func (db *DB) Put(key, value []byte) error {
	return translate(db.e.Put(key, value))
}

// Get retrieves the value stored under key. It returns ErrNotFound if
// key has no live value (absent, or shadowed by a tombstone).
func (db *DB) Get(key []byte) ([]byte, error) {
	val, ok, err := db.e.Get(key)
	if err != nil {
		return nil, translate(err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return val, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (db *DB) Delete(key []byte) error {
	return translate(db.e.Delete(key))
}

// Flush forces the active memtable to rotate and schedules a background
// flush to an SSTable, without waiting for it to complete.
func (db *DB) Flush() error {
	return translate(db.e.Flush())
}

// Stats returns a point-in-time snapshot of storage size and
// pending-work counters.
func (db *DB) Stats() engine.Stats {
	return db.e.Stats()
}

// Compact runs one synchronous compaction pass immediately, instead of
// waiting for the background compactor's next periodic tick.
func (db *DB) Compact() error {
	return translate(db.e.Compact())
}

// Close releases every resource held by the database. Idempotent.
func (db *DB) Close() error {
	return translate(db.e.Close())
}

// translate maps the engine's typed storage errors onto this package's
// public sentinels where a caller-facing distinction exists, and passes
// everything else through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storageerr.ErrShuttingDown) {
		return ErrClosed
	}
	return err
}
