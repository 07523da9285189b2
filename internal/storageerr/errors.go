// Package storageerr defines the error taxonomy shared by every component
// of the storage core (§7): InvalidArgument, Io, Corrupt, ShuttingDown, and
// Backpressure. Components return these sentinels (directly, or wrapped
// with github.com/pkg/errors for stack context at I/O boundaries) so
// callers can branch with errors.Is regardless of which layer produced the
// failure.
package storageerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a storage error into the taxonomy of §7.
type Kind uint8

const (
	KindInvalidArgument Kind = iota + 1
	KindIo
	KindCorrupt
	KindShuttingDown
	KindBackpressure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindIo:
		return "Io"
	case KindCorrupt:
		return "Corrupt"
	case KindShuttingDown:
		return "ShuttingDown"
	case KindBackpressure:
		return "Backpressure"
	default:
		return "Unknown"
	}
}

var (
	// ErrInvalidKey is returned when a key fails the non-empty invariant.
	ErrInvalidKey = &StorageError{Kind: KindInvalidArgument, msg: "invalid key"}
	// ErrIo wraps an underlying read/write/fsync failure.
	ErrIo = &StorageError{Kind: KindIo, msg: "io error"}
	// ErrCorrupt marks a checksum, magic, or footer validation failure.
	ErrCorrupt = &StorageError{Kind: KindCorrupt, msg: "corrupt data"}
	// ErrShuttingDown is returned for calls made during or after Close.
	ErrShuttingDown = &StorageError{Kind: KindShuttingDown, msg: "engine is shutting down"}
	// ErrBackpressure is returned when the immutable memtable queue is full.
	ErrBackpressure = &StorageError{Kind: KindBackpressure, msg: "flush queue is full"}
)

// StorageError is a typed error carrying one of the Kind values plus
// optional wrapped context.
type StorageError struct {
	Kind Kind
	msg  string
	err  error
}

func (e *StorageError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *StorageError) Unwrap() error { return e.err }

// Is lets errors.Is(err, storageerr.ErrIo) succeed for any *StorageError of
// the same Kind, not just the exact sentinel value.
func (e *StorageError) Is(target error) bool {
	other, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Wrap builds a new *StorageError of the given kind, wrapping cause with a
// stack trace via github.com/pkg/errors so the first I/O failure on a path
// carries enough context to debug without retrying inside the engine.
func Wrap(kind Kind, msg string, cause error) *StorageError {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &StorageError{Kind: kind, msg: msg, err: cause}
}
