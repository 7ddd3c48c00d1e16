// Package storage holds the durable byte stores the gateway writes to: a
// single overwritten value (the control state) and an append-only journal
// (the audit trail). Core packages only see these interfaces.
package storage

import "errors"

// ErrNotFound is returned by Blob.Read when no value was ever written.
var ErrNotFound = errors.New("storage: not found")

// Blob is a single durable value that is replaced as a whole.
type Blob interface {
	// Read returns the last value written, or ErrNotFound.
	Read() ([]byte, error)
	// WriteAtomic replaces the value. Readers observe either the old or the
	// new value, never a mix.
	WriteAtomic(value []byte) error
}

// Journal is an append-only sequence of records.
type Journal interface {
	// AppendAtomic durably appends one record. On nil the record is fully
	// present; on error it is absent unless the error says otherwise.
	AppendAtomic(record []byte) error
}
