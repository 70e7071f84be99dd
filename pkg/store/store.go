// Package store implements the session persistence contract: a Record
// snapshotting everything a Session needs to resume, and Store
// implementations backing it with memory or SQLite.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Load when no record exists for an ID.
var ErrNotFound = errors.New("store: record not found")

// Record is a serializable snapshot of a Session. Deliberately untyped
// past the byte-slice boundary (Messages, Config are opaque JSON blobs
// session owns the shape of) so this package never needs to import
// pkg/session — avoiding the cycle session->store->session that a
// concrete Session-typed Record would create.
type Record struct {
	ID        string
	Messages  []byte
	Config    []byte
	Usage     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the persistence contract a Session saves to and loads from.
type Store interface {
	// Save upserts record, preserving CreatedAt across repeated saves of
	// the same ID.
	Save(ctx context.Context, record Record) error
	// Load retrieves a record by ID, returning ErrNotFound if absent.
	Load(ctx context.Context, id string) (Record, error)
	// Exists reports whether a record is present for id, without paying
	// for a full Load.
	Exists(ctx context.Context, id string) (bool, error)
	// Delete removes a record by ID. Deleting an absent ID is not an
	// error.
	Delete(ctx context.Context, id string) error
	// List returns every stored record, newest first.
	List(ctx context.Context) ([]Record, error)
	Close() error
}
