// Package substrate defines the record store the index multiplexes onto.
//
// A substrate is a flat namespace of small records addressed by string
// names. It imposes the two hard limits the index exists to work around: a
// maximum number of records and a maximum serialized size per record. The
// only synchronization primitive it offers is Transact, an atomic
// read-modify-write on a single record; there is no cross-record atomicity.
//
// # Built-in Implementations
//
//   - MemoryStore: mutex-serialized in-memory store for tests and embedding
//   - dynamo.Store: DynamoDB with conditional-write CAS
//   - redis.Store: Redis with WATCH/MULTI CAS
//
// CompressedStore wraps any of them with transparent record compression.
package substrate

import (
	"context"
	"os"
)

// ErrNotFound is returned when a record does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// TxOutcome tells the store what to do with the bytes a TxFunc returned.
type TxOutcome int

const (
	// TxWrite commits the returned bytes as the record's new contents.
	TxWrite TxOutcome = iota
	// TxDelete removes the record entirely.
	TxDelete
	// TxSkip leaves the record untouched.
	TxSkip
)

// TxFunc is the body of an atomic read-modify-write.
//
// prev holds the record's current contents and found reports whether the
// record exists; prev must be treated as read-only. The function may be
// invoked more than once if the store retries a contended transaction, so
// it must be free of side effects.
type TxFunc func(prev []byte, found bool) (next []byte, outcome TxOutcome, err error)

// Store is the record store contract the index is built against.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns a record's contents, or an error satisfying
	// errors.Is(err, ErrNotFound) if it does not exist.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put writes a record, replacing any previous contents.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, name string) error

	// Transact applies fn to the record as a single atomic
	// read-modify-write. Concurrent Transact calls on the same name are
	// serialized by the store. It returns the committed contents: the new
	// bytes after TxWrite, nil after TxDelete, and the pre-existing bytes
	// (nil if absent) after TxSkip.
	Transact(ctx context.Context, name string, fn TxFunc) ([]byte, error)

	// List returns the names of all records starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Count returns the number of records in the namespace.
	Count(ctx context.Context) (int, error)

	// Clear removes every record in the namespace.
	Clear(ctx context.Context) error
}
