package kvmux

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when the logical key is not stored.
	ErrNotFound = errors.New("key not found")

	// ErrCorrupted indicates the index's internal records disagree: a
	// header points at a bucket or item the bucket store cannot find.
	// This is the footprint of a prior partial write or of external
	// tampering, not a normal miss; the only recovery is Clear() and a
	// rebuild from the source of truth.
	ErrCorrupted = errors.New("index corrupted, clear and rebuild")
)

// PointerRangeError is a capacity fault: a bucket index or item id fell
// outside the printable window the pointer encoding supports. It marks a
// scale limit of the namespace, not a transient condition, and is never
// retried.
type PointerRangeError struct {
	Bucket int
	ID     int
}

func (e *PointerRangeError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("item id %d outside the encodable range [%d, %d]", e.ID, idMin, idMax)
	}
	return fmt.Sprintf("bucket index %d outside the encodable range [0, %d]", e.Bucket, maxBucketIndex)
}

// PinnedEntryError is returned by Delete when the key is the last entry of
// a secondary header. Secondary headers are never emptied so their slot
// numbering stays stable; such a key cannot be deleted through the normal
// path.
type PinnedEntryError struct {
	Key    string
	Header int
}

func (e *PinnedEntryError) Error() string {
	return fmt.Sprintf("key %q is the last entry of header %d and cannot be deleted", e.Key, e.Header)
}
