package kvmux

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/hupe1980/kvmux/substrate"
)

// readBucket fetches and decodes a bucket record, optionally through the
// read cache.
func (x *Index) readBucket(ctx context.Context, index int, useCache bool) (*bucketRecord, bool, error) {
	data, found, err := x.readRecord(ctx, bucketName(index), useCache)
	if err != nil || !found {
		return nil, false, err
	}
	rec := newBucketRecord()
	if err := x.codec.Unmarshal(data, rec); err != nil {
		return nil, false, fmt.Errorf("%w: bucket %d: %v", ErrCorrupted, index, err)
	}
	if rec.Data == nil {
		rec.Data = make(map[string]json.RawMessage)
	}
	return rec, true, nil
}

// fits reports whether a bucket has room for delta more serialized bytes
// under the bucket size ceiling. A nil (absent) bucket counts as size 0.
func (x *Index) fits(rec *bucketRecord, delta int) bool {
	size := 0
	if rec != nil {
		size = rec.Size
	}
	return size+delta < x.maxBucketSize
}

// upsertBucket merges id -> value into a bucket record, creating the
// record if absent, and refreshes the cached size from the whole mutated
// record.
func (x *Index) upsertBucket(ctx context.Context, index int, id string, value json.RawMessage) error {
	name := bucketName(index)
	_, err := x.store.Transact(ctx, name, func(prev []byte, found bool) ([]byte, substrate.TxOutcome, error) {
		rec := newBucketRecord()
		if found {
			if err := x.codec.Unmarshal(prev, rec); err != nil {
				return nil, substrate.TxSkip, fmt.Errorf("%w: bucket %d: %v", ErrCorrupted, index, err)
			}
			if rec.Data == nil {
				rec.Data = make(map[string]json.RawMessage)
			}
		}
		rec.Data[id] = value

		size, err := x.measure(rec)
		if err != nil {
			return nil, substrate.TxSkip, err
		}
		rec.Size = size

		next, err := x.codec.Marshal(rec)
		if err != nil {
			return nil, substrate.TxSkip, err
		}
		return next, substrate.TxWrite, nil
	})
	x.cache.invalidate(name)
	return err
}

// removeFromBucket deletes an item from a bucket record. Removing the last
// item destroys the record outright rather than leaving an empty map, so
// the substrate's record count stays honest. It reports whether the record
// was destroyed; the caller is responsible for dropping a destroyed
// bucket's index from the block list.
func (x *Index) removeFromBucket(ctx context.Context, index int, id string) (bool, error) {
	name := bucketName(index)
	var destroyed bool
	_, err := x.store.Transact(ctx, name, func(prev []byte, found bool) ([]byte, substrate.TxOutcome, error) {
		destroyed = false
		if !found {
			return nil, substrate.TxSkip, nil
		}
		rec := newBucketRecord()
		if err := x.codec.Unmarshal(prev, rec); err != nil {
			return nil, substrate.TxSkip, fmt.Errorf("%w: bucket %d: %v", ErrCorrupted, index, err)
		}
		if _, ok := rec.Data[id]; !ok {
			return nil, substrate.TxSkip, nil
		}
		delete(rec.Data, id)

		if len(rec.Data) == 0 {
			destroyed = true
			return nil, substrate.TxDelete, nil
		}

		size, err := x.measure(rec)
		if err != nil {
			return nil, substrate.TxSkip, err
		}
		rec.Size = size

		next, err := x.codec.Marshal(rec)
		if err != nil {
			return nil, substrate.TxSkip, err
		}
		return next, substrate.TxWrite, nil
	})
	x.cache.invalidate(name)
	if err != nil {
		return false, err
	}
	return destroyed, nil
}

// chooseBucket returns the index of the first active bucket with required
// bytes of headroom, skipping exclude (pass -1 to consider all), falling
// back to allocating and registering a fresh index past the highest active
// one. A value too large for any bucket lands alone in a fresh bucket and
// may transiently exceed the ceiling there.
func (x *Index) chooseBucket(ctx context.Context, required int, exclude int) (int, error) {
	hdr, found, err := x.readHeader(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	var blocks []int
	if found {
		blocks = hdr.Blocks
	}

	for _, index := range blocks {
		if index == exclude {
			continue
		}
		rec, _, err := x.readBucket(ctx, index, false)
		if err != nil {
			return 0, err
		}
		if x.fits(rec, required) {
			return index, nil
		}
	}

	next := 0
	if len(blocks) > 0 {
		next = slices.Max(blocks) + 1
	}
	if next > maxBucketIndex {
		return 0, &PointerRangeError{Bucket: next}
	}
	if err := x.allocateBlock(ctx, next); err != nil {
		return 0, err
	}
	x.logger.Debug("allocated bucket", "bucket", next)
	return next, nil
}
