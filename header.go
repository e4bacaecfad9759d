package kvmux

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/kvmux/substrate"
)

// readHeader fetches and decodes a header record, optionally through the
// read cache.
func (x *Index) readHeader(ctx context.Context, slot int, useCache bool) (*headerRecord, bool, error) {
	data, found, err := x.readRecord(ctx, headerName(slot), useCache)
	if err != nil || !found {
		return nil, false, err
	}
	rec := newHeaderRecord()
	if err := x.codec.Unmarshal(data, rec); err != nil {
		return nil, false, fmt.Errorf("%w: header %d: %v", ErrCorrupted, slot, err)
	}
	if rec.DataPtr == nil {
		rec.DataPtr = make(map[string]string)
	}
	return rec, true, nil
}

// transactHeader runs fn inside an atomic read-modify-write on a header
// record, handling decode/encode and get-or-initialize semantics: fn sees
// a fresh empty record when the header does not exist yet. The header's
// cache entry is evicted as soon as the transaction has been issued.
func (x *Index) transactHeader(ctx context.Context, slot int, fn func(rec *headerRecord, found bool) (substrate.TxOutcome, error)) error {
	name := headerName(slot)
	_, err := x.store.Transact(ctx, name, func(prev []byte, found bool) ([]byte, substrate.TxOutcome, error) {
		rec := newHeaderRecord()
		if found {
			if err := x.codec.Unmarshal(prev, rec); err != nil {
				return nil, substrate.TxSkip, fmt.Errorf("%w: header %d: %v", ErrCorrupted, slot, err)
			}
			if rec.DataPtr == nil {
				rec.DataPtr = make(map[string]string)
			}
		}
		outcome, err := fn(rec, found)
		if err != nil || outcome != substrate.TxWrite {
			return nil, outcome, err
		}
		next, err := x.codec.Marshal(rec)
		if err != nil {
			return nil, substrate.TxSkip, err
		}
		return next, substrate.TxWrite, nil
	})
	x.cache.invalidate(name)
	return err
}

// headerSlots returns the slot numbers of all header records, ascending.
// Slot 0 counts as used even before the primary header record exists.
func (x *Index) headerSlots(ctx context.Context) ([]int, error) {
	names, err := x.store.List(ctx, headerPrefix)
	if err != nil {
		return nil, err
	}
	slots := []int{0}
	for _, name := range names {
		if slot, ok := parseHeaderSlot(name); ok && slot != 0 {
			slots = append(slots, slot)
		}
	}
	slices.Sort(slots)
	return slots, nil
}

// locate finds the header currently owning key and decodes its pointer.
// The primary header is checked first; secondaries are scanned in slot
// order, short-circuiting at the first hit (a key lives in exactly one
// header).
func (x *Index) locate(ctx context.Context, key string, useCache bool) (int, pointer, bool, error) {
	rec, found, err := x.readHeader(ctx, 0, useCache)
	if err != nil {
		return 0, pointer{}, false, err
	}
	if found {
		if enc, ok := rec.DataPtr[key]; ok {
			ptr, err := decodePointer(enc)
			if err != nil {
				return 0, pointer{}, false, err
			}
			return 0, ptr, true, nil
		}
	}

	slots, err := x.headerSlots(ctx)
	if err != nil {
		return 0, pointer{}, false, err
	}
	for _, slot := range slots {
		if slot == 0 {
			continue
		}
		rec, found, err := x.readHeader(ctx, slot, useCache)
		if err != nil {
			return 0, pointer{}, false, err
		}
		if !found {
			continue
		}
		if enc, ok := rec.DataPtr[key]; ok {
			ptr, err := decodePointer(enc)
			if err != nil {
				return 0, pointer{}, false, err
			}
			return slot, ptr, true, nil
		}
	}
	return 0, pointer{}, false, nil
}

// assign merges key -> pointer into the given header.
func (x *Index) assign(ctx context.Context, slot int, key string, ptr pointer) error {
	enc, err := ptr.encode()
	if err != nil {
		return err
	}
	return x.transactHeader(ctx, slot, func(rec *headerRecord, _ bool) (substrate.TxOutcome, error) {
		rec.DataPtr[key] = enc
		return substrate.TxWrite, nil
	})
}

// unassign removes key from the given header. It refuses to remove the
// last remaining entry of a secondary header: secondary headers are never
// emptied, which keeps header-slot numbering stable without a merge step.
func (x *Index) unassign(ctx context.Context, slot int, key string) error {
	var pinned bool
	err := x.transactHeader(ctx, slot, func(rec *headerRecord, found bool) (substrate.TxOutcome, error) {
		pinned = false
		if !found {
			return substrate.TxSkip, nil
		}
		if _, ok := rec.DataPtr[key]; !ok {
			return substrate.TxSkip, nil
		}
		if slot != 0 && len(rec.DataPtr) == 1 {
			pinned = true
			return substrate.TxSkip, nil
		}
		delete(rec.DataPtr, key)
		return substrate.TxWrite, nil
	})
	if err != nil {
		return err
	}
	if pinned {
		return &PinnedEntryError{Key: key, Header: slot}
	}
	return nil
}

// findHeaderSpace returns the slot of the first header with required bytes
// of headroom under the header size ceiling, allocating the smallest
// unused slot number when every existing header is full.
func (x *Index) findHeaderSpace(ctx context.Context, required int) (int, error) {
	slots, err := x.headerSlots(ctx)
	if err != nil {
		return 0, err
	}
	for _, slot := range slots {
		rec, found, err := x.readHeader(ctx, slot, false)
		if err != nil {
			return 0, err
		}
		if !found {
			rec = newHeaderRecord()
		}
		size, err := x.measure(rec)
		if err != nil {
			return 0, err
		}
		if size+required < x.maxHeaderSize {
			return slot, nil
		}
	}

	slot := smallestMissingSlot(slots)
	x.logger.Debug("headers full, opening new header slot", "slot", slot)
	return slot, nil
}

// allocateBlock registers a bucket index in the primary header's block
// list.
func (x *Index) allocateBlock(ctx context.Context, index int) error {
	return x.transactHeader(ctx, 0, func(rec *headerRecord, _ bool) (substrate.TxOutcome, error) {
		if slices.Contains(rec.Blocks, index) {
			return substrate.TxSkip, nil
		}
		rec.Blocks = append(rec.Blocks, index)
		slices.Sort(rec.Blocks)
		return substrate.TxWrite, nil
	})
}

// freeBlock drops a bucket index from the primary header's block list.
func (x *Index) freeBlock(ctx context.Context, index int) error {
	return x.transactHeader(ctx, 0, func(rec *headerRecord, found bool) (substrate.TxOutcome, error) {
		if !found {
			return substrate.TxSkip, nil
		}
		i := slices.Index(rec.Blocks, index)
		if i < 0 {
			return substrate.TxSkip, nil
		}
		rec.Blocks = slices.Delete(rec.Blocks, i, i+1)
		return substrate.TxWrite, nil
	})
}
