package kvmux

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/kvmux/codec"
)

// entrySize measures the serialized footprint of a single k -> v entry as
// a one-entry object. This is what a fresh insert adds to a record, give
// or take the separator.
func (x *Index) entrySize(k string, v any) (int, error) {
	n, err := codec.Size(x.codec, map[string]any{k: v})
	if err != nil {
		return 0, fmt.Errorf("measure entry %q: %w", k, err)
	}
	return n, nil
}

// marginalSize measures the footprint delta of replacing an entry's value
// in place: size_of({k: new}) - size_of({k: old}).
//
// Both terms are measured through the codec rather than derived from byte
// lengths so that escaping quirks (multi-byte ids, quoted characters) are
// reflected the same way they will be in the re-measured record.
func (x *Index) marginalSize(k string, oldValue, newValue json.RawMessage) (int, error) {
	newSize, err := x.entrySize(k, newValue)
	if err != nil {
		return 0, err
	}
	oldSize, err := x.entrySize(k, oldValue)
	if err != nil {
		return 0, err
	}
	return newSize - oldSize, nil
}

// measure re-measures a whole record's serialized length.
func (x *Index) measure(record any) (int, error) {
	n, err := codec.Size(x.codec, record)
	if err != nil {
		return 0, fmt.Errorf("measure record: %w", err)
	}
	return n, nil
}
