package kvmux

import "fmt"

// A pointer locates one value inside the index: the numeric index of the
// bucket holding it and the item id within that bucket's data map.
//
// Headers store pointers compressed to a short string: one code point for
// the bucket index (shifted by ptrOffset into the printable range) followed
// by the id's code point(s). Keeping every code point printable keeps both
// record keys and pointer strings safely representable as plain text in
// the substrate's value encoding.
const (
	// ptrOffset maps bucket index 0 to '!', the first printable code point.
	ptrOffset = '!'

	// maxBucketIndex is the largest bucket index whose shifted code point
	// still lands on '~', the last single-byte printable.
	maxBucketIndex = int('~' - '!')

	// idMin is the first counter value handed out for item ids.
	idMin = int('!')

	// idMax bounds item ids below the surrogate range. Beyond it the
	// namespace is out of id space; this is a hard capacity fault, ids are
	// never wrapped or recycled.
	idMax = 0xD7FF
)

type pointer struct {
	bucket int
	id     string
}

// encode compresses the pointer to its two-code-point string form.
func (p pointer) encode() (string, error) {
	if p.bucket < 0 || p.bucket > maxBucketIndex {
		return "", &PointerRangeError{Bucket: p.bucket}
	}
	return string(rune(ptrOffset+p.bucket)) + p.id, nil
}

// decodePointer is the inverse of encode. A short string or an
// out-of-range bucket code point means the header holding the pointer is
// damaged, so both surface as corruption faults.
func decodePointer(s string) (pointer, error) {
	r := []rune(s)
	if len(r) < 2 {
		return pointer{}, fmt.Errorf("%w: pointer %q too short", ErrCorrupted, s)
	}
	bucket := int(r[0]) - ptrOffset
	if bucket < 0 || bucket > maxBucketIndex {
		return pointer{}, fmt.Errorf("%w: pointer %q has bucket code point outside the printable window", ErrCorrupted, s)
	}
	return pointer{bucket: bucket, id: string(r[1:])}, nil
}

// encodeID renders a counter value as a compact item id through the same
// code-point encoding pointers use.
func encodeID(n int) (string, error) {
	if n < idMin || n > idMax {
		return "", &PointerRangeError{ID: n}
	}
	return string(rune(n)), nil
}
