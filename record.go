package kvmux

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	headerPrefix = "header"
	bucketPrefix = "data"
)

// headerRecord indexes logical keys to compressed pointers. The primary
// header (slot 0) additionally owns the list of active bucket indices and
// the id counter; secondary headers carry only the key map.
type headerRecord struct {
	Blocks  []int             `json:"blocks,omitempty"`
	DataPtr map[string]string `json:"dataptr"`
	NextID  int               `json:"nextId,omitempty"`
}

func newHeaderRecord() *headerRecord {
	return &headerRecord{DataPtr: make(map[string]string)}
}

// bucketRecord packs item id -> value pairs up to the bucket size ceiling.
// Size caches the serialized length of the whole record as measured on its
// last mutation; it is always re-measured, never adjusted incrementally.
type bucketRecord struct {
	Size int                        `json:"size"`
	Data map[string]json.RawMessage `json:"data"`
}

func newBucketRecord() *bucketRecord {
	return &bucketRecord{Data: make(map[string]json.RawMessage)}
}

func headerName(slot int) string {
	return headerPrefix + strconv.Itoa(slot)
}

func bucketName(index int) string {
	return bucketPrefix + strconv.Itoa(index)
}

// parseHeaderSlot extracts the slot number from a header record name.
func parseHeaderSlot(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, headerPrefix)
	if !ok {
		return 0, false
	}
	slot, err := strconv.Atoi(rest)
	if err != nil || slot < 0 {
		return 0, false
	}
	return slot, true
}
