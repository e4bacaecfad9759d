package kvmux

import (
	"context"

	"github.com/hupe1980/kvmux/substrate"
)

// nextID hands out the next item id from the primary header's counter as
// a single atomic transaction, so two concurrent calls can never observe
// the same counter value.
//
// An id is allocated once per logical key, at first insertion; updates and
// relocations reuse it. Ids are monotonic for the lifetime of the
// namespace and never recycled on delete.
func (x *Index) nextID(ctx context.Context) (string, error) {
	var id string
	err := x.transactHeader(ctx, 0, func(rec *headerRecord, _ bool) (substrate.TxOutcome, error) {
		if rec.NextID == 0 {
			rec.NextID = idMin
		}
		var err error
		id, err = encodeID(rec.NextID)
		if err != nil {
			return substrate.TxSkip, err
		}
		rec.NextID++
		return substrate.TxWrite, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
