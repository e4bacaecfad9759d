// Package kvmux stores an effectively unlimited number of small named
// values on a key-value substrate that caps both the number of records and
// the serialized size of each one.
//
// It packs many logical (key, value) pairs into a small number of "bucket"
// records, each filled up to a size budget by first-fit bin packing, and
// keeps one or more "header" records that index logical keys to compact
// {bucket, item id} pointers. Buckets are created lazily, refilled in
// place, and destroyed as soon as their last item is removed; headers
// overflow into additional records when the primary fills up.
//
// # Quick Start
//
//	ctx := context.Background()
//	idx, err := kvmux.New(substrate.NewMemoryStore(),
//	    kvmux.WithMaxBucketSize(4096),
//	    kvmux.WithReadCache(true),
//	)
//	if err != nil {
//	    panic(err)
//	}
//
//	if err := idx.Set(ctx, "greeting", "hello world"); err != nil {
//	    panic(err)
//	}
//
//	var got string
//	if err := idx.Get(ctx, "greeting", &got); err != nil {
//	    panic(err)
//	}
//
// # Substrates
//
// Any implementation of substrate.Store works as a backend. The package
// ships a mutex-serialized in-memory store, a DynamoDB store
// (substrate/dynamo) and a Redis store (substrate/redis), plus a
// compression middleware that wraps any of them. The only synchronization
// primitive the index relies on is the substrate's per-record atomic
// read-modify-write.
//
// # Consistency
//
// Operations that touch a bucket and a header are not atomic as a whole.
// A crash between the two writes can leave a header pointing at data that
// was never written; Get reports this as ErrCorrupted rather than treating
// it as a normal miss, and the recovery is Clear() plus a rebuild. Some
// bookkeeping (dropping emptied buckets from the block list) runs
// detached from the operation that triggered it; Settle() waits for it.
//
// # Persisted Layout
//
// Records are named header0, header1, ... and data0, data1, ... with JSON
// shapes that external tooling can read directly for debugging:
//
//	header0: {"blocks":[0,1],"dataptr":{"key":"!!"},"nextId":35}
//	data0:   {"size":43,"data":{"!":"some value"}}
//
// Only the primary header (header0) carries the block list and id counter.
package kvmux
