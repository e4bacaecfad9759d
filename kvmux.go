package kvmux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/kvmux/codec"
	"github.com/hupe1980/kvmux/substrate"
)

// Index multiplexes many small logical (key, value) pairs into a bounded
// number of size-capped bucket records on a substrate, with one or more
// header records mapping keys to their physical location.
//
// An Index owns no process-wide state; create one per logical namespace
// and share it freely between goroutines of the same process. Operations
// that touch both a bucket and a header are not atomic as a whole — the
// substrate only guarantees per-record atomicity — so concurrent writers
// to the same key in different processes must be serialized externally.
type Index struct {
	store         substrate.Store
	codec         codec.Codec
	maxBucketSize int
	maxHeaderSize int
	cache         *recordCache
	logger        *Logger
	metrics       MetricsCollector

	pending      sync.WaitGroup
	mu           sync.Mutex
	deferredErrs []error
}

// New creates an Index on the given substrate.
func New(store substrate.Store, opts ...Option) (*Index, error) {
	if store == nil {
		return nil, errors.New("kvmux: substrate store must not be nil")
	}

	o := options{
		codec:         codec.Default,
		maxBucketSize: DefaultMaxBucketSize,
		maxHeaderSize: DefaultMaxHeaderSize,
		logger:        NoopLogger(),
		metrics:       NoopMetricsCollector{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	var cache *recordCache
	if o.readCache {
		cache = newRecordCache()
	}

	return &Index{
		store:         store,
		codec:         o.codec,
		maxBucketSize: o.maxBucketSize,
		maxHeaderSize: o.maxHeaderSize,
		cache:         cache,
		logger:        o.logger,
		metrics:       o.metrics,
	}, nil
}

// readRecord fetches raw record contents, consulting the read cache when
// asked. Absence is reported as found=false, not as an error.
func (x *Index) readRecord(ctx context.Context, name string, useCache bool) ([]byte, bool, error) {
	if useCache {
		if data, ok := x.cache.get(name); ok {
			return data, true, nil
		}
	}
	data, err := x.store.Get(ctx, name)
	if errors.Is(err, substrate.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	x.cache.set(name, data)
	return data, true, nil
}

// Get retrieves the value stored under key and decodes it into out.
// It returns an error satisfying errors.Is(err, ErrNotFound) when the key
// is not stored, and one satisfying errors.Is(err, ErrCorrupted) when the
// key's header entry points at a bucket or item that does not exist.
func (x *Index) Get(ctx context.Context, key string, out any) (err error) {
	start := time.Now()
	defer func() { x.metrics.RecordGet(time.Since(start), err) }()

	useCache := x.cache != nil
	_, ptr, found, err := x.locate(ctx, key, useCache)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	rec, found, err := x.readBucket(ctx, ptr.bucket, useCache)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: key %q points at missing bucket %d", ErrCorrupted, key, ptr.bucket)
	}
	raw, ok := rec.Data[ptr.id]
	if !ok {
		return fmt.Errorf("%w: key %q points at missing item in bucket %d", ErrCorrupted, key, ptr.bucket)
	}

	if out == nil {
		return nil
	}
	if err := x.codec.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode value for %q: %w", key, err)
	}
	return nil
}

// Set stores value under key, creating the key on first use and otherwise
// updating it in place or relocating it to a bucket with enough room.
func (x *Index) Set(ctx context.Context, key string, value any) (err error) {
	start := time.Now()
	defer func() { x.metrics.RecordSet(time.Since(start), err) }()

	data, err := x.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %q: %w", key, err)
	}
	raw := json.RawMessage(data)

	slot, ptr, found, err := x.locate(ctx, key, false)
	if err != nil {
		return err
	}
	if found {
		return x.update(ctx, slot, ptr, key, raw)
	}
	return x.insert(ctx, key, raw)
}

// insert places a brand-new key: allocate an id, pick a bucket and a
// header with room, point the header at the bucket, then write the value.
func (x *Index) insert(ctx context.Context, key string, value json.RawMessage) error {
	id, err := x.nextID(ctx)
	if err != nil {
		return err
	}

	required, err := x.entrySize(id, value)
	if err != nil {
		return err
	}
	bucket, err := x.chooseBucket(ctx, required, -1)
	if err != nil {
		return err
	}

	ptr := pointer{bucket: bucket, id: id}
	enc, err := ptr.encode()
	if err != nil {
		return err
	}
	hdrRequired, err := x.entrySize(key, enc)
	if err != nil {
		return err
	}
	slot, err := x.findHeaderSpace(ctx, hdrRequired)
	if err != nil {
		return err
	}

	if err := x.assign(ctx, slot, key, ptr); err != nil {
		return err
	}
	return x.upsertBucket(ctx, bucket, id, value)
}

// update rewrites an existing key. If the new value fits its current
// bucket it is replaced in place with no header change; otherwise the item
// is relocated: evicted from the old bucket first, written to a bucket
// with room, and only then re-pointed in its header, so a crash in between
// leaves the header aimed at a still-valid (soon-to-be-cleaned) location.
// The id travels with the item; only the bucket changes.
func (x *Index) update(ctx context.Context, slot int, ptr pointer, key string, value json.RawMessage) error {
	rec, found, err := x.readBucket(ctx, ptr.bucket, false)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: key %q points at missing bucket %d", ErrCorrupted, key, ptr.bucket)
	}
	old, ok := rec.Data[ptr.id]
	if !ok {
		return fmt.Errorf("%w: key %q points at missing item in bucket %d", ErrCorrupted, key, ptr.bucket)
	}

	delta, err := x.marginalSize(ptr.id, old, value)
	if err != nil {
		return err
	}
	if x.fits(rec, delta) {
		return x.upsertBucket(ctx, ptr.bucket, ptr.id, value)
	}

	destroyed, err := x.removeFromBucket(ctx, ptr.bucket, ptr.id)
	if err != nil {
		return err
	}
	if destroyed {
		x.deferOp(ctx, "free block", func(ctx context.Context) error {
			return x.freeBlock(ctx, ptr.bucket)
		})
	}

	required, err := x.entrySize(ptr.id, value)
	if err != nil {
		return err
	}
	bucket, err := x.chooseBucket(ctx, required, ptr.bucket)
	if err != nil {
		return err
	}
	if err := x.upsertBucket(ctx, bucket, ptr.id, value); err != nil {
		return err
	}

	x.logger.Debug("relocated item", "key", key, "from", ptr.bucket, "to", bucket)
	return x.assign(ctx, slot, key, pointer{bucket: bucket, id: ptr.id})
}

// Delete removes key and its value. Deleting an absent key is a no-op.
// If the key was the last item in its bucket, the bucket record is
// destroyed and its index dropped from the block list (the latter as
// deferred bookkeeping, observable via Settle). Deleting the last entry of
// a secondary header returns a *PinnedEntryError and changes nothing.
func (x *Index) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { x.metrics.RecordDelete(time.Since(start), err) }()

	slot, ptr, found, err := x.locate(ctx, key, false)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if err := x.unassign(ctx, slot, key); err != nil {
		return err
	}

	destroyed, err := x.removeFromBucket(ctx, ptr.bucket, ptr.id)
	if err != nil {
		return err
	}
	if destroyed {
		x.deferOp(ctx, "free block", func(ctx context.Context) error {
			return x.freeBlock(ctx, ptr.bucket)
		})
	}
	return nil
}

// Clear wipes every record in the namespace and empties the read cache.
// Deferred bookkeeping is drained first; its errors are discarded since
// the records it would touch are being destroyed anyway.
func (x *Index) Clear(ctx context.Context) error {
	x.pending.Wait()
	x.mu.Lock()
	x.deferredErrs = nil
	x.mu.Unlock()

	if err := x.store.Clear(ctx); err != nil {
		return err
	}
	x.cache.purge()
	return nil
}

// Keys returns every stored logical key, sorted.
func (x *Index) Keys(ctx context.Context) ([]string, error) {
	useCache := x.cache != nil
	slots, err := x.headerSlots(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, slot := range slots {
		rec, found, err := x.readHeader(ctx, slot, useCache)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		for key := range rec.DataPtr {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Len returns the number of stored logical keys.
func (x *Index) Len(ctx context.Context) (int, error) {
	useCache := x.cache != nil
	slots, err := x.headerSlots(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, slot := range slots {
		rec, found, err := x.readHeader(ctx, slot, useCache)
		if err != nil {
			return 0, err
		}
		if found {
			n += len(rec.DataPtr)
		}
	}
	return n, nil
}

// UsedRecords returns the number of physical records (headers plus
// buckets) the index occupies on the substrate.
func (x *Index) UsedRecords(ctx context.Context) (int, error) {
	return x.store.Count(ctx)
}

// Settle blocks until all deferred bookkeeping issued so far has finished
// and returns any errors it produced. Callers that need the block list to
// reflect the latest deletes — or tests asserting on substrate contents —
// call Settle between operations.
func (x *Index) Settle() error {
	x.pending.Wait()

	x.mu.Lock()
	defer x.mu.Unlock()
	err := errors.Join(x.deferredErrs...)
	x.deferredErrs = nil
	return err
}

// deferOp runs fn detached from the calling operation, severed from the
// caller's cancellation. Failures are logged and surfaced on the next
// Settle; the caller does not wait.
func (x *Index) deferOp(ctx context.Context, op string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	x.pending.Add(1)
	go func() {
		defer x.pending.Done()
		if err := fn(ctx); err != nil {
			x.logger.Warn("deferred bookkeeping failed", "op", op, "error", err)
			x.mu.Lock()
			x.deferredErrs = append(x.deferredErrs, err)
			x.mu.Unlock()
		}
	}()
}
