package substrate

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is a byte-level compression scheme for record contents.
type Compression interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// CompressedStore wraps a Store and compresses record contents
// transparently. The index's size accounting always works on the
// uncompressed serialized form, so compression only widens the gap between
// the packing ceiling and what the substrate actually stores.
type CompressedStore struct {
	inner Store
	comp  Compression
}

// NewCompressedStore wraps inner with the given compression scheme.
// If comp is nil, Zstd is used.
func NewCompressedStore(inner Store, comp Compression) *CompressedStore {
	if comp == nil {
		comp = Zstd{}
	}
	return &CompressedStore{inner: inner, comp: comp}
}

// Get reads and decompresses a record.
func (s *CompressedStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.comp.Decompress(data)
}

// Put compresses and writes a record.
func (s *CompressedStore) Put(ctx context.Context, name string, data []byte) error {
	compressed, err := s.comp.Compress(data)
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, name, compressed)
}

// Delete removes a record.
func (s *CompressedStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

// Transact runs fn against the decompressed record contents.
func (s *CompressedStore) Transact(ctx context.Context, name string, fn TxFunc) ([]byte, error) {
	var committed []byte
	_, err := s.inner.Transact(ctx, name, func(prev []byte, found bool) ([]byte, TxOutcome, error) {
		var plain []byte
		if found {
			var derr error
			plain, derr = s.comp.Decompress(prev)
			if derr != nil {
				return nil, TxSkip, derr
			}
		}
		next, outcome, err := fn(plain, found)
		if err != nil || outcome != TxWrite {
			committed = nil
			if outcome == TxSkip {
				committed = plain
			}
			return nil, outcome, err
		}
		compressed, cerr := s.comp.Compress(next)
		if cerr != nil {
			return nil, TxSkip, cerr
		}
		committed = next
		return compressed, TxWrite, nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// List returns record names matching the prefix.
func (s *CompressedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Count returns the number of records.
func (s *CompressedStore) Count(ctx context.Context) (int, error) {
	return s.inner.Count(ctx)
}

// Clear removes every record.
func (s *CompressedStore) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}

// Zstd compresses records with klauspost/compress zstd.
type Zstd struct{}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// Name returns the unique name of the scheme ("zstd").
func (Zstd) Name() string { return "zstd" }

// Compress returns the zstd-compressed form of src.
func (Zstd) Compress(src []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(src, nil), nil
}

// Decompress returns the decompressed form of src.
func (Zstd) Decompress(src []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// LZ4 compresses records with the lz4 frame format.
type LZ4 struct{}

// Name returns the unique name of the scheme ("lz4").
func (LZ4) Name() string { return "lz4" }

// Compress returns the lz4-framed form of src.
func (LZ4) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress returns the decompressed form of src.
func (LZ4) Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}
