package substrate

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompression_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"data":"data1 data1 data1"}`), 64)

	for _, comp := range []Compression{Zstd{}, LZ4{}} {
		t.Run(comp.Name(), func(t *testing.T) {
			compressed, err := comp.Compress(payload)
			require.NoError(t, err)
			assert.Less(t, len(compressed), len(payload))

			plain, err := comp.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, payload, plain)
		})
	}
}

func TestCompressedStore_Contract(t *testing.T) {
	t.Run("zstd", func(t *testing.T) {
		storeContract(t, NewCompressedStore(NewMemoryStore(), Zstd{}))
	})
	t.Run("lz4", func(t *testing.T) {
		storeContract(t, NewCompressedStore(NewMemoryStore(), LZ4{}))
	})
}

func TestCompressedStore_StoresCompressedBytes(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store := NewCompressedStore(inner, nil) // defaults to zstd

	payload := bytes.Repeat([]byte("abcdefgh"), 512)
	require.NoError(t, store.Put(ctx, "data0", payload))

	raw, err := inner.Get(ctx, "data0")
	require.NoError(t, err)
	assert.Less(t, len(raw), len(payload))

	plain, err := store.Get(ctx, "data0")
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestCompressedStore_TransactSeesPlainBytes(t *testing.T) {
	ctx := context.Background()
	store := NewCompressedStore(NewMemoryStore(), LZ4{})

	_, err := store.Transact(ctx, "data0", func(prev []byte, found bool) ([]byte, TxOutcome, error) {
		return []byte(`{"size":10}`), TxWrite, nil
	})
	require.NoError(t, err)

	committed, err := store.Transact(ctx, "data0", func(prev []byte, found bool) ([]byte, TxOutcome, error) {
		assert.True(t, found)
		assert.Equal(t, `{"size":10}`, string(prev))
		return nil, TxSkip, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `{"size":10}`, string(committed))
}
