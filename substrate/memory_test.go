package substrate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract exercises the Store contract against any implementation.
func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	// Get on absent record
	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// Put / Get round-trip
	require.NoError(t, store.Put(ctx, "header0", []byte(`{"dataptr":{}}`)))
	data, err := store.Get(ctx, "header0")
	require.NoError(t, err)
	assert.Equal(t, `{"dataptr":{}}`, string(data))

	// Transact write
	committed, err := store.Transact(ctx, "data0", func(prev []byte, found bool) ([]byte, TxOutcome, error) {
		assert.False(t, found)
		assert.Nil(t, prev)
		return []byte(`{"size":0}`), TxWrite, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `{"size":0}`, string(committed))

	// Transact skip leaves the record untouched and reports prior contents
	committed, err = store.Transact(ctx, "data0", func(prev []byte, found bool) ([]byte, TxOutcome, error) {
		assert.True(t, found)
		return nil, TxSkip, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `{"size":0}`, string(committed))

	// Transact delete
	committed, err = store.Transact(ctx, "data0", func(prev []byte, found bool) ([]byte, TxOutcome, error) {
		return nil, TxDelete, nil
	})
	require.NoError(t, err)
	assert.Nil(t, committed)
	_, err = store.Get(ctx, "data0")
	assert.ErrorIs(t, err, ErrNotFound)

	// List / Count
	require.NoError(t, store.Put(ctx, "header1", []byte(`{}`)))
	require.NoError(t, store.Put(ctx, "data3", []byte(`{}`)))
	names, err := store.List(ctx, "header")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"header0", "header1"}, names)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Delete is idempotent
	require.NoError(t, store.Delete(ctx, "data3"))
	require.NoError(t, store.Delete(ctx, "data3"))

	// Clear
	require.NoError(t, store.Clear(ctx))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_TransactAtomicity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "counter", []byte{'0'}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Transact(ctx, "counter", func(prev []byte, found bool) ([]byte, TxOutcome, error) {
				next := make([]byte, len(prev))
				copy(next, prev)
				// bump a unary counter; length is the count
				return append(next, 'x'), TxWrite, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	data, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Len(t, data, 51)
}
