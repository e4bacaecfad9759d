package kvmux

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kvmux/substrate"
)

func newTestIndex(t *testing.T, opts ...Option) *Index {
	t.Helper()
	idx, err := New(substrate.NewMemoryStore(), opts...)
	require.NoError(t, err)
	return idx
}

func TestEntrySize(t *testing.T) {
	idx := newTestIndex(t)

	// {"!":"abc"}
	n, err := idx.entrySize("!", json.RawMessage(`"abc"`))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	// {"dataitem1":"!!"}
	n, err = idx.entrySize("dataitem1", "!!")
	require.NoError(t, err)
	assert.Equal(t, 18, n)

	// the quote id escapes to \" inside the object key
	n, err = idx.entrySize("\"", json.RawMessage(`"abc"`))
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestMarginalSize(t *testing.T) {
	idx := newTestIndex(t)

	delta, err := idx.marginalSize("!", json.RawMessage(`"abc"`), json.RawMessage(`"abcdef"`))
	require.NoError(t, err)
	assert.Equal(t, 3, delta)

	// shrinking yields a negative delta
	delta, err = idx.marginalSize("!", json.RawMessage(`"abcdef"`), json.RawMessage(`"abc"`))
	require.NoError(t, err)
	assert.Equal(t, -3, delta)

	delta, err = idx.marginalSize("!", json.RawMessage(`"same"`), json.RawMessage(`"same"`))
	require.NoError(t, err)
	assert.Equal(t, 0, delta)
}

func TestMeasure_WholeRecord(t *testing.T) {
	idx := newTestIndex(t)

	rec := newBucketRecord()
	rec.Data["!"] = json.RawMessage(`"data1 data1 data1"`)
	n, err := idx.measure(rec)
	require.NoError(t, err)
	// {"size":0,"data":{"!":"data1 data1 data1"}}
	assert.Equal(t, 43, n)
}
