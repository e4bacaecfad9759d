package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	c, ok = ByName("go-json")
	require.True(t, ok)
	assert.Equal(t, "go-json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestJSONCompatibility(t *testing.T) {
	// Both codecs must produce identical bytes for the record shapes the
	// index persists, since sizes feed packing decisions.
	record := map[string]any{
		"size": 42,
		"data": map[string]string{"!": "data1 data1 data1", "\"": "data2"},
	}

	std, err := JSON{}.Marshal(record)
	require.NoError(t, err)
	fast, err := GoJSON{}.Marshal(record)
	require.NoError(t, err)
	assert.Equal(t, string(std), string(fast))
}

func TestSize(t *testing.T) {
	n, err := Size(JSON{}, map[string]string{"!": "value"})
	require.NoError(t, err)
	// {"!":"value"}
	assert.Equal(t, 13, n)

	_, err = Size(JSON{}, func() {})
	assert.Error(t, err)
}
