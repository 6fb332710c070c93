package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gocuria/codec"
)

func TestDictEncodingIsOrderIndependent(t *testing.T) {
	c := New()

	a := codec.Dict{}
	a["zebra"] = int64(1)
	a["apple"] = int64(2)
	a["mango"] = codec.List{"x", "y"}

	b := codec.Dict{}
	b["mango"] = codec.List{"x", "y"}
	b["apple"] = int64(2)
	b["zebra"] = int64(1)

	encA, err := c.Encode(a)
	require.NoError(t, err)
	encB, err := c.Encode(b)
	require.NoError(t, err)
	require.Equal(t, encA, encB, "two logically equal dicts must encode identically regardless of construction order")
}

func TestEncodeDecodeRoundTripsNestedValue(t *testing.T) {
	c := New()
	v := codec.Dict{
		"name":  "orc",
		"count": int64(7),
		"tags":  codec.List{"a", "b", "c"},
		"raw":   []byte{0xde, 0xad, 0xbe, 0xef},
	}

	encoded, err := c.Encode(v)
	require.NoError(t, err)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)

	d, ok := decoded.(codec.Dict)
	require.True(t, ok)
	require.Equal(t, "orc", d["name"])
	require.Equal(t, int64(7), d["count"])
	require.Equal(t, codec.List{"a", "b", "c"}, d["tags"])
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, d["raw"])
}

func TestEncodeNegativeAndZeroIntegers(t *testing.T) {
	c := New()

	encoded, err := c.Encode(int64(-42))
	require.NoError(t, err)
	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, int64(-42), decoded)

	encoded, err = c.Encode(int64(0))
	require.NoError(t, err)
	decoded, err = c.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, int64(0), decoded)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	c := New()
	encoded, err := c.Encode(codec.Dict{"key": int64(5)})
	require.NoError(t, err)

	_, err = c.Decode(encoded[:len(encoded)-1]) // drop the dict's closing "e"
	require.Error(t, err)
}
