package dtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, name := range []string{"int16", "uint16", "int32", "float32", "float64"} {
		dt, err := Parse(name)
		require.NoError(t, err)
		assert.Equal(t, Type(name), dt)
	}

	_, err := Parse("complex64")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported data type")
}

func TestSize(t *testing.T) {
	assert.Equal(t, 2, Int16.Size())
	assert.Equal(t, 2, Uint16.Size())
	assert.Equal(t, 4, Int32.Size())
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, Float64.Size())
}

func TestRoundTrip(t *testing.T) {
	src := []float32{-3, -1, 0, 1, 127, 1000}

	for _, dt := range []Type{Int16, Int32, Float32, Float64} {
		buf := make([]byte, len(src)*dt.Size())
		require.NoError(t, dt.Encode(buf, src))

		dst := make([]float32, len(src))
		require.NoError(t, dt.Decode(dst, buf))
		assert.Equal(t, src, dst, "dtype %s", dt)
	}
}

func TestUint16ClampsNegatives(t *testing.T) {
	buf := make([]byte, 2)
	require.NoError(t, Uint16.Encode(buf, []float32{42}))

	dst := make([]float32, 1)
	require.NoError(t, Uint16.Decode(dst, buf))
	assert.Equal(t, float32(42), dst[0])
}

func TestDecodeShortBuffer(t *testing.T) {
	dst := make([]float32, 4)
	err := Int16.Decode(dst, make([]byte, 6))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need 8 bytes")
}

func TestEncodeShortBuffer(t *testing.T) {
	err := Float64.Encode(make([]byte, 8), []float32{1, 2})
	require.Error(t, err)
}
