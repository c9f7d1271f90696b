package datafile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockLayout(t *testing.T) {
	b := NewBlock(3, 2)
	assert.Equal(t, 3, b.Samples())
	assert.Equal(t, 2, b.Channels())

	b.Set(1, 0, 10)
	b.Set(1, 1, 11)
	assert.Equal(t, float32(10), b.At(1, 0))
	assert.Equal(t, []float32{10, 11}, b.Row(1))

	// Row aliases storage.
	b.Row(2)[1] = 21
	assert.Equal(t, float32(21), b.At(2, 1))
	assert.Equal(t, []float32{0, 0, 10, 11, 0, 21}, b.Raw())
}

func TestSelectChannels(t *testing.T) {
	b := NewBlock(2, 3)
	for tt := 0; tt < 2; tt++ {
		for c := 0; c < 3; c++ {
			b.Set(tt, c, float32(tt*10+c))
		}
	}

	sub, err := b.SelectChannels([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Channels())
	assert.Equal(t, []float32{2, 0}, sub.Row(0))
	assert.Equal(t, []float32{12, 10}, sub.Row(1))

	_, err = b.SelectChannels([]int{3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}
