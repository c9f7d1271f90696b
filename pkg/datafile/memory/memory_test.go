package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McKenzieNeuro/spyking-circus/internal/dtype"
	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile"
)

func ramp(samples, channels int) *datafile.Block {
	b := datafile.NewBlock(samples, channels)
	for t := 0; t < samples; t++ {
		for c := 0; c < channels; c++ {
			b.Set(t, c, float32(t*channels+c))
		}
	}
	return b
}

func TestIntrospect(t *testing.T) {
	ctx := context.Background()

	_, err := NewBackend().Introspect(ctx)
	require.Error(t, err)

	b := NewPopulated(ramp(50, 3), 24000)
	info, err := b.Introspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), info.Samples)
	assert.Equal(t, 3, info.TotalChannels)
	assert.Equal(t, 24000.0, info.Rate)
}

func TestAllocateSetGet(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()

	require.NoError(t, b.Allocate(ctx, 40, 2, dtype.Float32))
	require.NoError(t, b.SetData(ctx, 10, ramp(20, 2)))

	block, err := b.GetData(ctx, 0, 40, datafile.Padding{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, block.Row(9))
	assert.Equal(t, []float32{0, 1}, block.Row(10))
	assert.Equal(t, []float32{38, 39}, block.Row(29))
	assert.Equal(t, []float32{0, 0}, block.Row(30))
}

func TestSetDataValidation(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()

	err := b.SetData(ctx, 0, ramp(1, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allocated")

	require.NoError(t, b.Allocate(ctx, 10, 2, dtype.Float32))

	err = b.SetData(ctx, 0, ramp(1, 3))
	require.Error(t, err)

	err = b.SetData(ctx, 5, ramp(10, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the allocation")
}

func TestGetDataPaddingAndNodes(t *testing.T) {
	ctx := context.Background()
	b := NewPopulated(ramp(20, 2), 0)

	block, err := b.GetData(ctx, 0, 10, datafile.Padding{Before: -2, After: 2}, []int{1})
	require.NoError(t, err)
	require.Equal(t, 14, block.Samples())
	require.Equal(t, 1, block.Channels())

	assert.Equal(t, float32(0), block.At(0, 0))
	assert.Equal(t, float32(0), block.At(1, 0))
	assert.Equal(t, float32(1), block.At(2, 0))
	assert.Equal(t, float32(23), block.At(13, 0))
}
