package datafile

import "fmt"

// Block is a 2D slab of samples in the pipeline's float32 working
// representation, laid out row-major: sample index (time) is the slow axis,
// channel the fast one.
//
// Backends decode their on-disk element type into a Block on read and encode
// from one on write; all numeric stages operate on Blocks.
type Block struct {
	data     []float32
	samples  int
	channels int
}

// NewBlock allocates a zeroed block of the given shape.
func NewBlock(samples, channels int) *Block {
	if samples < 0 || channels < 0 {
		panic(fmt.Sprintf("datafile: invalid block shape (%d, %d)", samples, channels))
	}
	return &Block{
		data:     make([]float32, samples*channels),
		samples:  samples,
		channels: channels,
	}
}

// Samples returns the number of time samples in the block.
func (b *Block) Samples() int { return b.samples }

// Channels returns the number of channels in the block.
func (b *Block) Channels() int { return b.channels }

// At returns the sample at time index t, channel c.
func (b *Block) At(t, c int) float32 {
	return b.data[t*b.channels+c]
}

// Set stores a sample at time index t, channel c.
func (b *Block) Set(t, c int, v float32) {
	b.data[t*b.channels+c] = v
}

// Row returns the channel vector at time index t, aliasing the block's
// storage.
func (b *Block) Row(t int) []float32 {
	return b.data[t*b.channels : (t+1)*b.channels]
}

// Raw returns the underlying row-major storage, aliasing the block.
func (b *Block) Raw() []float32 { return b.data }

// SelectChannels returns a new block holding exactly the listed channels, in
// the given order. Indices must lie in [0, Channels()).
func (b *Block) SelectChannels(nodes []int) (*Block, error) {
	for _, n := range nodes {
		if n < 0 || n >= b.channels {
			return nil, fmt.Errorf("channel %d out of range [0, %d)", n, b.channels)
		}
	}

	out := NewBlock(b.samples, len(nodes))
	for t := 0; t < b.samples; t++ {
		src := b.Row(t)
		dst := out.Row(t)
		for i, n := range nodes {
			dst[i] = src[n]
		}
	}
	return out, nil
}
