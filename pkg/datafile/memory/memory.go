// Package memory implements an in-memory format backend.
//
// It backs tests and the benchmarking mode, where the pipeline fabricates a
// recording from scratch: construct empty, Allocate, then stream synthetic
// chunks through SetData. There is no persistence and no file on disk, so
// extension checking is disabled.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/McKenzieNeuro/spyking-circus/internal/dtype"
	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile"
)

// Capabilities is the static capability record for the memory format.
var Capabilities = datafile.Capabilities{
	Description:      "memory",
	Extensions:       nil, // any path is acceptable
	Writable:         true,
	ParallelWritable: true,
}

// Format returns the registry entry for the memory format.
func Format() datafile.Format {
	return datafile.Format{
		Name: "memory",
		Caps: Capabilities,
		New: func(ctx context.Context, path string, fields map[string]any) (datafile.Backend, error) {
			return NewBackend(), nil
		},
	}
}

// Backend holds the recording in a row-major float32 slab guarded by a
// read-write mutex, so concurrent readers and disjoint writers are safe.
type Backend struct {
	mu       sync.RWMutex
	data     []float32
	samples  int64
	channels int
	rate     float64
}

// NewBackend creates an empty memory backend.
func NewBackend() *Backend {
	return &Backend{}
}

// NewPopulated creates a backend over an existing block, optionally
// declaring a header-carried sampling rate (0 leaves the rate to the
// configuration). Used by tests that need a non-empty file.
func NewPopulated(block *datafile.Block, rate float64) *Backend {
	b := &Backend{
		data:     append([]float32(nil), block.Raw()...),
		samples:  int64(block.Samples()),
		channels: block.Channels(),
		rate:     rate,
	}
	return b
}

func (b *Backend) Open(ctx context.Context, mode datafile.Mode) error { return ctx.Err() }

func (b *Backend) Close() error { return nil }

func (b *Backend) Introspect(ctx context.Context) (datafile.Info, error) {
	if err := ctx.Err(); err != nil {
		return datafile.Info{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.samples == 0 {
		return datafile.Info{}, fmt.Errorf("memory backend holds no data")
	}
	return datafile.Info{
		Samples:       b.samples,
		TotalChannels: b.channels,
		Rate:          b.rate,
	}, nil
}

func (b *Backend) GetData(ctx context.Context, idx int64, chunkSize int64, pad datafile.Padding, nodes []int) (*datafile.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	plan, err := datafile.PlanRead(idx, chunkSize, pad, b.samples)
	if err != nil {
		return nil, err
	}

	block := datafile.NewBlock(int(plan.Rows), b.channels)
	for t := plan.Start; t < plan.End; t++ {
		src := b.data[t*int64(b.channels) : (t+1)*int64(b.channels)]
		copy(block.Row(int(t-plan.Start+plan.DstOffset)), src)
	}

	if nodes != nil {
		return block.SelectChannels(nodes)
	}
	return block, nil
}

func (b *Backend) SetData(ctx context.Context, t int64, block *datafile.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channels == 0 {
		return fmt.Errorf("memory backend is not allocated")
	}
	if block.Channels() != b.channels {
		return fmt.Errorf("block spans %d channels, allocation has %d", block.Channels(), b.channels)
	}
	end := t + int64(block.Samples())
	if t < 0 || end > b.samples {
		return fmt.Errorf("write range [%d, %d) is outside the allocation [0, %d)", t, end, b.samples)
	}

	copy(b.data[t*int64(b.channels):end*int64(b.channels)], block.Raw())
	return nil
}

func (b *Backend) Allocate(ctx context.Context, samples int64, channels int, dt dtype.Type) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if samples <= 0 || channels <= 0 {
		return fmt.Errorf("invalid allocation shape (%d, %d)", samples, channels)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = make([]float32, samples*int64(channels))
	b.samples = samples
	b.channels = channels
	return nil
}
