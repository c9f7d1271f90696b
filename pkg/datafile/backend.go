package datafile

import (
	"context"

	"github.com/McKenzieNeuro/spyking-circus/internal/dtype"
)

// Mode selects how a backend opens its underlying storage.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Padding shifts the nominal boundaries of a chunk read by signed sample
// offsets: the loaded range is
//
//	[idx*chunkSize + Before, (idx+1)*chunkSize + After)
//
// so Padding{-N, N} widens a chunk by N samples of context on both sides,
// and Padding{t, t} slides a chunk of the same length forward by t samples
// (which is exactly how snippet reads decompose onto GetData).
type Padding struct {
	Before int64
	After  int64
}

// Info is what a backend learns from its header during introspection.
//
// Rate and TotalChannels are zero when the format's header does not carry
// them; the construction logic then falls back to the configuration
// resolver. MaxOffset may be left zero to mean "same as Samples" (formats
// with trailing metadata report a smaller usable bound).
type Info struct {
	// Samples is the total number of time samples.
	Samples int64

	// TotalChannels is the number of recorded channels, 0 if unknown.
	TotalChannels int

	// MaxOffset is the usable upper read bound in samples, 0 meaning
	// Samples.
	MaxOffset int64

	// Rate is the sampling rate in Hz, 0 if the header does not carry it.
	Rate float64
}

// Backend is the per-format implementation of chunk-level storage
// primitives. The DataFile wrapper owns validation, parameter resolution and
// the chunk-plan contract; backends only move samples.
//
// Boundary policy (identical for every backend): the nominal, unpadded
// sample range of a read must lie within [0, max_offset); padding that
// extends past either boundary is clamped and the missing samples are
// zero-filled. Writes must lie entirely within the allocated range.
type Backend interface {
	// Open prepares the backing storage for reads or writes.
	Open(ctx context.Context, mode Mode) error

	// Close releases OS resources. Backends holding file handles must be
	// closed explicitly by the owning pipeline stage.
	Close() error

	// Introspect reads the format header and reports the dataset geometry.
	// Called exactly once during construction for non-empty files.
	Introspect(ctx context.Context) (Info, error)

	// GetData reads chunk idx of the given size with padded boundaries,
	// optionally restricted to a channel subset (nil means all channels,
	// in recording order). The returned block has shape
	// (chunkSize+pad.After-pad.Before, len(nodes) or total channels).
	GetData(ctx context.Context, idx int64, chunkSize int64, pad Padding, nodes []int) (*Block, error)

	// SetData writes a block starting at the absolute sample offset t.
	// The block must span every recorded channel.
	SetData(ctx context.Context, t int64, block *Block) error

	// Allocate sizes the backing storage of an empty file for the given
	// geometry. Undefined for non-empty files.
	Allocate(ctx context.Context, samples int64, channels int, dt dtype.Type) error
}
