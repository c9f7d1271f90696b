// Package rawbinary implements the raw_binary format backend: interleaved
// fixed-width samples in a flat file, with an optional leading byte offset
// for acquisition-system headers.
//
// The layout carries no self-describing header, so the element type, byte
// offset and channel count are required fields resolved from the [data]
// section of the parameter file. Reads and writes translate to positioned
// I/O on the underlying file descriptor; since pread/pwrite on disjoint
// ranges are independent, the format is parallel-writable.
package rawbinary

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/McKenzieNeuro/spyking-circus/internal/dtype"
	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile"
)

// Capabilities is the static capability record for the raw_binary format.
var Capabilities = datafile.Capabilities{
	Description:      "raw_binary",
	Extensions:       []string{".dat", ".raw", ".bin"},
	Writable:         true,
	ParallelWritable: true,
	RequiredFields: map[string]datafile.FieldSpec{
		"data_dtype":  {Type: datafile.StringField},
		"nb_channels": {Type: datafile.IntField},
		"data_offset": {Type: datafile.IntField, Default: 0},
		"gain":        {Type: datafile.FloatField, Default: 1.0},
	},
}

// Config is the decoded form of the format's required fields.
type Config struct {
	DataDtype  string  `mapstructure:"data_dtype"`
	NbChannels int     `mapstructure:"nb_channels"`
	DataOffset int     `mapstructure:"data_offset"`
	Gain       float64 `mapstructure:"gain"`
}

// Format returns the registry entry for the raw_binary format.
func Format() datafile.Format {
	return datafile.Format{
		Name: "raw_binary",
		Caps: Capabilities,
		New: func(ctx context.Context, path string, fields map[string]any) (datafile.Backend, error) {
			var cfg Config
			if err := mapstructure.Decode(fields, &cfg); err != nil {
				return nil, fmt.Errorf("failed to decode raw_binary fields: %w", err)
			}
			return NewBackend(path, cfg)
		},
	}
}

// Backend reads and writes one raw binary file.
type Backend struct {
	path string
	cfg  Config
	dt   dtype.Type
	gain float32

	mu      sync.Mutex // guards f and geometry updates, not the I/O itself
	f       *os.File
	samples int64
}

// NewBackend validates the configuration and binds a backend to path. The
// file is not touched until Introspect, Open or Allocate.
func NewBackend(path string, cfg Config) (*Backend, error) {
	dt, err := dtype.Parse(cfg.DataDtype)
	if err != nil {
		return nil, fmt.Errorf("raw_binary %s: %w", path, err)
	}
	if cfg.NbChannels <= 0 {
		return nil, fmt.Errorf("raw_binary %s: nb_channels must be positive, got %d", path, cfg.NbChannels)
	}
	if cfg.DataOffset < 0 {
		return nil, fmt.Errorf("raw_binary %s: data_offset must not be negative, got %d", path, cfg.DataOffset)
	}
	if cfg.Gain == 0 {
		cfg.Gain = 1
	}

	return &Backend{
		path: path,
		cfg:  cfg,
		dt:   dt,
		gain: float32(cfg.Gain),
	}, nil
}

// rowBytes is the byte width of one interleaved sample row.
func (b *Backend) rowBytes() int64 {
	return int64(b.cfg.NbChannels) * int64(b.dt.Size())
}

// Introspect derives the sample count from the file size. A trailing
// fragment smaller than one row is ignored.
func (b *Backend) Introspect(ctx context.Context) (datafile.Info, error) {
	if err := ctx.Err(); err != nil {
		return datafile.Info{}, err
	}

	st, err := os.Stat(b.path)
	if err != nil {
		return datafile.Info{}, fmt.Errorf("failed to stat %s: %w", b.path, err)
	}

	payload := st.Size() - int64(b.cfg.DataOffset)
	if payload < 0 {
		return datafile.Info{}, fmt.Errorf("%s is smaller than its declared data offset %d", b.path, b.cfg.DataOffset)
	}

	b.mu.Lock()
	b.samples = payload / b.rowBytes()
	b.mu.Unlock()

	return datafile.Info{
		Samples:       b.samples,
		TotalChannels: b.cfg.NbChannels,
	}, nil
}

// Open opens the file descriptor. ModeWrite creates the file if needed.
func (b *Backend) Open(ctx context.Context, mode datafile.Mode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.f != nil {
		return nil
	}

	var (
		f   *os.File
		err error
	)
	if mode == datafile.ModeWrite {
		f, err = os.OpenFile(b.path, os.O_RDWR|os.O_CREATE, 0o644)
	} else {
		f, err = os.Open(b.path)
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", b.path, err)
	}
	b.f = f
	return nil
}

// Close releases the file descriptor.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", b.path, err)
	}
	return nil
}

// Allocate creates the file and sizes it for the given geometry. The channel
// count must match the configured nb_channels; the element type replaces the
// configured one so benchmarking can pick its own precision.
func (b *Backend) Allocate(ctx context.Context, samples int64, channels int, dt dtype.Type) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if channels != b.cfg.NbChannels {
		return fmt.Errorf("allocation of %d channels conflicts with configured nb_channels %d", channels, b.cfg.NbChannels)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.f == nil {
		f, err := os.OpenFile(b.path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", b.path, err)
		}
		b.f = f
	}

	b.dt = dt
	size := int64(b.cfg.DataOffset) + samples*b.rowBytes()
	if err := b.f.Truncate(size); err != nil {
		return fmt.Errorf("failed to size %s to %d bytes: %w", b.path, size, err)
	}
	b.samples = samples
	return nil
}

func (b *Backend) handle() (*os.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil, fmt.Errorf("%s is not open", b.path)
	}
	return b.f, nil
}
