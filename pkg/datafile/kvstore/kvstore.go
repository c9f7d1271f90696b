// Package kvstore implements a BadgerDB-backed format for pipeline
// intermediates (filtered or whitened copies of a recording).
//
// The dataset lives in a Badger directory: one value per fixed-size block of
// sample rows, plus a JSON-encoded header record under a singleton key. The
// store is writable from one process at a time (Badger holds a directory
// lock), so the format is writable but not parallel-writable; sharded
// filtering output must be funneled through a single writer.
//
// Storage schema:
//
//	header            JSON header record (identity, geometry, element type)
//	block/<n>         rows [n*block_size, (n+1)*block_size) of the recording,
//	                  encoded with the header's element type
//
// Blocks absent from the store read as zeros, so sparse allocation is free.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/McKenzieNeuro/spyking-circus/internal/dtype"
	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile"
)

// Capabilities is the static capability record for the kvstore format.
var Capabilities = datafile.Capabilities{
	Description:      "kvstore",
	Extensions:       []string{".kv"},
	Writable:         true,
	ParallelWritable: false, // Badger is single-process; writes need a coordinator
	RequiredFields: map[string]datafile.FieldSpec{
		"block_size": {Type: datafile.IntField, Default: 16384},
	},
}

// Config is the decoded form of the format's required fields.
type Config struct {
	// BlockSize is the number of sample rows per Badger value.
	BlockSize int `mapstructure:"block_size"`
}

// Format returns the registry entry for the kvstore format.
func Format() datafile.Format {
	return datafile.Format{
		Name: "kvstore",
		Caps: Capabilities,
		New: func(ctx context.Context, path string, fields map[string]any) (datafile.Backend, error) {
			var cfg Config
			if err := mapstructure.Decode(fields, &cfg); err != nil {
				return nil, fmt.Errorf("failed to decode kvstore fields: %w", err)
			}
			return NewBackend(path, cfg)
		},
	}
}

// header is the singleton dataset record. JSON keeps it debuggable with
// standard Badger tooling.
type header struct {
	// ID identifies the dataset independently of its directory path.
	ID string `json:"id"`

	Samples   int64   `json:"samples"`
	Channels  int     `json:"channels"`
	BlockSize int64   `json:"block_size"`
	Dtype     string  `json:"dtype"`
	Rate      float64 `json:"rate,omitempty"`
}

var keyHeader = []byte("header")

func keyBlock(n int64) []byte {
	return []byte(fmt.Sprintf("block/%012d", n))
}

// Backend reads and writes one Badger-backed dataset.
type Backend struct {
	path string
	cfg  Config

	mu  sync.Mutex // guards db handle and hdr
	db  *badger.DB
	hdr header
	dt  dtype.Type
}

// NewBackend validates the configuration and binds a backend to a Badger
// directory. The database is opened lazily on first use.
func NewBackend(path string, cfg Config) (*Backend, error) {
	if cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("kvstore %s: block_size must be positive, got %d", path, cfg.BlockSize)
	}
	return &Backend{path: path, cfg: cfg}, nil
}

// ensureOpen opens the Badger database once. Logging is quietened the same
// way for every caller; block values are raw sample bytes, so compression
// buys nothing.
func (b *Backend) ensureOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return nil
	}

	opts := badger.DefaultOptions(b.path).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open kvstore at %s: %w", b.path, err)
	}
	b.db = db
	return nil
}

func (b *Backend) Open(ctx context.Context, mode datafile.Mode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.ensureOpen()
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	if err != nil {
		return fmt.Errorf("failed to close kvstore at %s: %w", b.path, err)
	}
	return nil
}

// Introspect loads the header record. The header carries the sampling rate
// when the producing stage recorded one, in which case it takes precedence
// over the configuration.
func (b *Backend) Introspect(ctx context.Context) (datafile.Info, error) {
	if err := ctx.Err(); err != nil {
		return datafile.Info{}, err
	}
	if err := b.ensureOpen(); err != nil {
		return datafile.Info{}, err
	}

	var hdr header
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyHeader)
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("kvstore at %s holds no dataset header", b.path)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &hdr)
		})
	})
	if err != nil {
		return datafile.Info{}, err
	}

	dt, err := dtype.Parse(hdr.Dtype)
	if err != nil {
		return datafile.Info{}, fmt.Errorf("kvstore at %s: %w", b.path, err)
	}

	b.mu.Lock()
	b.hdr = hdr
	b.dt = dt
	b.mu.Unlock()

	return datafile.Info{
		Samples:       hdr.Samples,
		TotalChannels: hdr.Channels,
		Rate:          hdr.Rate,
	}, nil
}

// Allocate initializes an empty store: a fresh dataset identity and the
// header record. Blocks are not materialized; absent blocks read as zeros.
func (b *Backend) Allocate(ctx context.Context, samples int64, channels int, dt dtype.Type) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if samples <= 0 || channels <= 0 {
		return fmt.Errorf("invalid allocation shape (%d, %d)", samples, channels)
	}
	if err := b.ensureOpen(); err != nil {
		return err
	}

	hdr := header{
		ID:        uuid.New().String(),
		Samples:   samples,
		Channels:  channels,
		BlockSize: int64(b.cfg.BlockSize),
		Dtype:     string(dt),
	}
	raw, err := json.Marshal(&hdr)
	if err != nil {
		return fmt.Errorf("failed to encode kvstore header: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyHeader); err == nil {
			return fmt.Errorf("kvstore at %s already holds a dataset", b.path)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(keyHeader, raw)
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.hdr = hdr
	b.dt = dt
	b.mu.Unlock()
	return nil
}

// SetRate records the sampling rate in the header so later consumers can
// infer it from the store instead of the configuration.
func (b *Backend) SetRate(ctx context.Context, rate float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.ensureOpen(); err != nil {
		return err
	}

	b.mu.Lock()
	b.hdr.Rate = rate
	raw, err := json.Marshal(&b.hdr)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode kvstore header: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyHeader, raw)
	})
}

// DatasetID returns the dataset's identity, empty before allocation or
// introspection.
func (b *Backend) DatasetID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hdr.ID
}

// blockRows is the row count of block n (the last block may be short).
func (b *Backend) blockRows(n int64) int64 {
	rows := b.hdr.BlockSize
	if last := b.hdr.Samples - n*b.hdr.BlockSize; last < rows {
		rows = last
	}
	return rows
}
