// Package s3raw implements read-only access to raw binary recordings stored
// in S3-compatible object storage.
//
// The on-object layout is identical to the rawbinary format; chunk reads
// translate to byte-range GetObject requests so workers never download the
// whole recording. Paths name the object as "bucket/key" (an s3:// prefix is
// accepted), so extension checking is disabled and the format must be
// selected by name.
//
// Objects are immutable recordings: the format is not writable, and
// pipelines that need to produce output alongside an S3 input pair this
// backend with a writable local format.
package s3raw

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/McKenzieNeuro/spyking-circus/internal/dtype"
	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile"
	"github.com/McKenzieNeuro/spyking-circus/pkg/metrics"
)

// Capabilities is the static capability record for the s3_raw_binary
// format.
var Capabilities = datafile.Capabilities{
	Description:      "s3_raw_binary",
	Extensions:       nil, // paths are bucket/key, not filenames
	Writable:         false,
	ParallelWritable: false,
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

// Format returns the registry entry for the s3_raw_binary format, bound to
// a pre-built S3 client.
func Format(client *s3.Client) datafile.Format {
	return datafile.Format{
		Name: "s3_raw_binary",
		Caps: Capabilities,
		New: func(ctx context.Context, path string, fields map[string]any) (datafile.Backend, error) {
			var cfg Config
			if err := mapstructure.Decode(fields, &cfg); err != nil {
				return nil, fmt.Errorf("failed to decode s3_raw_binary fields: %w", err)
			}
			return NewBackend(client, path, cfg)
		},
	}
}

// Backend reads one raw binary object.
type Backend struct {
	client *s3.Client
	bucket string
	key    string
	cfg    Config
	dt     dtype.Type
	gain   float32

	samples int64
}

// NewBackend validates the configuration and binds a backend to a
// bucket/key path.
func NewBackend(client *s3.Client, path string, cfg Config) (*Backend, error) {
	bucket, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	dt, err := dtype.Parse(cfg.DataDtype)
	if err != nil {
		return nil, fmt.Errorf("s3_raw_binary %s: %w", path, err)
	}
	if cfg.NbChannels <= 0 {
		return nil, fmt.Errorf("s3_raw_binary %s: nb_channels must be positive, got %d", path, cfg.NbChannels)
	}
	if cfg.Gain == 0 {
		cfg.Gain = 1
	}

	return &Backend{
		client: client,
		bucket: bucket,
		key:    key,
		cfg:    cfg,
		dt:     dt,
		gain:   float32(cfg.Gain),
	}, nil
}

func splitPath(path string) (bucket, key string, err error) {
	path = strings.TrimPrefix(path, "s3://")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("s3_raw_binary: path %q is not of the form bucket/key", path)
	}
	return parts[0], parts[1], nil
}

func (b *Backend) rowBytes() int64 {
	return int64(b.cfg.NbChannels) * int64(b.dt.Size())
}

// Introspect derives the sample count from the object size via a HEAD
// request.
func (b *Backend) Introspect(ctx context.Context) (datafile.Info, error) {
	if err := ctx.Err(); err != nil {
		return datafile.Info{}, err
	}

	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		return datafile.Info{}, fmt.Errorf("failed to head s3://%s/%s: %w", b.bucket, b.key, err)
	}
	if result.ContentLength == nil {
		return datafile.Info{}, fmt.Errorf("content length not available for s3://%s/%s", b.bucket, b.key)
	}

	payload := *result.ContentLength - int64(b.cfg.DataOffset)
	if payload < 0 {
		return datafile.Info{}, fmt.Errorf("s3://%s/%s is smaller than its declared data offset %d", b.bucket, b.key, b.cfg.DataOffset)
	}

	b.samples = payload / b.rowBytes()
	return datafile.Info{
		Samples:       b.samples,
		TotalChannels: b.cfg.NbChannels,
	}, nil
}

// Open validates the mode; there is no connection state to establish.
func (b *Backend) Open(ctx context.Context, mode datafile.Mode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mode == datafile.ModeWrite {
		return &datafile.NotWritableError{Format: Capabilities.Description, Path: b.bucket + "/" + b.key}
	}
	return nil
}

func (b *Backend) Close() error { return nil }

// GetData reads a padded chunk with one byte-range request.
func (b *Backend) GetData(ctx context.Context, idx int64, chunkSize int64, pad datafile.Padding, nodes []int) (block *datafile.Block, err error) {
	start := time.Now()
	defer func() {
		rows := 0
		if block != nil {
			rows = block.Samples()
		}
		metrics.Chunks().ObserveRead(Capabilities.Description, rows, time.Since(start), err)
	}()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	plan, err := datafile.PlanRead(idx, chunkSize, pad, b.samples)
	if err != nil {
		return nil, err
	}

	block = datafile.NewBlock(int(plan.Rows), b.cfg.NbChannels)
	readRows := plan.End - plan.Start
	if readRows > 0 {
		off := int64(b.cfg.DataOffset) + plan.Start*b.rowBytes()
		// S3 ranges are inclusive on both ends.
		rangeStr := fmt.Sprintf("bytes=%d-%d", off, off+readRows*b.rowBytes()-1)

		result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key),
			Range:  aws.String(rangeStr),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read s3://%s/%s range %s: %w", b.bucket, b.key, rangeStr, err)
		}
		defer func() { _ = result.Body.Close() }()

		buf := make([]byte, readRows*b.rowBytes())
		if _, err := io.ReadFull(result.Body, buf); err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read s3://%s/%s body: %w", b.bucket, b.key, err)
		}

		dst := block.Raw()[plan.DstOffset*int64(b.cfg.NbChannels) : (plan.DstOffset+readRows)*int64(b.cfg.NbChannels)]
		if err := b.dt.Decode(dst, buf); err != nil {
			return nil, err
		}
		if b.gain != 1 {
			for i := range dst {
				dst[i] *= b.gain
			}
		}
	}

	if nodes != nil {
		return block.SelectChannels(nodes)
	}
	return block, nil
}

// SetData always fails: the format is read-only.
func (b *Backend) SetData(ctx context.Context, t int64, block *datafile.Block) error {
	return &datafile.NotWritableError{Format: Capabilities.Description, Path: b.bucket + "/" + b.key}
}

// Allocate always fails: the format is read-only.
func (b *Backend) Allocate(ctx context.Context, samples int64, channels int, dt dtype.Type) error {
	return &datafile.NotWritableError{Format: Capabilities.Description, Path: b.bucket + "/" + b.key}
}
