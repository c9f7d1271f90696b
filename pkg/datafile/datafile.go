// Package datafile is the uniform access layer for large multichannel
// time-series recordings stored in heterogeneous on-disk formats.
//
// A DataFile binds one physical dataset to a format backend and a
// configuration resolver. Construction validates the binding (extension,
// writability, required parameters), after which pipeline stages drive
// chunk-indexed reads and writes:
//
//	df, err := reg.Open(ctx, "recording.dat", "", params, datafile.Options{})
//	...
//	nb, last, err := df.Analyze(0)
//	for idx := int64(0); idx < nb; idx++ {
//		block, err := df.GetData(ctx, idx, 0, datafile.Padding{}, nil)
//		...
//	}
//
// The three core acquisition parameters (sampling rate, analyzed channel
// count, total channel count) are resolved once, at construction, with a
// fixed precedence: explicit override, then the file's own header, then the
// configuration resolver. There is no default for any of them; a parameter
// that resolves nowhere is a ConfigurationError.
package datafile

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"

	"github.com/McKenzieNeuro/spyking-circus/internal/dtype"
	"github.com/McKenzieNeuro/spyking-circus/pkg/rank"
)

// Configuration sections and keys consumed by the core.
const (
	SectionData      = "data"
	SectionDetection = "detection"

	keyRate          = "sampling_rate"
	keyChannels      = "N_e"
	keyTotalChannels = "N_total"
	keyChunkSize     = "chunk_size"
	keyWindowMS      = "N_t"
	keySafetyTime    = "safety_time"
)

// Source records where a resolved parameter came from, for diagnostics.
type Source int

const (
	// SourceConfig means the value was read from the configuration
	// resolver.
	SourceConfig Source = iota

	// SourceHeader means the value was inferred from the data file's own
	// header during introspection.
	SourceHeader

	// SourceOverride means the value was supplied explicitly at
	// construction (e.g. from a prior header read).
	SourceOverride
)

func (s Source) String() string {
	switch s {
	case SourceHeader:
		return "data file"
	case SourceOverride:
		return "override"
	default:
		return "configuration"
	}
}

// Overrides carries pre-known parameter values into construction. Any nil
// field falls through to header and configuration resolution. Unknown
// parameters cannot be injected: the set of overridable values is exactly
// this struct.
type Overrides struct {
	Rate              *float64
	ChannelCount      *int
	TotalChannelCount *int

	// WindowShift replaces the derived (window_length-1)/2 value.
	WindowShift *int
}

// Options configures DataFile construction.
type Options struct {
	// IsEmpty declares that the underlying storage holds no data yet.
	// Permitted only for writable formats; introspection is skipped and
	// the shape stays zero until Allocate/SetData populate it.
	IsEmpty bool

	// Overrides are pre-known parameter values taking precedence over both
	// header and configuration.
	Overrides Overrides

	// FieldOverrides carries pre-known values for format-declared required
	// fields, keyed by field name. Keys the format never declared are
	// rejected during construction.
	FieldOverrides map[string]any

	// Logger receives resolution diagnostics. Nil uses the process-wide
	// logger.
	Logger Logger

	// Rank gates diagnostics to the designated rank-0 process. Nil is
	// treated as rank 0 (single-process run).
	Rank rank.Oracle
}

// DataFile is one validated handle on a physical dataset, constructed once
// per logical file per process. Concurrent GetData calls are safe once the
// derived window values have been computed; SetData, Allocate and the first
// WindowLength/WindowShift call require external coordination.
type DataFile struct {
	fileName string
	caps     Capabilities
	backend  Backend
	params   Resolver
	isEmpty  bool

	log  Logger
	rank rank.Oracle

	rate              float64
	channelCount      int
	totalChannelCount int
	sources           map[string]Source

	samples   int64
	channels  int
	maxOffset int64

	// Lazily computed, cached after first resolution.
	windowLength    int
	windowLengthSet bool
	windowShift     int
	windowShiftSet  bool
}

// New validates the binding of a path to a format backend and resolves the
// required parameters.
//
// Failure modes (all *ConfigurationError):
//   - the format is not writable but IsEmpty is set
//   - the file extension is not in the format's allowed set
//   - rate, channel count or total channel count resolve neither from an
//     override, the header, nor the configuration
//
// For non-empty files the backend header is introspected exactly once here
// to populate shape and max offset and to surface header-carried parameters.
func New(ctx context.Context, path string, caps Capabilities, backend Backend, res Resolver, opts Options) (*DataFile, error) {
	df := &DataFile{
		fileName: path,
		caps:     caps,
		backend:  backend,
		params:   res,
		isEmpty:  opts.IsEmpty,
		log:      opts.Logger,
		rank:     opts.Rank,
		sources:  make(map[string]Source),
	}
	if df.log == nil {
		df.log = defaultLogger{}
	}

	if opts.IsEmpty && !caps.Writable {
		return nil, &ConfigurationError{
			Path:   path,
			Reason: fmt.Sprintf("file is empty and format %q is not writable", caps.Description),
		}
	}

	ext := filepath.Ext(path)
	if !caps.AllowsExtension(ext) {
		return nil, &ConfigurationError{
			Path:   path,
			Reason: fmt.Sprintf("extension %q is not valid for a %s file", ext, caps.Description),
		}
	}

	var info Info
	if !opts.IsEmpty {
		var err error
		info, err = backend.Introspect(ctx)
		if err != nil {
			return nil, &BackendIOError{Op: "introspect", Path: path, Err: err}
		}
		df.samples = info.Samples
		df.channels = info.TotalChannels
		df.maxOffset = info.MaxOffset
		if df.maxOffset == 0 {
			df.maxOffset = info.Samples
		}
	}

	if err := df.resolveCoreParams(info, opts.Overrides); err != nil {
		return nil, err
	}

	// Header channel count was unknown; the resolved total fills it in.
	if df.channels == 0 {
		df.channels = df.totalChannelCount
	}

	if opts.Overrides.WindowShift != nil {
		df.windowShift = *opts.Overrides.WindowShift
		df.windowShiftSet = true
	}

	if df.isMaster() {
		df.log.Debug("data file %s bound to format %s", path, caps.Description)
	}

	return df, nil
}

// resolveCoreParams settles rate, channel count and total channel count with
// the documented precedence and records each value's source.
func (df *DataFile) resolveCoreParams(info Info, ov Overrides) error {
	// rate
	switch {
	case ov.Rate != nil:
		df.rate, df.sources["rate"] = *ov.Rate, SourceOverride
	case info.Rate > 0:
		df.rate, df.sources["rate"] = info.Rate, SourceHeader
	default:
		v, err := df.params.GetFloat(SectionData, keyRate)
		if err != nil {
			return df.resolutionError(keyRate, FloatField, err)
		}
		df.rate, df.sources["rate"] = v, SourceConfig
	}

	// channel count (N_e): never carried by headers, only override/config.
	if ov.ChannelCount != nil {
		df.channelCount, df.sources["channel_count"] = *ov.ChannelCount, SourceOverride
	} else {
		v, err := df.params.GetInt(SectionData, keyChannels)
		if err != nil {
			return df.resolutionError(keyChannels, IntField, err)
		}
		df.channelCount, df.sources["channel_count"] = v, SourceConfig
	}

	// total channel count (N_total)
	switch {
	case ov.TotalChannelCount != nil:
		df.totalChannelCount, df.sources["total_channel_count"] = *ov.TotalChannelCount, SourceOverride
	case info.TotalChannels > 0:
		df.totalChannelCount, df.sources["total_channel_count"] = info.TotalChannels, SourceHeader
	default:
		v, err := df.params.GetInt(SectionData, keyTotalChannels)
		if err != nil {
			return df.resolutionError(keyTotalChannels, IntField, err)
		}
		df.totalChannelCount, df.sources["total_channel_count"] = v, SourceConfig
	}

	if df.isMaster() {
		df.log.Debug("rate: %v (from %s)", df.rate, df.sources["rate"])
		df.log.Debug("channel count: %d (from %s)", df.channelCount, df.sources["channel_count"])
		df.log.Debug("total channel count: %d (from %s)", df.totalChannelCount, df.sources["total_channel_count"])
	}

	return nil
}

func (df *DataFile) resolutionError(key string, want FieldType, err error) error {
	return &ConfigurationError{
		Path:    df.fileName,
		Section: SectionData,
		Key:     key,
		Want:    string(want),
		Err:     err,
	}
}

func (df *DataFile) isMaster() bool { return rank.IsMaster(df.rank) }

// FileName returns the path the handle is bound to.
func (df *DataFile) FileName() string { return df.fileName }

// IsEmpty reports whether the handle was constructed over empty storage.
func (df *DataFile) IsEmpty() bool { return df.isEmpty }

// Capabilities returns the format's static capability record.
func (df *DataFile) Capabilities() Capabilities { return df.caps }

// Writable reports the format's writable capability flag.
func (df *DataFile) Writable() bool { return df.caps.Writable }

// ParallelWritable reports whether concurrent writers on disjoint time
// ranges are safe for this format.
func (df *DataFile) ParallelWritable() bool { return df.caps.ParallelWritable }

// Shape returns (total time samples, total channels). Both are zero for an
// empty file before allocation.
func (df *DataFile) Shape() (int64, int) { return df.samples, df.channels }

// MaxOffset is the usable upper read bound in samples. It can be smaller
// than Shape's first element for formats with trailing metadata.
func (df *DataFile) MaxOffset() int64 { return df.maxOffset }

// Rate returns the sampling rate in Hz.
func (df *DataFile) Rate() float64 { return df.rate }

// ChannelCount returns the number of analyzed channels (N_e).
func (df *DataFile) ChannelCount() int { return df.channelCount }

// TotalChannelCount returns the number of recorded channels (N_total).
func (df *DataFile) TotalChannelCount() int { return df.totalChannelCount }

// ParamSource reports where a core parameter came from; name is one of
// "rate", "channel_count", "total_channel_count".
func (df *DataFile) ParamSource(name string) (Source, bool) {
	s, ok := df.sources[name]
	return s, ok
}

// windowDurationMS reads the detection window duration in milliseconds,
// preferring the detection-scoped key over the data-scoped one.
func (df *DataFile) windowDurationMS() (float64, error) {
	ms, err := df.params.GetFloat(SectionDetection, keyWindowMS)
	if err == nil {
		return ms, nil
	}
	ms, err = df.params.GetFloat(SectionData, keyWindowMS)
	if err != nil {
		return 0, &ConfigurationError{
			Path:    df.fileName,
			Section: SectionDetection,
			Key:     keyWindowMS,
			Want:    string(FloatField),
			Err:     err,
		}
	}
	return ms, nil
}

// WindowLength returns the detection window length in samples: the
// configured millisecond duration converted at the sampling rate and forced
// to odd parity. The value is computed once and cached; later calls do not
// touch the resolver.
func (df *DataFile) WindowLength() (int, error) {
	if df.windowLengthSet {
		return df.windowLength, nil
	}

	ms, err := df.windowDurationMS()
	if err != nil {
		return 0, err
	}

	n := int(math.Round(df.rate * ms / 1000.0))
	if n%2 == 0 {
		n++
	}

	df.windowLength = n
	df.windowLengthSet = true
	return n, nil
}

// DistPeaks is the minimum sample distance between detected peaks, which is
// defined as the window length.
func (df *DataFile) DistPeaks() (int, error) { return df.WindowLength() }

// WindowShift returns (window_length-1)/2, unless an explicit override was
// supplied at construction. Cached independently of WindowLength.
func (df *DataFile) WindowShift() (int, error) {
	if df.windowShiftSet {
		return df.windowShift, nil
	}

	n, err := df.WindowLength()
	if err != nil {
		return 0, err
	}

	df.windowShift = (n - 1) / 2
	df.windowShiftSet = true
	return df.windowShift, nil
}

// SafetyTime evaluates the guard interval, in milliseconds, configured under
// the given section. The literal "auto" means one third of the detection
// window duration; anything else must parse as a float. Not cached: the
// section varies per pipeline stage.
func (df *DataFile) SafetyTime(section string) (float64, error) {
	raw, err := df.params.GetString(section, keySafetyTime)
	if err != nil {
		return 0, &ConfigurationError{
			Path:    df.fileName,
			Section: section,
			Key:     keySafetyTime,
			Want:    string(StringField),
			Err:     err,
		}
	}

	if raw == "auto" {
		ms, err := df.windowDurationMS()
		if err != nil {
			return 0, err
		}
		return math.Floor(ms / 3.0), nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ConfigurationError{
			Path:    df.fileName,
			Section: section,
			Key:     keySafetyTime,
			Want:    string(FloatField),
			Err:     &ParamTypeError{Section: section, Key: keySafetyTime, Want: string(FloatField), Value: raw},
		}
	}
	return v, nil
}

// defaultChunkSize substitutes the configured chunk size when the caller
// passes a non-positive one.
func (df *DataFile) defaultChunkSize(chunkSize int64) (int64, error) {
	if chunkSize > 0 {
		return chunkSize, nil
	}
	v, err := df.params.GetInt(SectionData, keyChunkSize)
	if err != nil {
		return 0, &ConfigurationError{
			Path:    df.fileName,
			Section: SectionData,
			Key:     keyChunkSize,
			Want:    string(IntField),
			Err:     err,
		}
	}
	if v <= 0 {
		return 0, &ConfigurationError{
			Path:    df.fileName,
			Reason:  fmt.Sprintf("configured chunk size %d is not positive", v),
			Section: SectionData,
		}
	}
	return int64(v), nil
}

// Analyze computes the chunk plan covering the time axis: the number of
// chunks of the given size needed to cover every sample (a trailing partial
// chunk counts), and the length of that partial chunk (0 when the last chunk
// is full). A non-positive chunkSize uses the configured default.
//
// Analyze is a pure function of the shape and chunk size; calling it
// repeatedly returns identical results. Chunks 0..nbChunks-2 are read with
// GetData at the full chunk size; when lastChunkLen is non-zero the final
// chunk is read with GetSnippet (see GetData's range contract).
func (df *DataFile) Analyze(chunkSize int64) (nbChunks int64, lastChunkLen int64, err error) {
	chunkSize, err = df.defaultChunkSize(chunkSize)
	if err != nil {
		return 0, 0, err
	}

	nbChunks = df.samples / chunkSize
	lastChunkLen = df.samples - nbChunks*chunkSize
	if lastChunkLen > 0 {
		nbChunks++
	}
	return nbChunks, lastChunkLen, nil
}

// GetData reads one chunk. A non-positive chunkSize uses the configured
// default; pad shifts the nominal boundaries (see Padding); nodes selects a
// channel subset returned in the given order, nil meaning all channels.
//
// The nominal (unpadded) range must lie entirely within [0, MaxOffset());
// only padding may reach past either boundary, where it is clamped and
// zero-filled. The trailing partial chunk reported by Analyze therefore
// cannot be read at the full chunk size: read its lastChunkLen samples with
// GetSnippet starting at Shape()[0]-lastChunkLen, so a short read is always
// explicit and zero rows in a returned block are real samples.
func (df *DataFile) GetData(ctx context.Context, idx int64, chunkSize int64, pad Padding, nodes []int) (*Block, error) {
	if df.isEmpty {
		return nil, &BackendIOError{Op: "read", Path: df.fileName, Err: fmt.Errorf("file is empty")}
	}

	chunkSize, err := df.defaultChunkSize(chunkSize)
	if err != nil {
		return nil, err
	}

	start := idx * chunkSize
	if idx < 0 || start+chunkSize > df.maxOffset {
		return nil, &BackendIOError{Op: "read", Path: df.fileName,
			Err: fmt.Errorf("chunk %d of size %d spans [%d, %d), outside [0, %d)",
				idx, chunkSize, start, start+chunkSize, df.maxOffset)}
	}
	if chunkSize+pad.After-pad.Before <= 0 {
		return nil, &BackendIOError{Op: "read", Path: df.fileName,
			Err: fmt.Errorf("padding (%d, %d) empties a chunk of size %d", pad.Before, pad.After, chunkSize)}
	}

	block, err := df.backend.GetData(ctx, idx, chunkSize, pad, nodes)
	if err != nil {
		return nil, wrapBackendErr("read", df.fileName, err)
	}
	return block, nil
}

// GetSnippet reads length samples starting at the absolute sample offset
// time. It is sugar over GetData: chunk 0 of size length with both
// boundaries shifted by time. Any backend with a correct GetData therefore
// supports snippet reads for free.
func (df *DataFile) GetSnippet(ctx context.Context, time int64, length int64, nodes []int) (*Block, error) {
	return df.GetData(ctx, 0, length, Padding{Before: time, After: time}, nodes)
}

// SetData writes a block spanning every recorded channel at the absolute
// sample offset t. Fails with *NotWritableError when the format is
// read-only.
func (df *DataFile) SetData(ctx context.Context, t int64, block *Block) error {
	if !df.caps.Writable {
		return &NotWritableError{Format: df.caps.Description, Path: df.fileName}
	}
	if block.Channels() != df.totalChannelCount {
		return fmt.Errorf("%s: block spans %d channels, recording has %d",
			df.fileName, block.Channels(), df.totalChannelCount)
	}

	if err := df.backend.SetData(ctx, t, block); err != nil {
		return wrapBackendErr("write", df.fileName, err)
	}

	// Writes may extend an allocated-but-empty file.
	if end := t + int64(block.Samples()); end > df.samples {
		df.samples = end
		df.maxOffset = end
	}
	df.isEmpty = false
	return nil
}

// Allocate sizes the backing storage of an empty, writable file. The handle
// stays empty until data is written; shape and max offset reflect the
// allocated geometry immediately so chunk plans can be computed up front.
func (df *DataFile) Allocate(ctx context.Context, samples int64, channels int, dt dtype.Type) error {
	if !df.caps.Writable {
		return &NotWritableError{Format: df.caps.Description, Path: df.fileName}
	}
	if !df.isEmpty {
		return fmt.Errorf("%s: allocate on a non-empty file", df.fileName)
	}

	if err := df.backend.Allocate(ctx, samples, channels, dt); err != nil {
		return wrapBackendErr("allocate", df.fileName, err)
	}

	df.samples = samples
	df.channels = channels
	df.maxOffset = samples
	return nil
}

// Open prepares the underlying storage. ModeWrite requires a writable
// format.
func (df *DataFile) Open(ctx context.Context, mode Mode) error {
	if mode == ModeWrite && !df.caps.Writable {
		return &NotWritableError{Format: df.caps.Description, Path: df.fileName}
	}
	if err := df.backend.Open(ctx, mode); err != nil {
		return wrapBackendErr("open", df.fileName, err)
	}
	return nil
}

// Close releases the backend's OS resources. The owning pipeline stage must
// call it explicitly.
func (df *DataFile) Close() error {
	if err := df.backend.Close(); err != nil {
		return wrapBackendErr("close", df.fileName, err)
	}
	return nil
}

// wrapBackendErr keeps already-typed errors intact and wraps everything else
// as a BackendIOError.
func wrapBackendErr(op, path string, err error) error {
	switch err.(type) {
	case *ConfigurationError, *NotWritableError, *BackendIOError:
		return err
	}
	return &BackendIOError{Op: op, Path: path, Err: err}
}
