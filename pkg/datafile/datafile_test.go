package datafile_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McKenzieNeuro/spyking-circus/internal/dtype"
	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile"
	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile/memory"
)

// mapResolver is an in-memory datafile.Resolver keyed by "section.key". It
// counts lookups so tests can assert on caching behavior.
type mapResolver struct {
	vals  map[string]any
	calls map[string]int
}

func newMapResolver(vals map[string]any) *mapResolver {
	return &mapResolver{vals: vals, calls: make(map[string]int)}
}

func (r *mapResolver) lookup(section, key string) (any, error) {
	full := section + "." + key
	r.calls[full]++
	v, ok := r.vals[full]
	if !ok {
		return nil, fmt.Errorf("%s: %w", full, datafile.ErrParamNotFound)
	}
	return v, nil
}

func (r *mapResolver) GetInt(section, key string) (int, error) {
	v, err := r.lookup(section, key)
	if err != nil {
		return 0, err
	}
	if n, ok := v.(int); ok {
		return n, nil
	}
	return 0, &datafile.ParamTypeError{Section: section, Key: key, Want: "int", Value: v}
}

func (r *mapResolver) GetFloat(section, key string) (float64, error) {
	v, err := r.lookup(section, key)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	}
	return 0, &datafile.ParamTypeError{Section: section, Key: key, Want: "float", Value: v}
}

func (r *mapResolver) GetString(section, key string) (string, error) {
	v, err := r.lookup(section, key)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", &datafile.ParamTypeError{Section: section, Key: key, Want: "string", Value: v}
}

func (r *mapResolver) GetBool(section, key string) (bool, error) {
	v, err := r.lookup(section, key)
	if err != nil {
		return false, err
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, &datafile.ParamTypeError{Section: section, Key: key, Want: "bool", Value: v}
}

func baseVals() map[string]any {
	return map[string]any{
		"data.sampling_rate": 20000.0,
		"data.N_e":           2,
		"data.N_total":       2,
		"data.chunk_size":    32,
		"detection.N_t":      5.0,
	}
}

// rampBlock fills a block with At(t, c) = t*channels + c so reads can be
// checked positionally.
func rampBlock(samples, channels int) *datafile.Block {
	b := datafile.NewBlock(samples, channels)
	for t := 0; t < samples; t++ {
		for c := 0; c < channels; c++ {
			b.Set(t, c, float32(t*channels+c))
		}
	}
	return b
}

func populatedFile(t *testing.T, res datafile.Resolver, samples int, headerRate float64) *datafile.DataFile {
	t.Helper()

	backend := memory.NewPopulated(rampBlock(samples, 2), headerRate)
	df, err := datafile.New(context.Background(), "rec.dat", memory.Capabilities, backend, res, datafile.Options{})
	require.NoError(t, err)
	return df
}

func TestResolutionFromConfiguration(t *testing.T) {
	res := newMapResolver(baseVals())
	df := populatedFile(t, res, 100, 0)

	assert.Equal(t, 20000.0, df.Rate())
	assert.Equal(t, 2, df.ChannelCount())
	assert.Equal(t, 2, df.TotalChannelCount())

	samples, channels := df.Shape()
	assert.Equal(t, int64(100), samples)
	assert.Equal(t, 2, channels)
	assert.Equal(t, int64(100), df.MaxOffset())

	src, ok := df.ParamSource("rate")
	require.True(t, ok)
	assert.Equal(t, datafile.SourceConfig, src)
}

func TestHeaderTakesPrecedenceOverConfiguration(t *testing.T) {
	res := newMapResolver(baseVals())
	df := populatedFile(t, res, 100, 25000)

	assert.Equal(t, 25000.0, df.Rate())
	src, _ := df.ParamSource("rate")
	assert.Equal(t, datafile.SourceHeader, src)
	assert.Zero(t, res.calls["data.sampling_rate"])

	src, _ = df.ParamSource("total_channel_count")
	assert.Equal(t, datafile.SourceHeader, src)
}

func TestOverrideTakesPrecedenceOverHeader(t *testing.T) {
	rate := 30000.0
	res := newMapResolver(baseVals())
	backend := memory.NewPopulated(rampBlock(10, 2), 25000)

	df, err := datafile.New(context.Background(), "rec.dat", memory.Capabilities, backend, res, datafile.Options{
		Overrides: datafile.Overrides{Rate: &rate},
	})
	require.NoError(t, err)

	assert.Equal(t, 30000.0, df.Rate())
	src, _ := df.ParamSource("rate")
	assert.Equal(t, datafile.SourceOverride, src)
}

func TestMandatoryParamMustResolve(t *testing.T) {
	vals := baseVals()
	delete(vals, "data.N_e")
	backend := memory.NewPopulated(rampBlock(10, 2), 0)

	_, err := datafile.New(context.Background(), "rec.dat", memory.Capabilities, backend, newMapResolver(vals), datafile.Options{})
	require.Error(t, err)

	var confErr *datafile.ConfigurationError
	require.True(t, errors.As(err, &confErr))
	assert.Contains(t, err.Error(), "N_e must be specified as type int in the [data] section (mandatory)")
}

func TestEmptyRequiresWritableFormat(t *testing.T) {
	caps := memory.Capabilities
	caps.Writable = false

	_, err := datafile.New(context.Background(), "rec.dat", caps, memory.NewBackend(), newMapResolver(baseVals()), datafile.Options{IsEmpty: true})
	require.Error(t, err)

	var confErr *datafile.ConfigurationError
	require.True(t, errors.As(err, &confErr))
	assert.Contains(t, err.Error(), "not writable")
}

func TestExtensionValidation(t *testing.T) {
	caps := memory.Capabilities
	caps.Extensions = []string{".dat"}
	backend := memory.NewPopulated(rampBlock(10, 2), 0)

	_, err := datafile.New(context.Background(), "rec.foo", caps, backend, newMapResolver(baseVals()), datafile.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `extension ".foo" is not valid`)
}

func TestWindowLengthOddAndCached(t *testing.T) {
	res := newMapResolver(baseVals())
	df := populatedFile(t, res, 100, 0)

	// 20000 Hz * 5 ms = 100 samples, forced odd.
	n, err := df.WindowLength()
	require.NoError(t, err)
	assert.Equal(t, 101, n)

	dist, err := df.DistPeaks()
	require.NoError(t, err)
	assert.Equal(t, 101, dist)

	shift, err := df.WindowShift()
	require.NoError(t, err)
	assert.Equal(t, 50, shift)

	_, err = df.WindowLength()
	require.NoError(t, err)
	assert.Equal(t, 1, res.calls["detection.N_t"])
}

func TestWindowDurationFallsBackToDataSection(t *testing.T) {
	vals := baseVals()
	delete(vals, "detection.N_t")
	vals["data.N_t"] = 2.0
	df := populatedFile(t, newMapResolver(vals), 100, 0)

	n, err := df.WindowLength()
	require.NoError(t, err)
	assert.Equal(t, 41, n)
}

func TestWindowShiftOverride(t *testing.T) {
	shift := 7
	vals := baseVals()
	delete(vals, "detection.N_t")
	backend := memory.NewPopulated(rampBlock(10, 2), 0)

	df, err := datafile.New(context.Background(), "rec.dat", memory.Capabilities, backend, newMapResolver(vals), datafile.Options{
		Overrides: datafile.Overrides{WindowShift: &shift},
	})
	require.NoError(t, err)

	got, err := df.WindowShift()
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestSafetyTime(t *testing.T) {
	vals := baseVals()
	vals["whitening.safety_time"] = "auto"
	vals["clustering.safety_time"] = "3.5"
	vals["fitting.safety_time"] = "soon"
	df := populatedFile(t, newMapResolver(vals), 100, 0)

	// auto is one third of the 5 ms window, floored.
	ms, err := df.SafetyTime("whitening")
	require.NoError(t, err)
	assert.Equal(t, 1.0, ms)

	ms, err = df.SafetyTime("clustering")
	require.NoError(t, err)
	assert.Equal(t, 3.5, ms)

	_, err = df.SafetyTime("fitting")
	require.Error(t, err)
	var confErr *datafile.ConfigurationError
	assert.True(t, errors.As(err, &confErr))
}

func TestAnalyze(t *testing.T) {
	df := populatedFile(t, newMapResolver(baseVals()), 1000, 0)

	nb, last, err := df.Analyze(300)
	require.NoError(t, err)
	assert.Equal(t, int64(4), nb)
	assert.Equal(t, int64(100), last)

	nb, last, err = df.Analyze(250)
	require.NoError(t, err)
	assert.Equal(t, int64(4), nb)
	assert.Equal(t, int64(0), last)

	// Zero falls back to the configured chunk size of 32.
	nb, last, err = df.Analyze(0)
	require.NoError(t, err)
	assert.Equal(t, int64(32), nb)
	assert.Equal(t, int64(8), last)
}

func TestGetDataBounds(t *testing.T) {
	ctx := context.Background()
	df := populatedFile(t, newMapResolver(baseVals()), 100, 0)

	_, err := df.GetData(ctx, -1, 10, datafile.Padding{}, nil)
	require.Error(t, err)

	_, err = df.GetData(ctx, 10, 10, datafile.Padding{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")

	_, err = df.GetData(ctx, 0, 10, datafile.Padding{Before: 20}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empties")
}

func TestTrailingPartialChunk(t *testing.T) {
	ctx := context.Background()
	df := populatedFile(t, newMapResolver(baseVals()), 95, 0)

	nb, last, err := df.Analyze(10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), nb)
	assert.Equal(t, int64(5), last)

	// The last chunk is short; reading it at the full size must fail rather
	// than hand back fabricated zeros.
	_, err = df.GetData(ctx, nb-1, 10, datafile.Padding{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spans [90, 100), outside [0, 95)")

	samples, _ := df.Shape()
	tail, err := df.GetSnippet(ctx, samples-last, last, nil)
	require.NoError(t, err)
	require.Equal(t, 5, tail.Samples())
	assert.Equal(t, []float32{180, 181}, tail.Row(0))
	assert.Equal(t, []float32{188, 189}, tail.Row(4))
}

func TestGetDataZeroFillsClampedPadding(t *testing.T) {
	df := populatedFile(t, newMapResolver(baseVals()), 100, 0)

	block, err := df.GetData(context.Background(), 0, 10, datafile.Padding{Before: -3}, nil)
	require.NoError(t, err)
	require.Equal(t, 13, block.Samples())

	for tt := 0; tt < 3; tt++ {
		assert.Equal(t, []float32{0, 0}, block.Row(tt))
	}
	assert.Equal(t, []float32{0, 1}, block.Row(3))
	assert.Equal(t, []float32{18, 19}, block.Row(12))
}

func TestGetDataChannelSelection(t *testing.T) {
	df := populatedFile(t, newMapResolver(baseVals()), 100, 0)

	block, err := df.GetData(context.Background(), 1, 4, datafile.Padding{}, []int{1})
	require.NoError(t, err)
	assert.Equal(t, 1, block.Channels())
	assert.Equal(t, []float32{9}, block.Row(0))
}

func TestSnippetDecomposition(t *testing.T) {
	ctx := context.Background()
	df := populatedFile(t, newMapResolver(baseVals()), 100, 0)

	snippet, err := df.GetSnippet(ctx, 10, 5, nil)
	require.NoError(t, err)
	require.Equal(t, 5, snippet.Samples())

	direct, err := df.GetData(ctx, 0, 5, datafile.Padding{Before: 10, After: 10}, nil)
	require.NoError(t, err)
	assert.Equal(t, direct.Raw(), snippet.Raw())

	assert.Equal(t, []float32{20, 21}, snippet.Row(0))
	assert.Equal(t, []float32{28, 29}, snippet.Row(4))
}

func TestSetDataOnReadOnlyFormat(t *testing.T) {
	caps := memory.Capabilities
	caps.Writable = false
	backend := memory.NewPopulated(rampBlock(10, 2), 0)

	df, err := datafile.New(context.Background(), "rec.dat", caps, backend, newMapResolver(baseVals()), datafile.Options{})
	require.NoError(t, err)

	err = df.SetData(context.Background(), 0, datafile.NewBlock(1, 2))
	var nwErr *datafile.NotWritableError
	require.True(t, errors.As(err, &nwErr))
}

func TestAllocateWriteRead(t *testing.T) {
	ctx := context.Background()
	df, err := datafile.New(ctx, "synthetic", memory.Capabilities, memory.NewBackend(), newMapResolver(baseVals()), datafile.Options{IsEmpty: true})
	require.NoError(t, err)

	assert.True(t, df.IsEmpty())
	_, err = df.GetData(ctx, 0, 10, datafile.Padding{}, nil)
	require.Error(t, err)

	require.NoError(t, df.Allocate(ctx, 50, 2, dtype.Float32))
	samples, channels := df.Shape()
	assert.Equal(t, int64(50), samples)
	assert.Equal(t, 2, channels)

	err = df.SetData(ctx, 0, datafile.NewBlock(50, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channels")

	require.NoError(t, df.SetData(ctx, 0, rampBlock(50, 2)))
	assert.False(t, df.IsEmpty())

	block, err := df.GetData(ctx, 1, 10, datafile.Padding{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{20, 21}, block.Row(0))

	require.NoError(t, df.Close())
}
