package metrics

import (
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, pair := range m.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return -1
}

// The registry and the chunk recorder are write-once process globals, so the
// enabled path is exercised in a single test.
func TestChunkMetrics(t *testing.T) {
	InitRegistry()
	require.True(t, IsEnabled())
	require.NotNil(t, GetRegistry())

	// Idempotent.
	InitRegistry()

	m := Chunks()
	require.NotNil(t, m)

	m.ObserveRead("raw_binary", 128, time.Millisecond, nil)
	m.ObserveRead("raw_binary", 0, time.Millisecond, errors.New("boom"))
	m.ObserveWrite("kvstore", 64, time.Millisecond, nil)

	families, err := GetRegistry().Gather()
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(families, "circus_chunks_read_total",
		map[string]string{"format": "raw_binary", "status": "ok"}))
	assert.Equal(t, 1.0, counterValue(families, "circus_chunks_read_total",
		map[string]string{"format": "raw_binary", "status": "error"}))
	assert.Equal(t, 128.0, counterValue(families, "circus_samples_read_total",
		map[string]string{"format": "raw_binary"}))
	assert.Equal(t, 64.0, counterValue(families, "circus_samples_written_total",
		map[string]string{"format": "kvstore"}))
}
