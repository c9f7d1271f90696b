package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ChunkMetrics observes chunk-level I/O performed by format backends.
//
// Implementations must be safe for concurrent use; backends record from
// whatever goroutine drives the read loop.
type ChunkMetrics interface {
	// ObserveRead records one GetData call.
	ObserveRead(format string, samples int, d time.Duration, err error)

	// ObserveWrite records one SetData call.
	ObserveWrite(format string, samples int, d time.Duration, err error)
}

type noopChunks struct{}

func (noopChunks) ObserveRead(string, int, time.Duration, error)  {}
func (noopChunks) ObserveWrite(string, int, time.Duration, error) {}

type promChunks struct {
	reads         *prometheus.CounterVec
	writes        *prometheus.CounterVec
	samplesRead   *prometheus.CounterVec
	samplesWrote  *prometheus.CounterVec
	readDuration  *prometheus.HistogramVec
	writeDuration *prometheus.HistogramVec
}

var (
	chunksOnce sync.Once
	chunksInst ChunkMetrics = noopChunks{}
)

// Chunks returns the shared chunk-metrics recorder. It is a no-op unless
// InitRegistry ran before the first call.
func Chunks() ChunkMetrics {
	chunksOnce.Do(func() {
		reg := GetRegistry()
		if reg == nil {
			return
		}

		c := &promChunks{
			reads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "circus_chunks_read_total",
				Help: "Chunk reads performed by format backends",
			}, []string{"format", "status"}),
			writes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "circus_chunks_written_total",
				Help: "Chunk writes performed by format backends",
			}, []string{"format", "status"}),
			samplesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "circus_samples_read_total",
				Help: "Time samples read, summed over channels",
			}, []string{"format"}),
			samplesWrote: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "circus_samples_written_total",
				Help: "Time samples written, summed over channels",
			}, []string{"format"}),
			readDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "circus_chunk_read_duration_seconds",
				Help:    "Latency of chunk reads",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			}, []string{"format"}),
			writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "circus_chunk_write_duration_seconds",
				Help:    "Latency of chunk writes",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			}, []string{"format"}),
		}
		reg.MustRegister(c.reads, c.writes, c.samplesRead, c.samplesWrote, c.readDuration, c.writeDuration)
		chunksInst = c
	})
	return chunksInst
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *promChunks) ObserveRead(format string, samples int, d time.Duration, err error) {
	c.reads.WithLabelValues(format, status(err)).Inc()
	if err == nil {
		c.samplesRead.WithLabelValues(format).Add(float64(samples))
		c.readDuration.WithLabelValues(format).Observe(d.Seconds())
	}
}

func (c *promChunks) ObserveWrite(format string, samples int, d time.Duration, err error) {
	c.writes.WithLabelValues(format, status(err)).Inc()
	if err == nil {
		c.samplesWrote.WithLabelValues(format).Add(float64(samples))
		c.writeDuration.WithLabelValues(format).Observe(d.Seconds())
	}
}
