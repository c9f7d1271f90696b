// tsinfo inspects a recording through the datafile layer: it resolves the
// acquisition parameters, prints the chunk plan, and optionally scans the
// recording for per-channel statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/McKenzieNeuro/spyking-circus/internal/logger"
	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile"
	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile/kvstore"
	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile/rawbinary"
	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile/s3raw"
	"github.com/McKenzieNeuro/spyking-circus/pkg/params"
	"github.com/McKenzieNeuro/spyking-circus/pkg/rank"
)

type channelStats struct {
	min, max float32
	sum      float64
	count    int64
}

func main() {
	paramsPath := flag.String("params", "", "Path to the parameter file")
	filePath := flag.String("file", "", "Path to the recording (bucket/key for S3)")
	format := flag.String("format", "", "File format name (empty sniffs by extension)")
	chunkSize := flag.Int64("chunk-size", 0, "Chunk size in samples (0 uses the configured default)")
	scan := flag.Bool("scan", false, "Scan the recording and report per-channel min/max/mean")
	s3Region := flag.String("s3-region", "", "AWS region; enables the s3_raw_binary format")
	s3Endpoint := flag.String("s3-endpoint", "", "Custom S3 endpoint (MinIO, lab object store)")
	logLevel := flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	logger.SetLevel(*logLevel)

	if *paramsPath == "" || *filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: tsinfo -params <file.params> -file <recording> [-format name] [-scan]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx := context.Background()

	res, err := params.Load(*paramsPath)
	if err != nil {
		logger.Error("Failed to load parameter file: %v", err)
		os.Exit(1)
	}

	reg := datafile.NewRegistry()
	for _, f := range []datafile.Format{rawbinary.Format(), kvstore.Format()} {
		if err := reg.Register(f); err != nil {
			logger.Error("Failed to register format: %v", err)
			os.Exit(1)
		}
	}
	if *s3Region != "" {
		client, err := s3raw.NewClient(ctx, s3raw.ClientConfig{
			Region:   *s3Region,
			Endpoint: *s3Endpoint,
		})
		if err != nil {
			logger.Error("Failed to build S3 client: %v", err)
			os.Exit(1)
		}
		if err := reg.Register(s3raw.Format(client)); err != nil {
			logger.Error("Failed to register format: %v", err)
			os.Exit(1)
		}
	}

	df, err := reg.Open(ctx, *filePath, *format, res, datafile.Options{Rank: rank.FromEnv()})
	if err != nil {
		var confErr *datafile.ConfigurationError
		if errors.As(err, &confErr) {
			logger.Error("Configuration problem: %v", err)
		} else {
			logger.Error("Failed to open %s: %v", *filePath, err)
		}
		os.Exit(1)
	}
	defer func() { _ = df.Close() }()

	if err := df.Open(ctx, datafile.ModeRead); err != nil {
		logger.Error("Failed to open %s for reading: %v", *filePath, err)
		os.Exit(1)
	}

	printSummary(df, *chunkSize)

	if *scan {
		if err := scanRecording(ctx, df, *chunkSize); err != nil {
			logger.Error("Scan failed: %v", err)
			os.Exit(1)
		}
	}
}

func printSummary(df *datafile.DataFile, chunkSize int64) {
	samples, channels := df.Shape()
	fmt.Printf("file:            %s\n", df.FileName())
	fmt.Printf("format:          %s\n", df.Capabilities().Description)
	fmt.Printf("writable:        %v (parallel: %v)\n", df.Writable(), df.ParallelWritable())
	fmt.Printf("shape:           %d samples x %d channels\n", samples, channels)
	fmt.Printf("duration:        %.2f s\n", float64(samples)/df.Rate())

	printParam(df, "sampling rate", "rate", fmt.Sprintf("%g Hz", df.Rate()))
	printParam(df, "channels (N_e)", "channel_count", fmt.Sprintf("%d", df.ChannelCount()))
	printParam(df, "total channels", "total_channel_count", fmt.Sprintf("%d", df.TotalChannelCount()))

	if n, err := df.WindowLength(); err == nil {
		shift, _ := df.WindowShift()
		fmt.Printf("window:          %d samples (shift %d)\n", n, shift)
	}

	nb, last, err := df.Analyze(chunkSize)
	if err != nil {
		logger.Warn("No chunk plan: %v", err)
		return
	}
	fmt.Printf("chunk plan:      %d chunks", nb)
	if last > 0 {
		fmt.Printf(" (last one %d samples)", last)
	}
	fmt.Println()
}

func printParam(df *datafile.DataFile, label, name, value string) {
	if src, ok := df.ParamSource(name); ok {
		fmt.Printf("%-16s %s (from %s)\n", label+":", value, src)
	} else {
		fmt.Printf("%-16s %s\n", label+":", value)
	}
}

// scanRecording reads every chunk concurrently and reports per-channel
// statistics.
func scanRecording(ctx context.Context, df *datafile.DataFile, chunkSize int64) error {
	stats, err := collectStats(ctx, df, chunkSize)
	if err != nil {
		return err
	}

	fmt.Println("channel      min          max          mean")
	for c, s := range stats {
		mean := 0.0
		if s.count > 0 {
			mean = s.sum / float64(s.count)
		}
		fmt.Printf("%7d  %11.4f  %11.4f  %11.4f\n", c, s.min, s.max, mean)
	}
	return nil
}

// collectStats folds per-channel statistics over the whole recording. Chunks
// are independent reads, so the fan-out is bounded only by CPU count. The
// trailing partial chunk is read at its real length so the statistics never
// see padding.
func collectStats(ctx context.Context, df *datafile.DataFile, chunkSize int64) ([]channelStats, error) {
	nb, last, err := df.Analyze(chunkSize)
	if err != nil {
		return nil, err
	}

	samples, channels := df.Shape()
	stats := make([]channelStats, channels)
	for i := range stats {
		stats[i].min = float32(math.Inf(1))
		stats[i].max = float32(math.Inf(-1))
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for idx := int64(0); idx < nb; idx++ {
		g.Go(func() error {
			var (
				block *datafile.Block
				err   error
			)
			if last > 0 && idx == nb-1 {
				block, err = df.GetSnippet(gctx, samples-last, last, nil)
			} else {
				block, err = df.GetData(gctx, idx, chunkSize, datafile.Padding{}, nil)
			}
			if err != nil {
				return err
			}

			local := make([]channelStats, channels)
			for i := range local {
				local[i].min = float32(math.Inf(1))
				local[i].max = float32(math.Inf(-1))
			}
			for t := 0; t < block.Samples(); t++ {
				row := block.Row(t)
				for c, v := range row {
					s := &local[c]
					if v < s.min {
						s.min = v
					}
					if v > s.max {
						s.max = v
					}
					s.sum += float64(v)
					s.count++
				}
			}

			mu.Lock()
			for c := range stats {
				s, l := &stats[c], &local[c]
				if l.min < s.min {
					s.min = l.min
				}
				if l.max > s.max {
					s.max = l.max
				}
				s.sum += l.sum
				s.count += l.count
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}
