// Chunk-level read and write paths for the raw_binary backend.
package rawbinary

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile"
	"github.com/McKenzieNeuro/spyking-circus/pkg/metrics"
)

// GetData reads a padded chunk with positioned reads. Padding clamped
// outside [0, samples) stays zero-filled; the nominal range is validated by
// the DataFile wrapper.
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

	f, err := b.handle()
	if err != nil {
		return nil, err
	}

	plan, err := datafile.PlanRead(idx, chunkSize, pad, b.samples)
	if err != nil {
		return nil, err
	}

	block = datafile.NewBlock(int(plan.Rows), b.cfg.NbChannels)
	readRows := plan.End - plan.Start
	if readRows > 0 {
		buf := make([]byte, readRows*b.rowBytes())
		off := int64(b.cfg.DataOffset) + plan.Start*b.rowBytes()
		if _, err = io.ReadFull(io.NewSectionReader(f, off, int64(len(buf))), buf); err != nil {
			// A short tail (file truncated under us) reads as zeros.
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("failed to read %s at offset %d: %w", b.path, off, err)
			}
			err = nil
		}

		dst := block.Raw()[plan.DstOffset*int64(b.cfg.NbChannels) : (plan.DstOffset+readRows)*int64(b.cfg.NbChannels)]
		if err = b.dt.Decode(dst, buf); err != nil {
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

// SetData writes a block with one positioned write. Disjoint ranges from
// cooperating processes do not interfere, which is what makes the format
// parallel-writable.
func (b *Backend) SetData(ctx context.Context, t int64, block *datafile.Block) (err error) {
	start := time.Now()
	defer func() {
		metrics.Chunks().ObserveWrite(Capabilities.Description, block.Samples(), time.Since(start), err)
	}()

	if err = ctx.Err(); err != nil {
		return err
	}

	f, err := b.handle()
	if err != nil {
		return err
	}

	if block.Channels() != b.cfg.NbChannels {
		return fmt.Errorf("block spans %d channels, file has %d", block.Channels(), b.cfg.NbChannels)
	}
	end := t + int64(block.Samples())
	if t < 0 || end > b.samples {
		return fmt.Errorf("write range [%d, %d) is outside the allocation [0, %d)", t, end, b.samples)
	}

	src := block.Raw()
	if b.gain != 1 {
		src = make([]float32, len(src))
		inv := 1 / b.gain
		for i, v := range block.Raw() {
			src[i] = v * inv
		}
	}

	buf := make([]byte, int64(block.Samples())*b.rowBytes())
	if err = b.dt.Encode(buf, src); err != nil {
		return err
	}

	off := int64(b.cfg.DataOffset) + t*b.rowBytes()
	if _, err = f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("failed to write %s at offset %d: %w", b.path, off, err)
	}
	return nil
}
