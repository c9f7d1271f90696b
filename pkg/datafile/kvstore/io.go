// Chunk-level read and write paths for the kvstore backend.
package kvstore

import (
	"context"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile"
	"github.com/McKenzieNeuro/spyking-circus/pkg/metrics"
)

// GetData assembles a padded chunk from the blocks overlapping its sample
// range. Blocks missing from the store contribute zeros.
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
	if err = b.ensureOpen(); err != nil {
		return nil, err
	}
	if b.hdr.Samples == 0 {
		return nil, fmt.Errorf("kvstore at %s holds no dataset", b.path)
	}

	plan, err := datafile.PlanRead(idx, chunkSize, pad, b.hdr.Samples)
	if err != nil {
		return nil, err
	}

	channels := b.hdr.Channels
	block = datafile.NewBlock(int(plan.Rows), channels)

	if plan.End > plan.Start {
		err = b.db.View(func(txn *badger.Txn) error {
			first := plan.Start / b.hdr.BlockSize
			last := (plan.End - 1) / b.hdr.BlockSize

			for n := first; n <= last; n++ {
				rows, err := b.loadBlock(txn, n)
				if err != nil {
					return err
				}
				if rows == nil {
					continue // absent block reads as zeros
				}

				blockStart := n * b.hdr.BlockSize
				lo := max64(plan.Start, blockStart)
				hi := min64(plan.End, blockStart+b.blockRows(n))
				for t := lo; t < hi; t++ {
					src := rows[(t-blockStart)*int64(channels) : (t-blockStart+1)*int64(channels)]
					copy(block.Row(int(t-plan.Start+plan.DstOffset)), src)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if nodes != nil {
		return block.SelectChannels(nodes)
	}
	return block, nil
}

// SetData overlays the written rows onto every overlapped block inside one
// transaction, reading back partially covered blocks first.
func (b *Backend) SetData(ctx context.Context, t int64, block *datafile.Block) (err error) {
	start := time.Now()
	defer func() {
		metrics.Chunks().ObserveWrite(Capabilities.Description, block.Samples(), time.Since(start), err)
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	if err = b.ensureOpen(); err != nil {
		return err
	}
	if b.hdr.Samples == 0 {
		return fmt.Errorf("kvstore at %s holds no dataset", b.path)
	}

	channels := b.hdr.Channels
	if block.Channels() != channels {
		return fmt.Errorf("block spans %d channels, dataset has %d", block.Channels(), channels)
	}
	end := t + int64(block.Samples())
	if t < 0 || end > b.hdr.Samples {
		return fmt.Errorf("write range [%d, %d) is outside the allocation [0, %d)", t, end, b.hdr.Samples)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		first := t / b.hdr.BlockSize
		last := (end - 1) / b.hdr.BlockSize

		for n := first; n <= last; n++ {
			rows, err := b.loadBlock(txn, n)
			if err != nil {
				return err
			}
			if rows == nil {
				rows = make([]float32, b.blockRows(n)*int64(channels))
			}

			blockStart := n * b.hdr.BlockSize
			lo := max64(t, blockStart)
			hi := min64(end, blockStart+b.blockRows(n))
			for ts := lo; ts < hi; ts++ {
				copy(rows[(ts-blockStart)*int64(channels):(ts-blockStart+1)*int64(channels)], block.Row(int(ts-t)))
			}

			if err := b.storeBlock(txn, n, rows); err != nil {
				return err
			}
		}
		return nil
	})
}

// loadBlock decodes block n into float32 rows, nil when the block is absent.
func (b *Backend) loadBlock(txn *badger.Txn, n int64) ([]float32, error) {
	item, err := txn.Get(keyBlock(n))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows := make([]float32, b.blockRows(n)*int64(b.hdr.Channels))
	err = item.Value(func(val []byte) error {
		return b.dt.Decode(rows, val)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode block %d: %w", n, err)
	}
	return rows, nil
}

// storeBlock encodes float32 rows with the header's element type and writes
// block n.
func (b *Backend) storeBlock(txn *badger.Txn, n int64, rows []float32) error {
	buf := make([]byte, len(rows)*b.dt.Size())
	if err := b.dt.Encode(buf, rows); err != nil {
		return err
	}
	if err := txn.Set(keyBlock(n), buf); err != nil {
		return fmt.Errorf("failed to store block %d: %w", n, err)
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
