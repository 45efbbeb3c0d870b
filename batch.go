package hlsgot

import (
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// splitBatches partitions segments into consecutive groups of size,
// the last group may be smaller.
func splitBatches(segments []Segment, size int) [][]Segment {

	size = min(size, len(segments))

	if size < 1 {
		size = 1
	}

	batches := make([][]Segment, 0, (len(segments)+size-1)/size)

	for start := 0; start < len(segments); start += size {
		end := min(start+size, len(segments))
		batches = append(batches, segments[start:end:end])
	}

	return batches
}

// fetchBatch downloads every segment of batch at the same time and returns
// the units in batch order. offset is the playlist index of batch[0].
// The first failure cancels the remaining fetches of the batch.
func (d *Download) fetchBatch(offset int, batch []Segment, total int) ([]Unit, error) {

	var (
		units  = make([]Unit, len(batch))
		g, ctx = errgroup.WithContext(d.ctx)
	)

	d.Logger.Debug("dispatching batch",
		zap.Int("first", offset),
		zap.Int("size", len(batch)),
		zap.Int("total", total),
	)

	for i, seg := range batch {
		g.Go(func() error {
			u, err := d.acquire(ctx, seg, offset+i, total)
			if err != nil {
				return err
			}
			units[i] = u
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.Metrics.batchDone()

	return units, nil
}
