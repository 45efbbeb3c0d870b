package hlsgot

import (
	"context"
	"sync/atomic"
)

// percent returns the completion after segment index of total has been written.
func percent(index, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(index+1) / float64(total) * 100
}

// acquire downloads a single segment. Payload bytes are returned untouched.
func (d *Download) acquire(ctx context.Context, seg Segment, index, total int) (Unit, error) {

	d.Metrics.segmentStart()

	data, err := d.fetcher.fetch(ctx, kindSegment, seg.URL, d.Retries)

	d.Metrics.segmentDone(len(data), err)

	if err != nil {
		return Unit{}, err
	}

	atomic.AddUint64(&d.size, uint64(len(data)))

	return Unit{
		Index:   index,
		Segment: seg,
		Bytes:   data,
		Percent: percent(index, total),
	}, nil
}
