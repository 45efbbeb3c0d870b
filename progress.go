package hlsgot

import (
	"sync/atomic"
	"time"
)

// ProgressFunc to show progress state, called by RunProgress based on interval.
type ProgressFunc func(d *Download)

// RunProgress runs ProgressFunc based on Interval and updates lastSize.
func (d *Download) RunProgress(fn ProgressFunc) {

	sleepd := time.Duration(d.Interval) * time.Millisecond

	for {

		if d.stopped.Load() {
			break
		}

		// Context check.
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		// Run progress func.
		fn(d)

		// Update last size
		atomic.StoreUint64(&d.lastSize, atomic.LoadUint64(&d.size))

		// Interval.
		time.Sleep(sleepd)
	}
}

// StopProgress ends the RunProgress loop.
func (d *Download) StopProgress() {
	d.stopped.Store(true)
}

// Emitted returns the number of units handed to the consumer so far.
func (d *Download) Emitted() int {
	return int(atomic.LoadInt64(&d.emitted))
}

// Percent returns the completion of the emitted units.
func (d *Download) Percent() float64 {
	if n := d.Emitted(); n > 0 {
		return percent(n-1, len(d.segments))
	}
	return 0
}

// Size returns downloaded size.
func (d *Download) Size() uint64 {
	return atomic.LoadUint64(&d.size)
}

// Speed returns download speed.
func (d *Download) Speed() uint64 {
	if d.Interval == 0 {
		return 0
	}
	return (atomic.LoadUint64(&d.size) - atomic.LoadUint64(&d.lastSize)) / d.Interval * 1000
}

// AvgSpeed returns average download speed.
func (d *Download) AvgSpeed() uint64 {

	if totalMills := d.TotalCost().Milliseconds(); totalMills > 0 {
		return uint64(atomic.LoadUint64(&d.size) / uint64(totalMills) * 1000)
	}

	return 0
}

// TotalCost returns download duration.
func (d *Download) TotalCost() time.Duration {
	return time.Since(d.startedAt)
}
