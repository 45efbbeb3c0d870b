package hlsgot

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errNotInitialized = errors.New("download is not initialized, call Init first")

type (

	// Download holds the HLS stream config and state of a single run.
	Download struct {
		Client *http.Client

		// Max segments fetched at the same time, also the batch size.
		Concurrency uint

		// Attempts per playlist and segment fetch.
		Retries int

		// Backoff unit between attempts, attempt n waits n * RetryBackoff.
		RetryBackoff time.Duration

		// Variant hops followed before giving up.
		MaxVariantDepth int

		URL, Dir, Dest string

		// Progress interval in ms.
		Interval uint64

		Header []GotHeader

		Logger *zap.Logger

		Metrics *Metrics

		path string

		ctx context.Context

		size, lastSize uint64

		// Units emitted so far.
		emitted int64

		segments []Segment

		fetcher *Fetcher

		runID string

		streamed, stopped atomic.Bool

		startedAt time.Time
	}
)

// Init sets defaults and resolves the playlist into segments,
// you should call Init before Start or Units.
func (d *Download) Init() (err error) {

	// Set start time.
	d.startedAt = time.Now()

	// Set default client.
	if d.Client == nil {
		d.Client = DefaultClient
	}

	// Set default context.
	if d.ctx == nil {
		d.ctx = context.Background()
	}

	if d.Concurrency == 0 {
		d.Concurrency = DefaultConcurrency
	}

	if d.Retries <= 0 {
		d.Retries = DefaultRetries
	}

	if d.MaxVariantDepth <= 0 {
		d.MaxVariantDepth = DefaultMaxVariantDepth
	}

	// Set default interval.
	if d.Interval == 0 {
		d.Interval = uint64(max(400/runtime.NumCPU(), 1))
	}

	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	d.runID = uuid.NewString()
	d.Logger = d.Logger.With(zap.String("run_id", d.runID), zap.String("manifest", d.URL))

	d.fetcher = &Fetcher{
		Client:  d.Client,
		Header:  d.Header,
		Backoff: d.RetryBackoff,
		Logger:  d.Logger,
		Metrics: d.Metrics,
	}

	resolver := &Resolver{
		Fetcher:         d.fetcher,
		MaxRetries:      d.Retries,
		MaxVariantDepth: d.MaxVariantDepth,
		Logger:          d.Logger,
	}

	if d.segments, err = resolver.Resolve(d.ctx, d.URL); err != nil {
		return err
	}

	if len(d.segments) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyPlaylist, d.URL)
	}

	return nil
}

// Units returns the downloaded segments in playlist order. Segments are
// fetched lazily in batches of Concurrency, the next batch starts once every
// unit of the current one has been consumed. Iteration ends at the first
// error, which is yielded with a zero Unit. Units can be ranged over once.
func (d *Download) Units() iter.Seq2[Unit, error] {

	return func(yield func(Unit, error) bool) {

		if d.fetcher == nil {
			yield(Unit{}, errNotInitialized)
			return
		}

		if !d.streamed.CompareAndSwap(false, true) {
			yield(Unit{}, ErrStreamConsumed)
			return
		}

		total := len(d.segments)

		if total == 0 {
			yield(Unit{}, fmt.Errorf("%w: %s", ErrEmptyPlaylist, d.URL))
			return
		}

		var (
			offset int
			size   = int(min(d.Concurrency, uint(total)))
		)

		for _, batch := range splitBatches(d.segments, size) {

			units, err := d.fetchBatch(offset, batch, total)

			if err != nil {
				yield(Unit{}, err)
				return
			}

			for _, u := range units {
				atomic.StoreInt64(&d.emitted, int64(u.Index+1))
				if !yield(u, nil) {
					return
				}
			}

			offset += len(batch)
		}
	}
}

// Start downloads every segment and writes them in order to Path().
// Must be called only after Init.
func (d *Download) Start() (err error) {

	if d.fetcher == nil {
		return errNotInitialized
	}

	if d.Dir != "" {
		if err = os.MkdirAll(d.Dir, 0755); err != nil {
			return err
		}
	}

	file, err := os.OpenFile(d.Path(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for u, uerr := range d.Units() {

		if uerr != nil {
			return uerr
		}

		if _, err = file.Write(u.Bytes); err != nil {
			return err
		}
	}

	d.Logger.Info("download complete",
		zap.String("path", d.Path()),
		zap.Int("segments", len(d.segments)),
		zap.Uint64("bytes", d.Size()),
		zap.Duration("took", d.TotalCost()),
	)

	return nil
}

// Context returns download context.
func (d *Download) Context() context.Context {
	return d.ctx
}

// RunID returns the identifier attached to every log line of this run.
func (d *Download) RunID() string {
	return d.runID
}

// Segments returns a copy of the resolved segments.
func (d *Download) Segments() []Segment {
	return append([]Segment(nil), d.segments...)
}

// TotalSegments returns the number of resolved segments.
func (d *Download) TotalSegments() int {
	return len(d.segments)
}

// NewDownload returns new *Download with context, Init falls back to DefaultClient.
func NewDownload(ctx context.Context, URL, dest string) *Download {
	return &Download{
		ctx:  ctx,
		URL:  URL,
		Dest: dest,
	}
}
