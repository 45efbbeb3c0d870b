package hlsgot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultBackoff is the wait unit between attempts, attempt n waits n * DefaultBackoff.
const DefaultBackoff = time.Second

// Fetcher performs GET requests with a bounded number of attempts.
type Fetcher struct {
	Client *http.Client

	// Headers sent with every request.
	Header []GotHeader

	// Backoff unit, the wait after failed attempt n is n * Backoff.
	Backoff time.Duration

	Logger *zap.Logger

	Metrics *Metrics

	// Replaced in tests to record waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// Fetch downloads URL, making up to maxRetries attempts.
// It returns a *NetworkError once every attempt failed.
func (f *Fetcher) Fetch(ctx context.Context, URL string, maxRetries int) ([]byte, error) {
	return f.fetch(ctx, "other", URL, maxRetries)
}

func (f *Fetcher) fetch(ctx context.Context, kind, URL string, maxRetries int) ([]byte, error) {

	var (
		err     error
		data    []byte
		attempt int
		start   = time.Now()
	)

	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt = 1; ; attempt++ {

		data, err = f.get(ctx, URL)
		f.Metrics.attempt(kind, err)

		if err == nil {
			f.Metrics.fetched(kind, start)
			return data, nil
		}

		f.logger().Warn("fetch attempt failed",
			zap.String("kind", kind),
			zap.String("url", URL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err),
		)

		if cerr := ctx.Err(); cerr != nil {
			if !errors.Is(err, cerr) {
				err = errors.Join(cerr, err)
			}
			break
		}

		if attempt >= maxRetries {
			break
		}

		f.Metrics.retry(kind)

		if serr := f.wait(ctx, time.Duration(attempt)*f.backoff()); serr != nil {
			err = errors.Join(serr, err)
			break
		}
	}

	return nil, &NetworkError{URL: URL, Attempts: attempt, Err: err}
}

func (f *Fetcher) get(ctx context.Context, URL string) ([]byte, error) {

	var (
		err error
		req *http.Request
		res *http.Response
	)

	if req, err = NewRequest(ctx, http.MethodGet, URL, f.Header); err != nil {
		return nil, err
	}

	if res, err = f.client().Do(req); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, res.Body)
		return nil, &StatusError{Code: res.StatusCode, Status: res.Status}
	}

	return io.ReadAll(res.Body)
}

func (f *Fetcher) wait(ctx context.Context, d time.Duration) error {

	if f.sleep != nil {
		return f.sleep(ctx, d)
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) client() *http.Client {
	if f.Client == nil {
		return DefaultClient
	}
	return f.Client
}

func (f *Fetcher) backoff() time.Duration {
	if f.Backoff <= 0 {
		return DefaultBackoff
	}
	return f.Backoff
}

func (f *Fetcher) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}
