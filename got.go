package hlsgot

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultClient is the default http client for playlist and segment requests.
var DefaultClient = GetDefaultClient()

// Got holds the settings shared by many downloads.
type Got struct {
	ProgressFunc

	Client *http.Client

	Logger *zap.Logger

	Metrics *Metrics

	ctx context.Context
}

// GetDefaultClient returns a new http client tuned for many small requests to one host.
func GetDefaultClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
}

// Download resolves the HLS manifest at URL and saves its segments into dest.
func (g *Got) Download(URL, dest string) error {
	return g.Do(NewDownload(g.ctx, URL, dest))
}

// Do inits and runs ProgressFunc if set and starts the download.
func (g *Got) Do(dl *Download) error {

	if dl.ctx == nil {
		dl.ctx = g.ctx
	}

	if dl.Client == nil {
		dl.Client = g.Client
	}

	if dl.Logger == nil {
		dl.Logger = g.Logger
	}

	if dl.Metrics == nil {
		dl.Metrics = g.Metrics
	}

	if err := dl.Init(); err != nil {
		return err
	}

	if g.ProgressFunc != nil {

		done := make(chan struct{})

		go func() {
			defer close(done)
			dl.RunProgress(g.ProgressFunc)
		}()

		// Last call once the loop is gone, so both never run at once.
		defer func() {
			dl.StopProgress()
			<-done
			g.ProgressFunc(dl)
		}()
	}

	return dl.Start()
}

// New returns new *Got with default context and client.
func New() *Got {
	return NewWithContext(context.Background())
}

// NewWithContext wants Context and returns *Got with default http client.
func NewWithContext(ctx context.Context) *Got {
	return &Got{
		ctx:    ctx,
		Client: DefaultClient,
	}
}
