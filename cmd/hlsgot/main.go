package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/melbahja/hlsgot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var version string

func main() {

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &cli.App{
		Name:      "hlsgot",
		Usage:     "Download an HLS stream into a single file.",
		Version:   version,
		UsageText: "hlsgot [options] <manifest-url>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Usage:   "Output file `name`, joined with --dir.",
				Aliases: []string{"o"},
				Value:   hlsgot.DefaultDest,
				EnvVars: []string{"HLSGOT_OUTPUT"},
			},
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Save the output file in `dir`.",
				Aliases: []string{"d"},
				EnvVars: []string{"HLSGOT_DIR"},
			},
			&cli.UintFlag{
				Name:    "concurrency",
				Usage:   "Segments downloaded at the same time.",
				Aliases: []string{"c"},
				Value:   hlsgot.DefaultConcurrency,
				EnvVars: []string{"HLSGOT_CONCURRENCY"},
			},
			&cli.IntFlag{
				Name:    "retries",
				Usage:   "Attempts per playlist and segment request, at least 1.",
				Aliases: []string{"r"},
				Value:   hlsgot.DefaultRetries,
				EnvVars: []string{"HLSGOT_RETRIES"},
			},
			&cli.DurationFlag{
				Name:    "backoff",
				Usage:   "Wait unit between attempts, attempt n waits n times this.",
				Value:   hlsgot.DefaultBackoff,
				EnvVars: []string{"HLSGOT_BACKOFF"},
			},
			&cli.IntFlag{
				Name:    "max-depth",
				Usage:   "Variant playlist hops to follow.",
				Value:   hlsgot.DefaultMaxVariantDepth,
				EnvVars: []string{"HLSGOT_MAX_DEPTH"},
			},
			&cli.StringSliceFlag{
				Name:    "header",
				Usage:   "Request header `\"Key: Value\"`, can be repeated.",
				Aliases: []string{"H"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log `level`: debug, info, warn or error.",
				Value:   "warn",
				EnvVars: []string{"HLSGOT_LOG_LEVEL", "LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "metrics-listen",
				Usage:   "Serve prometheus metrics on `addr` while downloading.",
				EnvVars: []string{"HLSGOT_METRICS_LISTEN"},
			},
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "Disable the progress line.",
			},
		},
		Action: run,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hlsgot:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {

	if c.NArg() < 1 {
		return errors.New("empty manifest url, see --help")
	}

	logger, err := newLogger(c.String("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	header, err := parseHeaders(c.StringSlice("header"))
	if err != nil {
		return err
	}

	retries, err := retryCount(c.Int("retries"))
	if err != nil {
		return err
	}

	g := hlsgot.NewWithContext(c.Context)
	g.Logger = logger

	if addr := c.String("metrics-listen"); addr != "" {

		reg := prometheus.NewRegistry()
		g.Metrics = hlsgot.NewMetrics(reg)

		srv := serveMetrics(addr, reg, logger)
		defer srv.Shutdown(context.Background())
	}

	if !c.Bool("no-progress") && term.IsTerminal(int(os.Stdout.Fd())) {
		g.ProgressFunc = progressFunc(os.Stdout, getWidth)
	}

	d := &hlsgot.Download{
		URL:             normalizeURL(c.Args().First()),
		Dir:             c.String("dir"),
		Dest:            c.String("output"),
		Concurrency:     c.Uint("concurrency"),
		Retries:         retries,
		RetryBackoff:    c.Duration("backoff"),
		MaxVariantDepth: c.Int("max-depth"),
		Header:          header,
	}

	if err := g.Do(d); err != nil {
		if g.ProgressFunc != nil {
			fmt.Println()
		}
		return err
	}

	if g.ProgressFunc != nil {
		fmt.Println()
	}

	fmt.Printf(
		"Saved %d segments (%s) to %s in %s\n",
		d.TotalSegments(),
		humanize.Bytes(d.Size()),
		d.Path(),
		d.TotalCost().Round(time.Millisecond),
	)

	return nil
}

func newLogger(level string) (*zap.Logger, error) {

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	cfg.Sampling = nil
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// parseHeaders turns "Key: Value" strings into request headers.
// retryCount rejects attempt counts below one.
func retryCount(n int) (int, error) {
	if n < 1 {
		return 0, fmt.Errorf("invalid --retries %d, at least 1 attempt is required", n)
	}
	return n, nil
}

func parseHeaders(values []string) ([]hlsgot.GotHeader, error) {

	header := make([]hlsgot.GotHeader, 0, len(values))

	for _, v := range values {

		key, value, ok := strings.Cut(v, ":")
		key = strings.TrimSpace(key)

		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Key: Value\"", v)
		}

		header = append(header, hlsgot.GotHeader{Key: key, Value: strings.TrimSpace(value)})
	}

	return header, nil
}

func normalizeURL(url string) string {

	if url != "" && !(strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) {
		return "https://" + url
	}

	return url
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.String("addr", addr), zap.Error(err))
		}
	}()

	return srv
}

func progressFunc(out io.Writer, width func() int) hlsgot.ProgressFunc {

	return func(d *hlsgot.Download) {

		perc := d.Percent()

		// 60 is an estimation of the text printed around the bar.
		bar := l + color(progressBar(perc, width()-60)) + r

		fmt.Fprintf(
			out,
			"\r %6.2f%% %s %d/%d segments %s @ %s/s%s",
			perc,
			bar,
			d.Emitted(),
			d.TotalSegments(),
			humanize.Bytes(d.Size()),
			humanize.Bytes(d.Speed()),
			clearRight,
		)
	}
}

func progressBar(perc float64, width int) string {

	if width < 10 {
		width = 10
	}

	filled := int(perc / 100 * float64(width))
	filled = min(max(filled, 0), width)

	return strings.Repeat(progressStyle, filled) + strings.Repeat(" ", width-filled)
}

func getWidth() int {

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	return 80
}
