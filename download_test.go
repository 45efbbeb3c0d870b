package hlsgot_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/melbahja/hlsgot"
)

var httpt = NewHttptestServer()

func TestInit(t *testing.T) {

	t.Run("okInitTest", okInitTest)
	t.Run("variantInitTest", variantInitTest)
	t.Run("emptyPlaylistTest", emptyPlaylistTest)
	t.Run("notFoundInitTest", notFoundInitTest)
	t.Run("badDurationInitTest", badDurationInitTest)
	t.Run("variantDepthTest", variantDepthTest)
}

func TestDownloading(t *testing.T) {

	t.Run("downloadOkFileTest", downloadOkFileTest)
	t.Run("downloadPercentTest", downloadPercentTest)
	t.Run("downloadMissingSegmentTest", downloadMissingSegmentTest)
	t.Run("downloadHeaderTest", downloadHeaderTest)
	t.Run("downloadStreamOnceTest", downloadStreamOnceTest)
	t.Run("downloadDirTest", downloadDirTest)
	t.Run("downloadHugeConcurrencyTest", downloadHugeConcurrencyTest)
	t.Run("startWithoutInitTest", startWithoutInitTest)
}

func okInitTest(t *testing.T) {

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/index.m3u8", "")

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}

	if d.TotalSegments() != 3 {
		t.Fatalf("Expecting 3 segments, but got %d", d.TotalSegments())
	}

	want := []hlsgot.Segment{
		{Duration: 10, URL: httpt.URL + "/path/seg0.ts"},
		{Duration: 10, URL: httpt.URL + "/path/seg1.ts"},
		{Duration: 5, URL: httpt.URL + "/path/seg2.ts"},
	}

	for i, seg := range d.Segments() {
		if seg != want[i] {
			t.Errorf("Segment %d: wants %+v but got %+v", i, want[i], seg)
		}
	}

	if d.RunID() == "" {
		t.Error("run id should be set after Init")
	}
}

func variantInitTest(t *testing.T) {

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/master.m3u8", "")

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}

	segs := d.Segments()

	if len(segs) != 2 {
		t.Fatalf("Expecting the 2 variant segments, but got %d", len(segs))
	}

	if segs[0].URL != httpt.URL+"/path/v0.ts" || segs[1].URL != httpt.URL+"/path/v1.ts" {
		t.Errorf("Unexpected variant segments: %+v", segs)
	}
}

func emptyPlaylistTest(t *testing.T) {

	before := segmentHits.Load()

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/empty.m3u8", "")

	err := d.Init()

	if !errors.Is(err, hlsgot.ErrEmptyPlaylist) {
		t.Fatalf("Expecting ErrEmptyPlaylist, but got %v", err)
	}

	for _, err := range d.Units() {
		if !errors.Is(err, hlsgot.ErrEmptyPlaylist) {
			t.Errorf("Units should only yield ErrEmptyPlaylist, got %v", err)
		}
	}

	if hits := segmentHits.Load() - before; hits != 0 {
		t.Errorf("No segment should be requested, got %d requests", hits)
	}
}

func notFoundInitTest(t *testing.T) {

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/not_found.m3u8", "")
	d.RetryBackoff = time.Millisecond

	err := d.Init()

	var nerr *hlsgot.NetworkError

	if !errors.As(err, &nerr) {
		t.Fatalf("Expecting a NetworkError, but got %v", err)
	}

	if nerr.Attempts != hlsgot.DefaultRetries {
		t.Errorf("Expecting %d attempts, but got %d", hlsgot.DefaultRetries, nerr.Attempts)
	}
}

func badDurationInitTest(t *testing.T) {

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/bad_duration.m3u8", "")

	err := d.Init()

	var merr *hlsgot.ManifestError

	if !errors.As(err, &merr) {
		t.Fatalf("Expecting a ManifestError, but got %v", err)
	}

	if merr.Line != 2 || !strings.HasSuffix(merr.URL, "/path/bad_duration.m3u8") {
		t.Errorf("Unexpected error details: %+v", merr)
	}
}

func variantDepthTest(t *testing.T) {

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/nested_a.m3u8", "")

	if err := d.Init(); !errors.Is(err, hlsgot.ErrVariantDepth) {
		t.Fatalf("Expecting ErrVariantDepth, but got %v", err)
	}

	d = hlsgot.NewDownload(context.Background(), httpt.URL+"/path/nested_a.m3u8", "")
	d.MaxVariantDepth = 2

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}

	if d.TotalSegments() != 3 {
		t.Errorf("Expecting 3 segments, but got %d", d.TotalSegments())
	}
}

func downloadOkFileTest(t *testing.T) {

	tmpFile := createTemp()
	defer clean(tmpFile)

	// Stale content must be replaced.
	os.WriteFile(tmpFile, []byte("stale content that is longer"), 0644)

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/index.m3u8", tmpFile)

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}

	if err := d.Start(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(tmpFile)

	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "<seg0><seg1><seg2>" {
		t.Errorf("Corrupted file: %q", data)
	}

	if d.Size() != uint64(len(data)) {
		t.Errorf("Size wants %d but got %d", len(data), d.Size())
	}

	if d.Percent() != 100 {
		t.Errorf("Percent wants 100 but got %f", d.Percent())
	}
}

func downloadPercentTest(t *testing.T) {

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/index.m3u8", "")
	d.Concurrency = 2

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}

	want := []float64{100.0 / 3, 200.0 / 3, 100}
	i := 0

	for u, err := range d.Units() {

		if err != nil {
			t.Fatal(err)
		}

		if u.Index != i {
			t.Errorf("Unit %d has index %d", i, u.Index)
		}

		if math.Abs(u.Percent-want[i]) > 1e-9 {
			t.Errorf("Unit %d percent wants %f but got %f", i, want[i], u.Percent)
		}

		i++
	}

	if i != 3 {
		t.Fatalf("Expecting 3 units, but got %d", i)
	}
}

func downloadMissingSegmentTest(t *testing.T) {

	tmpFile := createTemp()
	defer clean(tmpFile)

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/broken.m3u8", tmpFile)
	d.Concurrency = 3
	d.RetryBackoff = time.Millisecond

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}

	units := 0

	var err error

	for _, uerr := range d.Units() {
		if uerr != nil {
			err = uerr
			break
		}
		units++
	}

	if units != 0 {
		t.Errorf("No unit should be emitted when the batch fails, got %d", units)
	}

	var nerr *hlsgot.NetworkError

	if !errors.As(err, &nerr) {
		t.Fatalf("Expecting a NetworkError, but got %v", err)
	}

	if !strings.HasSuffix(nerr.URL, "/path/missing.ts") {
		t.Errorf("NetworkError should name the missing segment, got %s", nerr.URL)
	}

	var serr *hlsgot.StatusError

	if !errors.As(err, &serr) || serr.Code != http.StatusNotFound {
		t.Errorf("Expecting a 404 StatusError, got %v", err)
	}
}

func downloadHeaderTest(t *testing.T) {

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/index.m3u8", "")
	d.RetryBackoff = time.Millisecond
	d.Header = []hlsgot.GotHeader{{Key: "x-test-header", Value: "forbidden"}}

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}

	for _, err := range d.Units() {

		var serr *hlsgot.StatusError

		if !errors.As(err, &serr) || serr.Code != http.StatusForbidden {
			t.Fatalf("Expecting a 403 StatusError, got %v", err)
		}
	}
}

func downloadStreamOnceTest(t *testing.T) {

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/index.m3u8", "")

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}

	for range d.Units() {
		break
	}

	for _, err := range d.Units() {
		if !errors.Is(err, hlsgot.ErrStreamConsumed) {
			t.Errorf("Expecting ErrStreamConsumed, got %v", err)
		}
	}
}

func downloadDirTest(t *testing.T) {

	dir := filepath.Join(t.TempDir(), "out")

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/index.m3u8", "")
	d.Dir = dir

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}

	if err := d.Start(); err != nil {
		t.Fatal(err)
	}

	if d.Path() != filepath.Join(dir, hlsgot.DefaultDest) {
		t.Errorf("Unexpected path %s", d.Path())
	}

	if _, err := os.Stat(d.Path()); err != nil {
		t.Error(err)
	}
}

func downloadHugeConcurrencyTest(t *testing.T) {

	for _, concurrency := range []uint{math.MaxInt, math.MaxUint} {

		d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/index.m3u8", "")
		d.Concurrency = concurrency

		if err := d.Init(); err != nil {
			t.Fatal(err)
		}

		var got strings.Builder

		for u, err := range d.Units() {
			if err != nil {
				t.Fatal(err)
			}
			got.Write(u.Bytes)
		}

		if got.String() != "<seg0><seg1><seg2>" {
			t.Errorf("Concurrency %d: unexpected data %q", concurrency, got.String())
		}
	}
}

func startWithoutInitTest(t *testing.T) {

	d := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/index.m3u8", "")

	if err := d.Start(); err == nil {
		t.Error("Expecting error but got nil")
	}
}

// Later segments answer first, emission order must not change.
func TestUnitsKeepPlaylistOrder(t *testing.T) {

	const total = 7

	var (
		inFlight, peak atomic.Int64
		playlist       strings.Builder
	)

	playlist.WriteString("#EXTM3U\n")
	for i := 0; i < total; i++ {
		fmt.Fprintf(&playlist, "#EXTINF:2.0,\ns%d.ts\n", i)
	}

	r := mux.NewRouter()

	r.HandleFunc("/live/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, playlist.String())
	})

	r.HandleFunc("/live/s{id:[0-9]+}.ts", func(w http.ResponseWriter, r *http.Request) {

		n := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		var id int
		fmt.Sscan(mux.Vars(r)["id"], &id)

		time.Sleep(time.Duration(total-id) * 15 * time.Millisecond)

		fmt.Fprintf(w, "s%d;", id)
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	for _, concurrency := range []uint{1, 2, 3, total + 1} {

		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {

			peak.Store(0)

			d := hlsgot.NewDownload(context.Background(), srv.URL+"/live/index.m3u8", "")
			d.Client = srv.Client()
			d.Concurrency = concurrency

			if err := d.Init(); err != nil {
				t.Fatal(err)
			}

			var (
				got  strings.Builder
				last float64
			)

			for u, err := range d.Units() {

				if err != nil {
					t.Fatal(err)
				}

				if u.Percent <= last {
					t.Errorf("Percent is not increasing: %f after %f", u.Percent, last)
				}

				last = u.Percent
				got.Write(u.Bytes)
			}

			var want strings.Builder
			for i := 0; i < total; i++ {
				fmt.Fprintf(&want, "s%d;", i)
			}

			if got.String() != want.String() {
				t.Errorf("Order mismatch: wants %s but got %s", want.String(), got.String())
			}

			if last != 100 {
				t.Errorf("Last percent wants 100 but got %f", last)
			}

			if p := peak.Load(); p > int64(concurrency) {
				t.Errorf("Peak in-flight %d exceeds concurrency %d", p, concurrency)
			}
		})
	}
}

// The next batch is requested only after the current one has been consumed.
func TestUnitsFetchBatchOnDemand(t *testing.T) {

	var hits atomic.Int64

	r := mux.NewRouter()

	r.HandleFunc("/vod/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:1,\na.ts\n#EXTINF:1,\nb.ts\n#EXTINF:1,\nc.ts\n#EXTINF:1,\nd.ts\n")
	})

	r.HandleFunc("/vod/{name}.ts", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, mux.Vars(r)["name"])
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	d := hlsgot.NewDownload(context.Background(), srv.URL+"/vod/index.m3u8", "")
	d.Client = srv.Client()
	d.Concurrency = 2

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}

	for u, err := range d.Units() {

		if err != nil {
			t.Fatal(err)
		}

		if u.Index != 0 {
			t.Fatalf("Expecting first unit, got index %d", u.Index)
		}

		if n := hits.Load(); n != 2 {
			t.Errorf("Expecting 2 segment requests before the first unit, got %d", n)
		}

		break
	}

	time.Sleep(50 * time.Millisecond)

	if n := hits.Load(); n != 2 {
		t.Errorf("Expecting no requests after break, got %d in total", n)
	}
}

type countingTransport struct {
	hits atomic.Int64
	rt   http.RoundTripper
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.hits.Add(1)
	return c.rt.RoundTrip(req)
}

func TestGotDoClient(t *testing.T) {

	shared := &countingTransport{rt: http.DefaultTransport}
	own := &countingTransport{rt: http.DefaultTransport}

	g := hlsgot.New()
	g.Client = &http.Client{Transport: shared}

	dl := hlsgot.NewDownload(context.Background(), httpt.URL+"/path/index.m3u8", filepath.Join(t.TempDir(), "own.ts"))
	dl.Client = &http.Client{Transport: own}

	if err := g.Do(dl); err != nil {
		t.Fatal(err)
	}

	if own.hits.Load() != 4 || shared.hits.Load() != 0 {
		t.Errorf("Download client wants 4 requests and Got client 0, got %d and %d", own.hits.Load(), shared.hits.Load())
	}

	if err := g.Download(httpt.URL+"/path/index.m3u8", filepath.Join(t.TempDir(), "shared.ts")); err != nil {
		t.Fatal(err)
	}

	if shared.hits.Load() != 4 {
		t.Errorf("Got client wants 4 requests, got %d", shared.hits.Load())
	}
}

func TestContextCancel(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())

	d := hlsgot.NewDownload(ctx, httpt.URL+"/path/index.m3u8", "")

	if err := d.Init(); err != nil {
		t.Fatal(err)
	}

	cancel()

	for _, err := range d.Units() {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expecting context.Canceled, got %v", err)
		}
	}
}

func createTemp() string {

	tmp, err := os.CreateTemp("", "")

	if err != nil {
		panic(err)
	}

	defer tmp.Close()

	return tmp.Name()
}

func clean(tmpFile string) {

	os.Remove(tmpFile)
}
