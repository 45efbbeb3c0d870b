package hlsgot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch kinds used as metric label values.
const (
	kindPlaylist = "playlist"
	kindSegment  = "segment"
)

// Metrics holds the prometheus collectors updated by downloads.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	FetchAttempts      *prometheus.CounterVec
	FetchRetries       *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	SegmentsDownloaded prometheus.Counter
	SegmentBytes       prometheus.Counter
	SegmentsInFlight   prometheus.Gauge
	BatchesCompleted   prometheus.Counter
	PlaylistsResolved  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to export them globally.
func NewMetrics(reg prometheus.Registerer) *Metrics {

	f := promauto.With(reg)

	return &Metrics{
		FetchAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hlsgot_fetch_attempts_total",
				Help: "Total number of HTTP fetch attempts",
			},
			[]string{"kind", "result"},
		),
		FetchRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hlsgot_fetch_retries_total",
				Help: "Total number of fetch retries after a failed attempt",
			},
			[]string{"kind"},
		),
		FetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hlsgot_fetch_duration_seconds",
				Help:    "Duration of successful fetches including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		SegmentsDownloaded: f.NewCounter(
			prometheus.CounterOpts{
				Name: "hlsgot_segments_downloaded_total",
				Help: "Total number of segments downloaded",
			},
		),
		SegmentBytes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "hlsgot_segment_bytes_total",
				Help: "Total number of segment payload bytes downloaded",
			},
		),
		SegmentsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "hlsgot_segments_in_flight",
				Help: "Number of segment fetches currently running",
			},
		),
		BatchesCompleted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "hlsgot_batches_completed_total",
				Help: "Total number of segment batches fully downloaded",
			},
		),
		PlaylistsResolved: f.NewCounter(
			prometheus.CounterOpts{
				Name: "hlsgot_playlists_resolved_total",
				Help: "Total number of playlists fetched and parsed, variants included",
			},
		),
	}
}

func (m *Metrics) attempt(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FetchAttempts.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) retry(kind string) {
	if m == nil {
		return
	}
	m.FetchRetries.WithLabelValues(kind).Inc()
}

func (m *Metrics) fetched(kind string, start time.Time) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) segmentStart() {
	if m == nil {
		return
	}
	m.SegmentsInFlight.Inc()
}

func (m *Metrics) segmentDone(n int, err error) {
	if m == nil {
		return
	}
	m.SegmentsInFlight.Dec()
	if err == nil {
		m.SegmentsDownloaded.Inc()
		m.SegmentBytes.Add(float64(n))
	}
}

func (m *Metrics) batchDone() {
	if m == nil {
		return
	}
	m.BatchesCompleted.Inc()
}

func (m *Metrics) playlistResolved() {
	if m == nil {
		return
	}
	m.PlaylistsResolved.Inc()
}
