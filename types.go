package hlsgot

import "time"

// Defaults applied by Download.Init.
const (
	DefaultConcurrency     = 5
	DefaultRetries         = 3
	DefaultMaxVariantDepth = 1
	DefaultDest            = "video.m3u8"
)

type (

	// Segment is one media chunk referenced by a playlist.
	Segment struct {

		// Duration in seconds, as announced by EXTINF.
		Duration float64

		// Absolute segment URL.
		URL string
	}

	// Unit is one downloaded segment as emitted by Download.Units.
	Unit struct {

		// Position of the segment in the playlist.
		Index int

		Segment Segment

		// Raw segment payload.
		Bytes []byte

		// Percent complete once this unit is written, 100 on the last one.
		Percent float64
	}
)

// Length returns the segment duration as a time.Duration.
func (s Segment) Length() time.Duration {
	return time.Duration(s.Duration * float64(time.Second))
}
