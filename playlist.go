package hlsgot

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Playlist tags the resolver acts on.
const (
	TagStreamInf = "#EXT-X-STREAM-INF"
	TagInf       = "#EXTINF:"
)

// Playlist is the result of parsing a single manifest.
type Playlist struct {

	// Segments in scan order, empty when Variant is set.
	Segments []Segment

	// Absolute URL of the first variant reference, if any.
	Variant string
}

// Resolver turns a manifest URL into the ordered list of media segments.
type Resolver struct {
	Fetcher *Fetcher

	// Attempts per playlist fetch.
	MaxRetries int

	// How many variant hops are followed, 0 means DefaultMaxVariantDepth.
	MaxVariantDepth int

	Logger *zap.Logger
}

// Resolve fetches manifestURL and follows variant references until a
// media playlist is found. The result may be empty; callers decide
// whether that is an error.
func (r *Resolver) Resolve(ctx context.Context, manifestURL string) ([]Segment, error) {
	return r.resolve(ctx, manifestURL, 0)
}

func (r *Resolver) resolve(ctx context.Context, URL string, depth int) ([]Segment, error) {

	body, err := r.Fetcher.fetch(ctx, kindPlaylist, URL, r.maxRetries())

	if err != nil {
		return nil, err
	}

	pl, err := ParsePlaylist(body, BaseURL(URL))

	if err != nil {
		var merr *ManifestError
		if errors.As(err, &merr) {
			merr.URL = URL
		}
		return nil, err
	}

	r.Fetcher.Metrics.playlistResolved()

	if pl.Variant == "" {
		r.logger().Info("resolved playlist",
			zap.String("url", URL),
			zap.Int("segments", len(pl.Segments)),
			zap.Int("depth", depth),
		)
		return pl.Segments, nil
	}

	if depth >= r.maxDepth() {
		return nil, fmt.Errorf("%w: %s references %s", ErrVariantDepth, URL, pl.Variant)
	}

	r.logger().Debug("following variant playlist",
		zap.String("from", URL),
		zap.String("to", pl.Variant),
		zap.Int("depth", depth+1),
	)

	return r.resolve(ctx, pl.Variant, depth+1)
}

func (r *Resolver) maxRetries() int {
	if r.MaxRetries <= 0 {
		return DefaultRetries
	}
	return r.MaxRetries
}

func (r *Resolver) maxDepth() int {
	if r.MaxVariantDepth <= 0 {
		return DefaultMaxVariantDepth
	}
	return r.MaxVariantDepth
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// ParsePlaylist scans a manifest body. Relative references are resolved
// against base. Parsing stops at the first variant reference.
func ParsePlaylist(body []byte, base string) (Playlist, error) {

	const (
		pendingNone = iota
		pendingVariant
		pendingSegment
	)

	var (
		pl       Playlist
		lineNo   int
		pending  = pendingNone
		duration float64
	)

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {

		lineNo++
		line := strings.TrimSpace(scanner.Text())

		switch {

		case line == "":
			// A tag must be directly followed by its reference.
			pending = pendingNone

		case strings.HasPrefix(line, TagStreamInf):
			pending = pendingVariant

		case strings.HasPrefix(line, TagInf):
			d, err := parseDuration(line)
			if err != nil {
				return Playlist{}, &ManifestError{Line: lineNo, Text: line, Err: err}
			}
			duration = d
			pending = pendingSegment

		case strings.HasPrefix(line, "#"):
			// Other tags and comments.

		case pending == pendingVariant:
			return Playlist{Variant: resolveReference(base, line)}, nil

		case pending == pendingSegment:
			pl.Segments = append(pl.Segments, Segment{
				Duration: duration,
				URL:      resolveReference(base, line),
			})
			pending = pendingNone
		}
	}

	if err := scanner.Err(); err != nil {
		return Playlist{}, fmt.Errorf("parse playlist: %w", err)
	}

	return pl, nil
}

// parseDuration extracts the seconds between the EXTINF colon and the first comma.
func parseDuration(line string) (float64, error) {

	value := strings.TrimPrefix(line, TagInf)

	if comma := strings.IndexByte(value, ','); comma >= 0 {
		value = value[:comma]
	}

	value = strings.TrimSpace(value)

	if value == "" {
		return 0, errors.New("missing EXTINF duration")
	}

	seconds, err := strconv.ParseFloat(value, 64)

	if err != nil {
		return 0, fmt.Errorf("invalid EXTINF duration %q: %w", value, err)
	}

	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("invalid EXTINF duration %q", value)
	}

	return seconds, nil
}

// BaseURL returns URL without its last path component, keeping the
// trailing slash. Query and fragment are dropped.
func BaseURL(URL string) string {

	u, err := url.Parse(URL)

	if err != nil || u.Scheme == "" {
		return URL[:strings.LastIndex(URL, "/")+1]
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.RawPath = ""
	u.Path = u.Path[:strings.LastIndex(u.Path, "/")+1]

	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

func resolveReference(base, ref string) string {

	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}

	if strings.HasPrefix(ref, "/") {
		if b, err := url.Parse(base); err == nil && b.Host != "" {
			if strings.HasPrefix(ref, "//") {
				return b.Scheme + ":" + ref
			}
			return b.Scheme + "://" + b.Host + ref
		}
	}

	return base + ref
}
