package hlsgot

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPlaylist is returned when a manifest resolves to zero segments.
	ErrEmptyPlaylist = errors.New("playlist has no segments")

	// ErrVariantDepth is returned when variant playlists nest deeper than MaxVariantDepth.
	ErrVariantDepth = errors.New("variant playlist nesting too deep")

	// ErrStreamConsumed is returned when the units of a download are iterated twice.
	ErrStreamConsumed = errors.New("stream already consumed")
)

// NetworkError is returned once a fetch has used all of its attempts.
type NetworkError struct {
	URL      string
	Attempts int

	// Last attempt failure.
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: giving up after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusError is the failure of an attempt that got a non 2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Response status code is not ok: %s", e.Status)
}

// ManifestError reports a playlist line that could not be parsed.
type ManifestError struct {
	URL  string
	Line int
	Text string
	Err  error
}

func (e *ManifestError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("manifest line %d %q: %v", e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("manifest %s line %d %q: %v", e.URL, e.Line, e.Text, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}
