package hlsgot

import (
	"context"
	"net/http"
)

// GotHeader is a request header sent with every playlist and segment request.
type GotHeader struct {
	Key   string
	Value string
}

// NewRequest returns a new http.Request with the given headers set.
func NewRequest(ctx context.Context, method, URL string, header []GotHeader) (*http.Request, error) {

	req, err := http.NewRequestWithContext(ctx, method, URL, nil)

	if err != nil {
		return nil, err
	}

	for _, h := range header {
		req.Header.Set(h.Key, h.Value)
	}

	return req, nil
}
