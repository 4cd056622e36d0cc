// Package firmware fetches update images from where releases are published.
package firmware

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotFound is returned when the requested image does not exist.
var ErrNotFound = errors.New("firmware image not found")

// Source opens an update image by reference. The caller closes the reader.
type Source interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// HTTPSource downloads images by URL, typically a presigned object URL.
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource returns a source using client, or a default client with a
// generous timeout when client is nil.
func NewHTTPSource(client *http.Client, insecureSkipVerify bool) *HTTPSource {
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Minute,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify},
			},
		}
	}
	return &HTTPSource{client: client}
}

func (s *HTTPSource) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("server returned status: %s", resp.Status)
	}
	return resp.Body, nil
}
