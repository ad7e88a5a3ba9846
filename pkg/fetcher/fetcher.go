// Package fetcher retrieves the upstream metadata an extension or a
// scripted importer needs (a registry JSON document, an HTML index
// page) over HTTP. Adapted from the teacher's pkg/downloader
// scheme-handler design, narrowed to the one scheme bimport's
// ecosystem scripts actually call out to.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

// Fetcher retrieves the bytes at uri.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

type httpFetcher struct {
	client *http.Client
}

// NewHTTP returns a Fetcher backed by net/http with a 30s timeout,
// matching the teacher's NewHTTPHandler default.
func NewHTTP() Fetcher {
	return &httpFetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

func (h *httpFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %s", uri, resp.Status)
	}

	start := time.Now()
	var buf bytes.Buffer
	n, err := io.Copy(&buf, resp.Body)
	if err != nil {
		return nil, err
	}
	slog.Debug("fetched", "uri", uri, "size", humanize.Bytes(uint64(n)), "elapsed", time.Since(start).Round(time.Millisecond))
	return buf.Bytes(), nil
}
