package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HTTPRangeReader reads a remote file with HTTP range requests. ReadAt is
// stateless and safe for concurrent use, each call is one request.
type HTTPRangeReader struct {
	ctx    context.Context
	url    string
	client *http.Client
	size   int64
}

// NewHTTPRangeReader checks with a HEAD request that url supports byte
// ranges and records its size. Requests are bound to ctx.
func NewHTTPRangeReader(ctx context.Context, url string, client *http.Client) (*HTTPRangeReader, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create head request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http head request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status for http head request: %s", resp.Status)
	}

	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return nil, errors.New("server does not accept byte range requests")
	}

	size := resp.ContentLength
	if size <= 0 {
		return nil, fmt.Errorf("could not determine content length or file is empty")
	}

	return &HTTPRangeReader{
		ctx:    ctx,
		url:    url,
		client: client,
		size:   size,
	}, nil
}

func (h *HTTPRangeReader) Size() int64  { return h.size }
func (h *HTTPRangeReader) Close() error { return nil }

// ReadAt fetches len(p) bytes at off, fewer with io.EOF at the end of the
// file.
func (h *HTTPRangeReader) ReadAt(p []byte, off int64) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("http.readAt: invalid offset %d", off)
	}
	if off >= h.size {
		return 0, io.EOF
	}

	bytesToRead := int64(len(p))
	if off+bytesToRead > h.size {
		bytesToRead = h.size - off
	}

	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, err
	}

	rangeEnd := off + bytesToRead - 1
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, rangeEnd))

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("expected status 206 Partial Content, got: %s", resp.Status)
	}

	n, err = io.ReadFull(resp.Body, p[:bytesToRead])
	if err == nil && bytesToRead < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}
