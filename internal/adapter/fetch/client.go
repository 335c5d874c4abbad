// Package fetch transfers remote source files over HTTP into the staging area.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/lake-forcing-etl/internal/observability"
)

// StatusError reports a non-success HTTP status from a remote source.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// IsNotFound reports whether err is a 404 from a remote source.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// ByteRange is an inclusive byte span. End < 0 means "to the end of the file".
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) header() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Client downloads files one at a time, recording transfer metrics per source.
type Client struct {
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a download client. timeout bounds each individual transfer.
func NewClient(timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Get returns the full body of a small remote file such as a GRIB index.
func (c *Client) Get(ctx context.Context, source, url string) ([]byte, error) {
	start := time.Now()
	resp, err := c.do(ctx, url, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	c.observe(source, int64(len(body)), start)
	return body, nil
}

// Download writes the remote file to dst.
func (c *Client) Download(ctx context.Context, source, url, dst string) (int64, error) {
	return c.toFile(dst, func(w io.Writer) (int64, error) {
		return c.copy(ctx, source, url, "", w, false)
	})
}

// DownloadGzip writes the decompressed contents of a remote .gz file to dst.
func (c *Client) DownloadGzip(ctx context.Context, source, url, dst string) (int64, error) {
	return c.toFile(dst, func(w io.Writer) (int64, error) {
		return c.copy(ctx, source, url, "", w, true)
	})
}

// DownloadRanges concatenates the requested byte spans of the remote file into
// dst. Spans are fetched sequentially in the order given.
func (c *Client) DownloadRanges(ctx context.Context, source, url string, ranges []ByteRange, dst string) (int64, error) {
	if len(ranges) == 0 {
		return 0, errors.New("no byte ranges requested")
	}
	return c.toFile(dst, func(w io.Writer) (int64, error) {
		var total int64
		for _, r := range ranges {
			n, err := c.copy(ctx, source, url, r.header(), w, false)
			total += n
			if err != nil {
				return total, err
			}
		}
		return total, nil
	})
}

func (c *Client) copy(ctx context.Context, source, url, rangeHeader string, w io.Writer, gz bool) (int64, error) {
	start := time.Now()
	resp, err := c.do(ctx, url, rangeHeader)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	want := http.StatusOK
	if rangeHeader != "" {
		want = http.StatusPartialContent
	}
	if resp.StatusCode != want {
		return 0, &StatusError{URL: url, Code: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if gz {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return 0, fmt.Errorf("open gzip %s: %w", url, err)
		}
		defer zr.Close()
		body = zr
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", url, err)
	}
	c.observe(source, n, start)
	c.logger.Debug("downloaded", "source", source, "url", url, "range", rangeHeader, "bytes", n)
	return n, nil
}

func (c *Client) do(ctx context.Context, url, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	return resp, nil
}

func (c *Client) observe(source string, n int64, start time.Time) {
	c.metrics.DownloadBytes.WithLabelValues(source).Add(float64(n))
	c.metrics.DownloadDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// toFile runs write against a temporary sibling of dst and renames it into
// place on success. No partial file is left behind on failure.
func (c *Client) toFile(dst string, write func(io.Writer) (int64, error)) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := write(tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", tmp.Name(), cerr)
	}
	if err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		return n, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		return n, fmt.Errorf("rename into place: %w", err)
	}
	return n, nil
}
