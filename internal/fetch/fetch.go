// Package fetch implements the remote-URL ingest path's HTTP GET: an
// external collaborator per spec.md §1, kept deliberately thin since
// routing, multipart parsing, and this outbound fetch are all named as out
// of the core's scope.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/zynqcloud/pictura/internal/apierr"
)

// DefaultTimeout bounds the whole request (connect + headers + body), so a
// slow or stalled remote never pins an ingest goroutine indefinitely.
const DefaultTimeout = 30 * time.Second

// Result is a fetched remote body plus its declared content type. The size
// cap applied to uploads generally (MAX_UPLOAD_MB) is enforced by the
// caller wrapping Body, not here — this package only knows how to fetch.
type Result struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64 // -1 if the server did not send Content-Length
}

// Get issues an HTTP(S) GET for rawURL. Callers must Close the returned
// Result.Body.
func Get(ctx context.Context, rawURL string) (Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Result{}, apierr.New(apierr.KindDownload, "invalid or unsupported url")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return Result{}, apierr.Wrap(apierr.KindDownload, "failed to build request", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return Result{}, apierr.Wrap(apierr.KindDownload, "failed to fetch remote url", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return Result{}, apierr.New(apierr.KindDownload, fmt.Sprintf("remote returned status %d", resp.StatusCode))
	}

	body := &cancelReadCloser{r: resp.Body, rc: resp.Body, cancel: cancel}
	return Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

// cancelReadCloser ties the request's cancel func to the body's lifetime so
// the DefaultTimeout context is released exactly once the caller is done
// reading, rather than leaking until the timeout itself fires.
type cancelReadCloser struct {
	r      io.Reader
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Read(p []byte) (int, error) { return c.r.Read(p) }

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.rc.Close()
}
