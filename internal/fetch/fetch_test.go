package fetch_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zynqcloud/pictura/internal/apierr"
	"github.com/zynqcloud/pictura/internal/fetch"
)

func TestGetReturnsBodyAndContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-png-bytes")) //nolint:errcheck
	}))
	defer srv.Close()

	res, err := fetch.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "fake-png-bytes" {
		t.Errorf("body = %q", data)
	}
	if res.ContentType != "image/png" {
		t.Errorf("ContentType = %q", res.ContentType)
	}
}

func TestGetNonOKStatusIsDownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fetch.Get(context.Background(), srv.URL)
	assertKind(t, err, apierr.KindDownload)
}

func TestGetInvalidURLIsDownloadError(t *testing.T) {
	_, err := fetch.Get(context.Background(), "not-a-url")
	assertKind(t, err, apierr.KindDownload)

	_, err = fetch.Get(context.Background(), "ftp://example.com/image.png")
	assertKind(t, err, apierr.KindDownload)
}

func assertKind(t *testing.T, err error, want apierr.Kind) {
	t.Helper()
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != want {
		t.Fatalf("error = %v, want Kind %v", err, want)
	}
}
