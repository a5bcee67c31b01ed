package upload_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/zynqcloud/pictura/internal/apierr"
	"github.com/zynqcloud/pictura/internal/imagestore"
	"github.com/zynqcloud/pictura/internal/kv"
	"github.com/zynqcloud/pictura/internal/obslog"
	"github.com/zynqcloud/pictura/internal/upload"
	"github.com/zynqcloud/pictura/internal/validate"
)

func newTestManager(t *testing.T) (*upload.Manager, *kv.BoltStore, *imagestore.Store) {
	t.Helper()
	dataRoot := t.TempDir()

	store, err := kv.Open(dataRoot)
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fs, err := imagestore.New(dataRoot + "/images")
	if err != nil {
		t.Fatalf("imagestore.New: %v", err)
	}

	mgr := upload.New(store, fs, dataRoot+"/tmp", "", obslog.New(obslog.Config{}))
	return mgr, store, fs
}

func pngBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture png: %v", err)
	}
	return buf.Bytes()
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

var validAliasPattern = regexp.MustCompile(`^[A-Za-z0-9]{10,}\.png$`)

func TestUploadAliasMatchesLengthAndCharsetScenario(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	res, err := mgr.Upload(ctx, bytes.NewReader(pngBytes(t, 30)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !validAliasPattern.MatchString(res.Alias) {
		t.Errorf("alias %q does not match /^[A-Za-z0-9]{10,}\\.png$/", res.Alias)
	}
	if len(res.DeleteToken) != 10 {
		t.Errorf("delete token %q length = %d, want 10", res.DeleteToken, len(res.DeleteToken))
	}
}

func TestUploadThenDeleteRemovesEverything(t *testing.T) {
	mgr, store, fs := newTestManager(t)
	ctx := context.Background()

	res, err := mgr.Upload(ctx, bytes.NewReader(pngBytes(t, 10)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Alias == "" || res.DeleteToken == "" {
		t.Fatalf("Upload result missing alias/token: %+v", res)
	}

	if err := mgr.Delete(ctx, res.Alias, res.DeleteToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Index rows must be gone immediately (phase 1 is synchronous).
	if _, err := store.Get(kv.BucketAlias, []byte(res.Alias)); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("alias->hash row should be gone, got err=%v", err)
	}

	// Disk purge is asynchronous (phase 3); poll for it to land.
	waitUntil(t, 2*time.Second, func() bool {
		ok, _ := fs.Exists(".") // sanity: store still usable
		_ = ok
		var anyFile bool
		fs.Walk(".", func(string) error { anyFile = true; return nil }) //nolint:errcheck
		return !anyFile
	})
}

func TestDeleteWithWrongTokenLeavesAliasIntact(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	res, err := mgr.Upload(ctx, bytes.NewReader(pngBytes(t, 20)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	err = mgr.Delete(ctx, res.Alias, "wrong-token")
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindInvalidToken {
		t.Fatalf("Delete with wrong token = %v, want KindInvalidToken", err)
	}

	// The aborted transaction must not have removed anything: a retry with
	// the correct token should still succeed.
	if err := mgr.Delete(ctx, res.Alias, res.DeleteToken); err != nil {
		t.Fatalf("Delete with correct token after failed attempt: %v", err)
	}
}

func TestDeleteReplayIsMissingAlias(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	res, err := mgr.Upload(ctx, bytes.NewReader(pngBytes(t, 30)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := mgr.Delete(ctx, res.Alias, res.DeleteToken); err != nil {
		t.Fatalf("first Delete: %v", err)
	}

	err = mgr.Delete(ctx, res.Alias, res.DeleteToken)
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindMissingAlias {
		t.Fatalf("replayed Delete = %v, want KindMissingAlias", err)
	}
}

func TestDeleteReferenceCounting(t *testing.T) {
	mgr, _, fs := newTestManager(t)
	ctx := context.Background()

	payload := pngBytes(t, 40)
	a, err := mgr.Import(ctx, "alias-one.png", "image/png", true, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Import a: %v", err)
	}
	b, err := mgr.Import(ctx, "alias-two.png", "image/png", true, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Import b: %v", err)
	}
	if a.Alias == b.Alias {
		t.Fatal("distinct caller aliases for the same content should remain distinct")
	}

	if err := mgr.Delete(ctx, a.Alias, a.DeleteToken); err != nil {
		t.Fatalf("Delete a: %v", err)
	}

	// b still references the content: the underlying file must survive.
	time.Sleep(50 * time.Millisecond)
	var filesAfterFirstDelete int
	fs.Walk(".", func(string) error { filesAfterFirstDelete++; return nil }) //nolint:errcheck
	if filesAfterFirstDelete == 0 {
		t.Fatal("file was purged while another alias still references it")
	}

	if err := mgr.Delete(ctx, b.Alias, b.DeleteToken); err != nil {
		t.Fatalf("Delete b: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		var n int
		fs.Walk(".", func(string) error { n++; return nil }) //nolint:errcheck
		return n == 0
	})
}

func TestImportReplaySameContentIsDuplicateAlias(t *testing.T) {
	// Per spec.md §8 scenario 3: re-importing the same alias, even with
	// identical bytes, is rejected — import has no idempotent-reimport
	// carve-out the way upload's content-based dedup does.
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	payload := pngBytes(t, 50)

	if _, err := mgr.Import(ctx, "stable-name.png", "image/png", true, bytes.NewReader(payload)); err != nil {
		t.Fatalf("first Import: %v", err)
	}

	_, err := mgr.Import(ctx, "stable-name.png", "image/png", true, bytes.NewReader(payload))
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindDuplicateAlias {
		t.Fatalf("second Import with the same alias = %v, want KindDuplicateAlias", err)
	}
}

func TestImportDuplicateAliasDifferentContentRejected(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Import(ctx, "taken.png", "image/png", true, bytes.NewReader(pngBytes(t, 60))); err != nil {
		t.Fatalf("first Import: %v", err)
	}

	_, err := mgr.Import(ctx, "taken.png", "image/png", true, bytes.NewReader(pngBytes(t, 61)))
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindDuplicateAlias {
		t.Fatalf("Import onto a taken alias with different content = %v, want KindDuplicateAlias", err)
	}
}

func TestUploadDedupSharesStoredFile(t *testing.T) {
	mgr, _, fs := newTestManager(t)
	ctx := context.Background()
	payload := pngBytes(t, 70)

	first, err := mgr.Upload(ctx, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	second, err := mgr.Upload(ctx, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if first.Alias == second.Alias {
		t.Fatal("two Upload calls should generate distinct random aliases even for identical content")
	}

	var fileCount int
	fs.Walk(".", func(string) error { fileCount++; return nil }) //nolint:errcheck
	if fileCount != 1 {
		t.Errorf("stored file count = %d, want 1 (content should be deduplicated)", fileCount)
	}
}

func TestUploadRejectsGarbage(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Upload(context.Background(), strings.NewReader("not an image"))
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindUnsupportedFormat {
		t.Fatalf("Upload(garbage) = %v, want KindUnsupportedFormat", err)
	}
}

func TestImportSkipValidateTrustsContentType(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	res, err := mgr.Import(context.Background(), "trusted.png", "image/png", false, strings.NewReader("not actually a png"))
	if err != nil {
		t.Fatalf("Import with validation skipped should accept untrusted bytes: %v", err)
	}
	if res.ContentType != validate.FormatPNG.ContentType() {
		t.Errorf("ContentType = %q, want %q", res.ContentType, validate.FormatPNG.ContentType())
	}
}
