package imagestore_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zynqcloud/pictura/internal/imagestore"
)

func newTestStore(t *testing.T) *imagestore.Store {
	t.Helper()
	s, err := imagestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriteStreamAndReadStream(t *testing.T) {
	s := newTestStore(t)
	want := []byte("hello, image repository")

	n, err := s.WriteStream("hash/ab/cd/file.jpg", bytes.NewReader(want))
	if err != nil {
		t.Fatalf("WriteStream: %v", err)
	}
	if n != int64(len(want)) {
		t.Errorf("WriteStream n = %d, want %d", n, len(want))
	}

	rc, size, err := s.ReadStream("hash/ab/cd/file.jpg")
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, want) {
		t.Errorf("content mismatch: got %q, want %q", got, want)
	}
	if size != int64(len(want)) {
		t.Errorf("size = %d, want %d", size, len(want))
	}
}

func TestWriteStreamOverwritesAtomically(t *testing.T) {
	s := newTestStore(t)
	s.WriteStream("f", strings.NewReader("first"))  //nolint:errcheck
	s.WriteStream("f", strings.NewReader("second")) //nolint:errcheck

	rc, _, _ := s.ReadStream("f")
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "second" {
		t.Errorf("got %q, want %q", got, "second")
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	s.WriteStream("gone", strings.NewReader("x")) //nolint:errcheck

	if err := s.Remove("gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	ok, err := s.Exists("gone")
	if err != nil || ok {
		t.Errorf("Exists after Remove = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRemoveNonExistentIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	if err := s.Remove("ghost"); err != nil {
		t.Fatalf("Remove(ghost) = %v, want nil", err)
	}
}

func TestExists(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Exists("missing")
	if err != nil || ok {
		t.Errorf("Exists(missing) = (%v, %v), want (false, nil)", ok, err)
	}
	s.WriteStream("present", strings.NewReader("x")) //nolint:errcheck
	ok, err = s.Exists("present")
	if err != nil || !ok {
		t.Errorf("Exists(present) = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestMove(t *testing.T) {
	s := newTestStore(t)
	s.WriteStream("src", strings.NewReader("payload")) //nolint:errcheck

	if err := s.Move("src", "dst/dst.bin"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	ok, _ := s.Exists("src")
	if ok {
		t.Error("source still exists after Move")
	}
	ok, _ = s.Exists("dst/dst.bin")
	if !ok {
		t.Error("destination does not exist after Move")
	}
}

func TestMoveFailsIfDestinationExists(t *testing.T) {
	s := newTestStore(t)
	s.WriteStream("src", strings.NewReader("a")) //nolint:errcheck
	s.WriteStream("dst", strings.NewReader("b")) //nolint:errcheck

	if err := s.Move("src", "dst"); err == nil {
		t.Error("Move onto an existing destination should fail")
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := newTestStore(t)
	traversals := []string{
		"../escape",
		"../../etc/passwd",
		"hash/../../escape",
	}
	for _, p := range traversals {
		if _, err := s.WriteStream(p, strings.NewReader("x")); err == nil {
			t.Errorf("WriteStream(%q): expected traversal error, got nil", p)
		}
	}
}

func TestNewCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "new", "nested", "root")
	_, err := imagestore.New(root)
	if err != nil {
		t.Fatalf("New with missing root: %v", err)
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		t.Error("root directory was not created")
	}
}

func TestWalkVisitsAllFiles(t *testing.T) {
	s := newTestStore(t)
	s.WriteStream("a/1.jpg", strings.NewReader("x")) //nolint:errcheck
	s.WriteStream("a/b/2.jpg", strings.NewReader("x")) //nolint:errcheck
	s.WriteStream("c/3.jpg", strings.NewReader("x")) //nolint:errcheck

	var seen []string
	err := s.Walk(".", func(rel string) error {
		seen = append(seen, rel)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(seen) != 3 {
		t.Errorf("Walk visited %d files, want 3: %v", len(seen), seen)
	}
}

func TestSafeSaveFileIsNoOpIfPresent(t *testing.T) {
	s := newTestStore(t)
	if err := imagestore.SafeSaveFile(s, "f", []byte("first")); err != nil {
		t.Fatalf("SafeSaveFile: %v", err)
	}
	if err := imagestore.SafeSaveFile(s, "f", []byte("second")); err != nil {
		t.Fatalf("second SafeSaveFile should succeed as no-op: %v", err)
	}
	data, _ := s.ReadFile("f")
	if string(data) != "first" {
		t.Errorf("content = %q, want %q (no-op on existing file)", data, "first")
	}
}

func TestSafeMoveFileTolerantOfMissingSource(t *testing.T) {
	s := newTestStore(t)
	s.WriteStream("dst", strings.NewReader("already-there")) //nolint:errcheck

	// Source absent, destination already present: treated as success, since
	// a concurrent variant materialization may have already completed the move.
	if err := imagestore.SafeMoveFile(s, "missing-src", "dst"); err != nil {
		t.Fatalf("SafeMoveFile with existing destination: %v", err)
	}
}
