// Package imagestore owns the image directory on the local filesystem:
// create-dir, metadata, atomic create/move, streaming read/write,
// remove-file, and recursive walk, plus the safe-save/safe-move helpers the
// upload pipeline and variant engine build on.
//
// Cross-platform notes (carried over from the teacher's store.Local):
//   - Uses filepath (not path) throughout so the OS separator is always correct.
//   - os.Rename is used for atomic writes/moves. On Windows it calls
//     MoveFileExW with MOVEFILE_REPLACE_EXISTING, which is safe on the same
//     volume; Adopt falls back to copy-then-remove for cross-device moves.
package imagestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store roots every operation at a fixed image directory.
type Store struct {
	root string
}

// New creates a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("imagestore: create root %q: %w", root, err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("imagestore: resolve root: %w", err)
	}
	return &Store{root: absRoot}, nil
}

// Root returns the absolute image directory.
func (s *Store) Root() string { return s.root }

// DiskStats reports available and total bytes on the filesystem backing the
// store, used by the readiness probe's low-disk-space check.
func (s *Store) DiskStats() (avail, total uint64) { return diskStats(s.root) }

// Abs resolves a logical path under the store to a concrete filesystem path,
// rejecting anything that would escape root.
func (s *Store) Abs(path string) (string, error) {
	joined := filepath.Join(s.root, filepath.Clean(filepath.FromSlash(path)))
	rel, err := filepath.Rel(s.root, joined)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("imagestore: path %q escapes root", path)
	}
	return joined, nil
}

// MkdirAll creates path and all parents under root.
func (s *Store) MkdirAll(path string) error {
	abs, err := s.Abs(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o750)
}

// Exists reports whether path exists under root. Only fs.ErrNotExist is
// treated as absence; every other stat error is surfaced, per spec.md §9's
// open-question decision.
func (s *Store) Exists(path string) (bool, error) {
	abs, err := s.Abs(path)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(abs)
	if statErr == nil {
		return true, nil
	}
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return false, statErr
}

// Create opens path for a fresh write, creating parent directories. Fails
// if the file already exists — callers that want "succeed if already
// present" semantics should use SafeSave instead.
func (s *Store) Create(path string) (*os.File, error) {
	abs, err := s.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return nil, fmt.Errorf("imagestore: mkdir %q: %w", filepath.Dir(abs), err)
	}
	return os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
}

// WriteStream streams r to path via a temp-file-then-rename, guaranteeing
// the destination either ends up fully written or not written at all.
func (s *Store) WriteStream(path string, r io.Reader) (int64, error) {
	abs, err := s.Abs(path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return 0, fmt.Errorf("imagestore: mkdir %q: %w", filepath.Dir(abs), err)
	}

	tmp := abs + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("imagestore: open tmp %q: %w", tmp, err)
	}

	n, werr := io.Copy(f, r)
	cerr := f.Close()
	if werr != nil {
		os.Remove(tmp) //nolint:errcheck
		return 0, fmt.Errorf("imagestore: stream write: %w", werr)
	}
	if cerr != nil {
		os.Remove(tmp) //nolint:errcheck
		return 0, fmt.Errorf("imagestore: flush: %w", cerr)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return 0, fmt.Errorf("imagestore: rename to %q: %w", abs, err)
	}
	return n, nil
}

// ReadStream opens path for sequential reading. Caller must close the
// returned ReadCloser.
func (s *Store) ReadStream(path string) (io.ReadCloser, int64, error) {
	abs, err := s.Abs(path)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// ReadFile reads path fully into memory. Used only for small operator-chain
// inputs where streaming would not simplify anything (the Variant Engine
// decodes the whole image regardless).
func (s *Store) ReadFile(path string) ([]byte, error) {
	abs, err := s.Abs(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Remove deletes path. Silently succeeds if it does not exist.
func (s *Store) Remove(path string) error {
	abs, err := s.Abs(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Move renames src to dst atomically where the OS allows, creating dst's
// parent directory if needed. Fails if dst already exists.
func (s *Store) Move(src, dst string) error {
	absSrc, err := s.Abs(src)
	if err != nil {
		return err
	}
	absDst, err := s.Abs(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o750); err != nil {
		return err
	}
	if _, err := os.Stat(absDst); err == nil {
		return fmt.Errorf("imagestore: move: %q already exists", dst)
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.Rename(absSrc, absDst)
}

// Adopt moves an arbitrary external file (e.g. a process-scoped tmp file
// outside the store's root) into dst. Falls back to copy-then-remove when
// the rename fails because src and the store live on different devices.
// Fails if dst already exists.
func (s *Store) Adopt(srcAbsPath, dst string) error {
	absDst, err := s.Abs(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o750); err != nil {
		return err
	}
	if _, err := os.Stat(absDst); err == nil {
		return fmt.Errorf("imagestore: adopt: %q already exists", dst)
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.Rename(srcAbsPath, absDst); err == nil {
		return nil
	}

	src, err := os.Open(srcAbsPath)
	if err != nil {
		return fmt.Errorf("imagestore: adopt: open source: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(absDst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("imagestore: adopt: create destination: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(absDst) //nolint:errcheck
		return fmt.Errorf("imagestore: adopt: copy: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(absDst) //nolint:errcheck
		return fmt.Errorf("imagestore: adopt: flush: %w", err)
	}
	os.Remove(srcAbsPath) //nolint:errcheck
	return nil
}

// Walk recursively visits every regular file under path (relative to root),
// calling fn with the path relative to root.
func (s *Store) Walk(path string, fn func(relPath string) error) error {
	abs, err := s.Abs(path)
	if err != nil {
		return err
	}
	return filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return relErr
		}
		return fn(filepath.ToSlash(rel))
	})
}
