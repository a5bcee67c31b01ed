// Package hashsum streams image bytes to a temporary file while computing
// their SHA-256 digest, the same hash-while-you-write idiom the teacher's
// content-addressable store uses, decoupled here from the store-commit step
// so the upload pipeline can validate/canonicalize before anything is
// addressed by hash.
package hashsum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Result describes a fully-streamed, hashed payload sitting in a temp file.
type Result struct {
	Hash string // hex-encoded SHA-256
	Size int64
	Path string // absolute path to the temp file holding the bytes
}

// bufSize matches the teacher's CAS.Put buffer size, chosen for consistent
// syscall overhead on typical image payload sizes.
const bufSize = 512 * 1024

// StreamToTemp copies r into a new temp file under dir while hashing it. The
// copy stops at the first read or write error; the temp file is then removed
// and the rest of r is left unread.
func StreamToTemp(dir string, r io.Reader) (Result, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("hashsum: mkdir tmp dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return Result{}, fmt.Errorf("hashsum: create tmp: %w", err)
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	buf := make([]byte, bufSize)
	n, werr := io.CopyBuffer(tmp, io.TeeReader(r, hasher), buf)
	cerr := tmp.Close()

	if werr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return Result{}, fmt.Errorf("hashsum: stream: %w", werr)
	}
	if cerr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return Result{}, fmt.Errorf("hashsum: flush: %w", cerr)
	}

	return Result{
		Hash: hex.EncodeToString(hasher.Sum(nil)),
		Size: n,
		Path: tmpPath,
	}, nil
}

// HashFile computes the SHA-256 digest of an existing file without copying
// it anywhere, used to re-hash a tmp file after validate.Canonicalize has
// rewritten it in place.
func HashFile(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("hashsum: open: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return Result{}, fmt.Errorf("hashsum: hash: %w", err)
	}
	return Result{
		Hash: hex.EncodeToString(hasher.Sum(nil)),
		Size: n,
		Path: path,
	}, nil
}

// ShardedPath splits a hex-encoded SHA-256 digest into a two-level
// directory path ({hash[0:2]}/{hash[2:4]}/{hash}), matching the teacher's
// blob-path convention. The image store does not use it: stored originals
// sit directly under the image directory with random filenames.
func ShardedPath(hash string) string {
	if len(hash) < 4 {
		return hash
	}
	return hash[0:2] + "/" + hash[2:4] + "/" + hash
}

// Valid reports whether s is exactly 64 lowercase hex digits.
func Valid(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
