package imagestore

import (
	"bytes"
	"io"
	"os"
)

// SafeSaveFile writes data to path only if path does not already exist.
// An already-present file is treated as success rather than an error: two
// concurrent uploads that hash to the same content are both allowed to
// "win" the save race, matching the dedup tolerance described in spec.md
// §5 for the underlying hash-addressed file.
func SafeSaveFile(s *Store, path string, data []byte) error {
	ok, err := s.Exists(path)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = s.WriteStream(path, bytes.NewReader(data))
	if err != nil {
		// Another writer may have raced us to the same path between the
		// Exists check and here; re-check rather than surfacing a spurious
		// error for an outcome that is actually fine.
		if ok2, existsErr := s.Exists(path); existsErr == nil && ok2 {
			return nil
		}
		return err
	}
	return nil
}

// SafeSaveStream is the streaming counterpart of SafeSaveFile: it copies r
// to path only if path does not already exist, without buffering the full
// body in memory.
func SafeSaveStream(s *Store, path string, r io.Reader) (int64, error) {
	ok, err := s.Exists(path)
	if err != nil {
		return 0, err
	}
	if ok {
		// Drain r so callers piping from a live request body don't stall
		// the other end of the pipe.
		n, _ := io.Copy(io.Discard, r)
		return n, nil
	}
	n, err := s.WriteStream(path, r)
	if err != nil {
		if ok2, existsErr := s.Exists(path); existsErr == nil && ok2 {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

// SafeMoveFile moves src to dst, tolerating two benign races: dst already
// existing (another goroutine materialized the same variant first) and src
// already gone (another goroutine already moved it). Both are reported as
// success rather than error, mirroring the orphan-tolerant registration the
// Variant Engine performs outside of any transaction.
func SafeMoveFile(s *Store, src, dst string) error {
	dstExists, err := s.Exists(dst)
	if err != nil {
		return err
	}
	if dstExists {
		s.Remove(src) //nolint:errcheck
		return nil
	}

	if err := s.Move(src, dst); err != nil {
		srcExists, existsErr := s.Exists(src)
		if existsErr == nil && !srcExists {
			// src vanished between our check and the rename attempt — the
			// other racer already finished the move.
			if ok, _ := s.Exists(dst); ok {
				return nil
			}
		}
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}
