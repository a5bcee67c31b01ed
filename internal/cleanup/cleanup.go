// Package cleanup reclaims disk space from tmp files left behind by an
// ingest that crashed between streaming to a tmp file and winning its
// hash/alias CAS races (spec.md §9's "implementers may add a startup
// sweep" note).
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// TmpFiles scans tmpDir and removes regular files whose mtime predates
// ttl. Safe to run concurrently with active ingests: an in-progress upload
// is still being written to, so its mtime stays recent and it is left
// alone.
func TmpFiles(tmpDir string, ttl time.Duration, log zerolog.Logger) {
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", tmpDir).Msg("cleanup: readdir failed")
		}
		return
	}

	cutoff := time.Now().Add(-ttl)
	var removed int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(tmpDir, e.Name())
			if err := os.Remove(path); err != nil {
				log.Warn().Err(err).Str("file", e.Name()).Msg("cleanup: remove failed")
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("cleanup: tmp sweep complete")
	}
}

// RunPeriodic starts a background goroutine that calls TmpFiles on every
// interval until ctx is cancelled, and returns a channel closed once the
// goroutine has returned so callers can wait for the in-flight pass to
// finish during shutdown. A first pass runs immediately to flush tmp files
// left over from a previous crash or restart.
func RunPeriodic(ctx context.Context, tmpDir string, ttl, interval time.Duration, log zerolog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		TmpFiles(tmpDir, ttl, log)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				TmpFiles(tmpDir, ttl, log)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}
