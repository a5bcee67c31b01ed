package upload

import (
	"context"
	"crypto/sha256"

	"github.com/zynqcloud/pictura/internal/kv"
)

// SweepOrphans implements the startup purge sweep spec.md §9 allows
// implementers to add: it scans the default keyspace's hash->filename rows
// for any hash with no remaining alias rows and re-runs the delete
// protocol's phase 3 for each, reclaiming files orphaned by a crash after a
// delete's index phase committed but before its purge ran (or by a purge
// that itself died mid-sweep on a previous run).
func (m *Manager) SweepOrphans(ctx context.Context) error {
	var orphans [][]byte

	err := m.kv.Scan(kv.BucketDefault, nil, nil, func(key, _ []byte) error {
		if len(key) != sha256.Size {
			// Alias rows (hash‖0x00‖id) and variant rows (hash‖0x02‖path)
			// are longer than a bare hash key; only bare-hash rows are
			// hash->filename entries.
			return nil
		}
		hash := append([]byte{}, key...)
		remaining, err := m.hashHasOtherAliases(hash)
		if err != nil {
			return err
		}
		if !remaining {
			orphans = append(orphans, hash)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, hash := range orphans {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		m.purge(hash)
	}

	if len(orphans) > 0 {
		m.log.Info().Int("count", len(orphans)).Msg("sweep: purged orphaned hashes")
	}
	return nil
}
