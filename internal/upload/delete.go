package upload

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/zynqcloud/pictura/internal/apierr"
	"github.com/zynqcloud/pictura/internal/kv"
	"github.com/zynqcloud/pictura/internal/obslog"
)

// Delete implements spec.md §4.4's delete(alias, token) protocol: an atomic
// index teardown (phase 1), a reference-count check (phase 2), and an
// asynchronous, best-effort disk purge (phase 3) that must not block the
// caller's response.
func (m *Manager) Delete(ctx context.Context, alias, token string) error {
	hash, err := m.deleteIndexRows(alias, token)
	if err != nil {
		return err
	}

	remaining, err := m.hashHasOtherAliases(hash)
	if err != nil {
		// The index mutation already committed; a refcount-check failure
		// only prevents the best-effort purge, so it is logged, not
		// returned to the caller.
		m.log.Error().Err(err).Str(obslog.FieldHash, hashHex(hash)).Msg("refcount scan failed after delete")
		return nil
	}
	if remaining {
		return nil
	}

	go m.purge(hash)
	return nil
}

// deleteIndexRows runs phase 1: remove the four index rows spanning the
// default and alias keyspaces inside one atomic transaction, returning the
// hash that was bound to alias.
func (m *Manager) deleteIndexRows(alias, token string) (hash []byte, err error) {
	result, err := m.kv.Update(func(txn kv.Txn) (any, error) {
		storedToken, getErr := txn.Get(kv.BucketAlias, kv.AliasDeleteKey(alias))
		if getErr != nil {
			if errors.Is(getErr, kv.ErrNotFound) {
				return nil, apierr.New(apierr.KindMissingAlias, "alias not found")
			}
			return nil, getErr
		}
		if err := txn.Delete(kv.BucketAlias, kv.AliasDeleteKey(alias)); err != nil {
			return nil, err
		}

		if !bytes.Equal(storedToken, []byte(token)) {
			return nil, apierr.New(apierr.KindInvalidToken, "delete token does not match")
		}

		idBytes, getErr := txn.Get(kv.BucketAlias, kv.AliasIDKey(alias))
		if getErr != nil {
			if errors.Is(getErr, kv.ErrNotFound) {
				return nil, apierr.New(apierr.KindMissingAlias, "alias not found")
			}
			return nil, getErr
		}
		if err := txn.Delete(kv.BucketAlias, kv.AliasIDKey(alias)); err != nil {
			return nil, err
		}

		aliasHash, getErr := txn.Get(kv.BucketAlias, []byte(alias))
		if getErr != nil {
			if errors.Is(getErr, kv.ErrNotFound) {
				return nil, apierr.New(apierr.KindMissingAlias, "alias not found")
			}
			return nil, getErr
		}
		if err := txn.Delete(kv.BucketAlias, []byte(alias)); err != nil {
			return nil, err
		}

		id := binary.BigEndian.Uint64(idBytes)
		if err := txn.Delete(kv.BucketDefault, kv.AliasRowKey(aliasHash, id)); err != nil {
			return nil, err
		}

		return append([]byte{}, aliasHash...), nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// hashHasOtherAliases implements phase 2: scan the default keyspace for
// any remaining alias row bound to hash.
func (m *Manager) hashHasOtherAliases(hash []byte) (bool, error) {
	lower, upper := kv.AliasRowBounds(hash)
	found := false
	err := m.kv.Scan(kv.BucketDefault, lower, upper, func(_, _ []byte) error {
		found = true
		return nil
	})
	return found, err
}

// purge implements phase 3: the asynchronous, best-effort removal of the
// original file and every materialized variant. Runs detached from the
// request and takes no request context, so a client disconnect never
// truncates cleanup.
func (m *Manager) purge(hash []byte) {
	logger := m.log.With().Str(obslog.FieldHash, hashHex(hash)).Logger()

	filenameVal, err := m.kv.Get(kv.BucketDefault, hash)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			logger.Error().Err(err).Msg("purge: failed to read hash->filename row")
		} else {
			logger.Warn().Msg("purge: hash->filename row already missing")
		}
		return
	}
	if err := m.kv.Delete(kv.BucketDefault, hash); err != nil {
		logger.Error().Err(err).Msg("purge: failed to remove hash->filename row")
	}
	filename := string(filenameVal)

	if err := m.fs.Remove(filename); err != nil {
		logger.Error().Err(err).Str(obslog.FieldFilename, filename).Msg("purge: failed to remove image file")
	}

	if err := m.kv.Delete(kv.BucketFilename, filenameVal); err != nil {
		logger.Error().Err(err).Msg("purge: failed to remove filename->hash row")
	}

	lower, upper := kv.VariantRowBounds(hash)
	var variantPaths []string
	if err := m.kv.Scan(kv.BucketDefault, lower, upper, func(_, v []byte) error {
		variantPaths = append(variantPaths, string(v))
		return nil
	}); err != nil {
		logger.Error().Err(err).Msg("purge: failed to scan variant rows")
	}

	for _, path := range variantPaths {
		if err := m.kv.Delete(kv.BucketDefault, kv.VariantRowKey(hash, path)); err != nil {
			logger.Error().Err(err).Str(obslog.FieldPath, path).Msg("purge: failed to remove variant row")
		}
		if err := m.fs.Remove(path); err != nil {
			logger.Error().Err(err).Str(obslog.FieldPath, path).Msg("purge: failed to remove variant file")
		}
	}
}

func hashHex(hash []byte) string { return hex.EncodeToString(hash) }
