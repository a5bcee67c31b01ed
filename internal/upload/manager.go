// Package upload implements the Upload Manager: the component that
// composes the hasher, validator, KV index and file store into ingest,
// import, and delete operations over the image repository.
package upload

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/zynqcloud/pictura/internal/apierr"
	"github.com/zynqcloud/pictura/internal/hashsum"
	"github.com/zynqcloud/pictura/internal/imagestore"
	"github.com/zynqcloud/pictura/internal/kv"
	"github.com/zynqcloud/pictura/internal/validate"
)

// maxNameAttempts bounds the alias/filename collision-retry loop; failing
// this many random draws in a row means something is structurally wrong
// (a near-empty keyspace colliding 12 times running is not plausible by
// chance) rather than a transient race.
const maxNameAttempts = 12

// deleteTokenBytes of random input base32-encode (with no padding) to
// exactly 10 characters, matching spec.md §3's DeleteToken length.
const deleteTokenBytes = 6

// Manager composes the KV index and file store to implement upload,
// import, and delete.
type Manager struct {
	kv     kv.Store
	fs     *imagestore.Store
	tmpDir string
	target validate.Format // forced re-encode target; "" means keep detected
	log    zerolog.Logger
}

// New builds a Manager. target, if non-empty, forces every validated upload
// to canonicalize into that container regardless of what was detected.
func New(store kv.Store, fs *imagestore.Store, tmpDir string, target validate.Format, log zerolog.Logger) *Manager {
	return &Manager{kv: store, fs: fs, tmpDir: tmpDir, target: target, log: log}
}

// UploadResult is returned by Upload and Import.
type UploadResult struct {
	Alias       string
	DeleteToken string
	ContentType string
	Size        int64
}

// Upload implements spec.md §4.3's upload(stream) -> alias path: always
// validated, always assigned a freshly generated alias.
func (m *Manager) Upload(ctx context.Context, r io.Reader) (UploadResult, error) {
	return m.ingest(ctx, r, "", true)
}

// Import implements spec.md §4.3's import(caller_alias, content_type,
// validate?, stream) path: the caller supplies both the alias to bind and
// the content type, and may opt out of validation (used by POST /import,
// whose handler skips validation when SKIP_VALIDATE_IMPORTS is set).
func (m *Manager) Import(ctx context.Context, callerAlias, contentType string, doValidate bool, r io.Reader) (UploadResult, error) {
	prescribed, _ := validate.ParseContentType(contentType)
	return m.ingestWithAlias(ctx, r, prescribed, doValidate, callerAlias)
}

func (m *Manager) ingest(ctx context.Context, r io.Reader, prescribed validate.Format, doValidate bool) (UploadResult, error) {
	return m.ingestWithAlias(ctx, r, prescribed, doValidate, "")
}

// ingestWithAlias runs the full ingest pipeline. callerAlias == "" selects
// the upload path (generate a fresh alias); non-empty selects the import
// path (bind to the caller-supplied alias).
func (m *Manager) ingestWithAlias(ctx context.Context, r io.Reader, prescribed validate.Format, doValidate bool, callerAlias string) (UploadResult, error) {
	// Step 1: stream the full body to a fresh tmp file while hashing it.
	streamed, err := hashsum.StreamToTemp(m.tmpDir, r)
	if err != nil {
		var tooLarge *apierr.Error
		if errors.As(err, &tooLarge) && tooLarge.Kind == apierr.KindPayloadTooLarge {
			return UploadResult{}, tooLarge
		}
		return UploadResult{}, apierr.Wrap(apierr.KindUpload, "failed to receive upload", err)
	}
	tmpPath := streamed.Path
	defer os.Remove(tmpPath) //nolint:errcheck

	// Step 2: validate and canonicalize, or trust the prescribed format.
	target := prescribed
	if m.target != "" {
		target = m.target
	}

	var format validate.Format
	if doValidate {
		format, err = validate.Canonicalize(tmpPath, target)
		if err != nil {
			return UploadResult{}, err
		}
	} else {
		format = target
		if format == "" {
			format = validate.FormatBMP
		}
	}

	// Step 3: hash the canonical bytes.
	hashed, err := hashsum.HashFile(tmpPath)
	if err != nil {
		return UploadResult{}, apierr.Wrap(apierr.KindInternal, "failed to hash canonical image", err)
	}
	hashBytes, err := hex.DecodeString(hashed.Hash)
	if err != nil {
		return UploadResult{}, apierr.Wrap(apierr.KindInternal, "invalid hash encoding", err)
	}

	// Step 4: assign an alias.
	var alias string
	if callerAlias == "" {
		alias, err = m.addAlias(hashBytes, format)
	} else {
		alias, err = m.addExistingAlias(hashBytes, callerAlias)
	}
	if err != nil {
		return UploadResult{}, err
	}

	// Step 5: register the alias under the hash, and mint its delete token.
	token, err := m.registerAlias(hashBytes, alias)
	if err != nil {
		return UploadResult{}, err
	}

	// Step 6: dedup and placement.
	if err := m.checkDuplicate(hashBytes, tmpPath, format); err != nil {
		return UploadResult{}, err
	}

	return UploadResult{
		Alias:       alias,
		DeleteToken: token,
		ContentType: format.ContentType(),
		Size:        hashed.Size,
	}, nil
}

// addAlias generates a random alias with an extension matching format,
// retrying with a growing length on collision in the alias keyspace.
func (m *Manager) addAlias(hash []byte, format validate.Format) (string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		alias, err := newCandidateName(format, attempt)
		if err != nil {
			return "", apierr.Wrap(apierr.KindInternal, "failed to generate alias", err)
		}
		ok, err := m.kv.CAS(kv.BucketAlias, []byte(alias), nil, hash)
		if err != nil {
			return "", apierr.Wrap(apierr.KindInternal, "alias index write failed", err)
		}
		if ok {
			return alias, nil
		}
	}
	return "", apierr.New(apierr.KindUpload, "failed to allocate a unique alias")
}

// addExistingAlias binds callerAlias to hash via an insert-only CAS. Any
// CAS failure — callerAlias already bound, whether to this same hash or a
// different one — is reported as DuplicateAlias: import does not have
// upload's idempotent-reimport carve-out, per spec.md §8 scenario 3
// (re-importing the same filename with identical bytes is still rejected).
func (m *Manager) addExistingAlias(hash []byte, callerAlias string) (string, error) {
	ok, err := m.kv.CAS(kv.BucketAlias, []byte(callerAlias), nil, hash)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "alias index write failed", err)
	}
	if !ok {
		return "", apierr.New(apierr.KindDuplicateAlias, "alias already in use")
	}
	return callerAlias, nil
}

// registerAlias records alias under hash's alias-enumeration range, mints a
// fresh delete token, and returns it. Retries with a new AliasId on the
// (practically unreachable) id collision case.
func (m *Manager) registerAlias(hash []byte, alias string) (token string, err error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		id, err := m.kv.NextID(kv.BucketDefault)
		if err != nil {
			return "", apierr.Wrap(apierr.KindInternal, "id generation failed", err)
		}
		ok, err := m.kv.CAS(kv.BucketDefault, kv.AliasRowKey(hash, id), nil, []byte(alias))
		if err != nil {
			return "", apierr.Wrap(apierr.KindInternal, "alias row write failed", err)
		}
		if !ok {
			continue
		}

		idBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(idBytes, id)
		if err := m.kv.Put(kv.BucketAlias, kv.AliasIDKey(alias), idBytes); err != nil {
			return "", apierr.Wrap(apierr.KindInternal, "alias id write failed", err)
		}

		tok, err := randomToken(deleteTokenBytes)
		if err != nil {
			return "", apierr.Wrap(apierr.KindInternal, "failed to mint delete token", err)
		}
		if err := m.kv.Put(kv.BucketAlias, kv.AliasDeleteKey(alias), []byte(tok)); err != nil {
			return "", apierr.Wrap(apierr.KindInternal, "delete token write failed", err)
		}
		return tok, nil
	}
	return "", apierr.New(apierr.KindInternal, "failed to allocate an alias id")
}

// DeleteToken returns the delete token currently bound to alias, without
// consuming it.
func (m *Manager) DeleteToken(ctx context.Context, alias string) (string, error) {
	tok, err := m.kv.Get(kv.BucketAlias, kv.AliasDeleteKey(alias))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", apierr.New(apierr.KindMissingAlias, "alias not found")
		}
		return "", apierr.Wrap(apierr.KindInternal, "delete token lookup failed", err)
	}
	return string(tok), nil
}

// checkDuplicate performs the dedup-and-placement step: it generates a
// random filename, attempts to win the hash->filename CAS race, and either
// takes ownership of the tmp file (moving it into place) or discards it
// because another writer already owns this hash's content.
func (m *Manager) checkDuplicate(hash []byte, tmpPath string, format validate.Format) error {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		filename, err := newCandidateName(format, attempt)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, "failed to generate filename", err)
		}
		exists, err := m.fs.Exists(filename)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, "filesystem check failed", err)
		}
		if exists {
			continue
		}

		ok, err := m.kv.CAS(kv.BucketDefault, hash, nil, []byte(filename))
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, "hash index write failed", err)
		}
		if !ok {
			// Someone else already owns this hash's placement. Our tmp
			// file is discarded by the caller's deferred cleanup.
			return nil
		}

		if err := m.kv.Put(kv.BucketFilename, []byte(filename), hash); err != nil {
			return apierr.Wrap(apierr.KindInternal, "filename index write failed", err)
		}
		if err := m.fs.Adopt(tmpPath, filename); err != nil {
			return apierr.Wrap(apierr.KindInternal, "failed to place uploaded file", err)
		}
		return nil
	}
	return apierr.New(apierr.KindInternal, "failed to allocate a unique filename")
}
