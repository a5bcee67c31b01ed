// Package variantengine implements spec.md §4.5's retrieval path: resolve
// an alias to its stored file, serve an already-materialized variant
// straight off disk, or materialize one on a bounded worker and register
// it for next time without making the caller wait on the registration.
package variantengine

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/zynqcloud/pictura/internal/apierr"
	"github.com/zynqcloud/pictura/internal/imagestore"
	"github.com/zynqcloud/pictura/internal/kv"
	"github.com/zynqcloud/pictura/internal/obslog"
	"github.com/zynqcloud/pictura/internal/validate"
	"github.com/zynqcloud/pictura/internal/variant"
)

// defaultWorkers is used when the configured worker count is non-positive.
const defaultWorkers = 4

// Engine serves originals and on-demand variants for one image directory
// and KV index.
type Engine struct {
	kv        kv.Store
	fs        *imagestore.Store
	sem       chan struct{}
	whitelist map[string]bool
	log       zerolog.Logger
}

// New builds an Engine. workers bounds the number of concurrent
// decode/apply/encode passes running at once — materialization is CPU-bound
// and otherwise unbounded concurrent requests for a cold variant would
// thrash the box. whitelist restricts which operator kinds a chain may
// use; nil means no restriction.
func New(store kv.Store, fs *imagestore.Store, workers int, whitelist map[string]bool, log zerolog.Logger) *Engine {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Engine{kv: store, fs: fs, sem: make(chan struct{}, workers), whitelist: whitelist, log: log}
}

// Result is what Serve returns to the HTTP layer.
type Result struct {
	Data        []byte
	ContentType string
}

// Serve implements spec.md §4.5's serve algorithm. segments is the operator
// chain (may be empty, meaning "serve the original"); alias is the final
// path segment.
func (e *Engine) Serve(ctx context.Context, segments []string, alias string) (Result, error) {
	hash, err := e.kv.Get(kv.BucketAlias, []byte(alias))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Result{}, apierr.New(apierr.KindMissingAlias, "alias not found")
		}
		return Result{}, apierr.Wrap(apierr.KindInternal, "alias lookup failed", err)
	}

	filenameVal, err := e.kv.Get(kv.BucketDefault, hash)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Result{}, apierr.New(apierr.KindMissingFile, "stored file missing from index")
		}
		return Result{}, apierr.Wrap(apierr.KindInternal, "filename lookup failed", err)
	}
	filename := string(filenameVal)
	contentType := contentTypeForFilename(filename)

	for _, seg := range segments {
		if _, ok := variant.Parse(seg); !ok {
			e.log.Warn().Str("segment", seg).Msg("variant: dropping unparseable segment")
		}
	}
	ops := variant.ParseChain(segments, e.whitelist)
	variantPath := variant.VariantPath("", ops, filename)

	exists, err := e.fs.Exists(variantPath)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.KindInternal, "variant existence check failed", err)
	}
	if exists {
		data, err := e.fs.ReadFile(variantPath)
		if err != nil {
			return Result{}, apierr.Wrap(apierr.KindInternal, "failed to read cached variant", err)
		}
		return Result{Data: data, ContentType: contentType}, nil
	}

	return e.materialize(filename, variantPath, contentType, ops)
}

// materialize decodes the original, applies the chain on a bounded worker
// slot, and kicks off background registration before returning the bytes.
func (e *Engine) materialize(filename, variantPath, contentType string, ops []variant.Op) (res Result, err error) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()
	defer func() {
		if p := recover(); p != nil {
			res, err = Result{}, apierr.New(apierr.KindCanceled, "variant worker panicked")
		}
	}()

	raw, err := e.fs.ReadFile(filename)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.KindMissingFile, "stored image missing from disk", err)
	}

	data, _, err := applyChainBytes(raw, ops)
	if err != nil {
		return Result{}, err
	}

	go e.register(filename, variantPath, data)

	return Result{Data: data, ContentType: contentType}, nil
}

// applyChainBytes decodes raw, runs ops over it, and re-encodes only if an
// operator actually mutated the pixels. An empty chain or an all-identity
// chain returns raw unchanged, matching spec.md's "otherwise the bytes are
// the original file contents".
func applyChainBytes(raw []byte, ops []variant.Op) (data []byte, mutated bool, err error) {
	if len(ops) == 0 {
		return raw, false, nil
	}
	img, format, err := validate.Decode(raw)
	if err != nil {
		return nil, false, err
	}
	out, mutated := variant.ApplyChain(img, ops)
	if !mutated {
		return raw, false, nil
	}
	encoded, err := validate.Encode(out, format)
	if err != nil {
		return nil, false, apierr.Wrap(apierr.KindInternal, "failed to encode variant", err)
	}
	return encoded, true, nil
}

// register implements spec.md §4.5 step 5: a detached, non-transactional
// registration. It re-resolves filename->hash independently rather than
// reusing the hash the caller already had, since this runs after the
// response has been sent and should not hold onto request-scoped state.
// Failures are logged and never retried — a missing registration just
// means the next GET re-materializes.
func (e *Engine) register(filename, variantPath string, data []byte) {
	logger := e.log.With().Str(obslog.FieldFilename, filename).Str(obslog.FieldPath, variantPath).Logger()

	hash, err := e.kv.Get(kv.BucketFilename, []byte(filename))
	if err != nil {
		logger.Warn().Err(err).Msg("variant registration: filename->hash lookup failed")
		return
	}

	if err := e.kv.Put(kv.BucketDefault, kv.VariantRowKey(hash, variantPath), []byte(variantPath)); err != nil {
		logger.Warn().Err(err).Msg("variant registration: failed to write variant row")
		return
	}

	if err := imagestore.SafeSaveFile(e.fs, variantPath, data); err != nil {
		logger.Warn().Err(err).Msg("variant registration: failed to save variant file")
	}
}

func contentTypeForFilename(filename string) string {
	f, ok := validate.FormatFromExtension(filepath.Ext(filename))
	if !ok {
		return "application/octet-stream"
	}
	return f.ContentType()
}
