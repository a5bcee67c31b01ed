package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/zynqcloud/pictura/internal/imagestore"
	"github.com/zynqcloud/pictura/internal/kv"
	"github.com/zynqcloud/pictura/internal/middleware"
	"github.com/zynqcloud/pictura/internal/upload"
	"github.com/zynqcloud/pictura/internal/variantengine"
)

// Handler holds the shared dependencies for all HTTP handlers.
type Handler struct {
	uploads  *upload.Manager
	variants *variantengine.Engine
	store    kv.Store
	fs       *imagestore.Store
	log      zerolog.Logger

	maxUploadBytes      int64
	skipValidateImports bool
	minFreeBytes        int64
}

// Config bundles the construction-time settings New needs from
// internal/config without importing that package directly, keeping
// httpserver decoupled from the config file's env-parsing concerns.
type Config struct {
	ServiceToken         string
	MaxUploadBytes       int64
	SkipValidateImports  bool
	MinFreeBytes         int64
	MaxConcurrentUploads int
}

// New registers every route and returns the root http.Handler. Uses Go
// 1.22's method+path pattern syntax on http.ServeMux — no external router
// needed, mirroring the teacher's internal/handler/routes.go.
//
// Middleware stack (outer -> inner):
//
//	RequestLog -> ServeMux -> ServiceToken auth (import and readiness only) -> UploadLimiter -> handler
func New(cfg Config, store kv.Store, fs *imagestore.Store, uploads *upload.Manager, variants *variantengine.Engine, log zerolog.Logger) http.Handler {
	h := &Handler{
		uploads:             uploads,
		variants:            variants,
		store:               store,
		fs:                  fs,
		log:                 log,
		maxUploadBytes:      cfg.MaxUploadBytes,
		skipValidateImports: cfg.SkipValidateImports,
		minFreeBytes:        cfg.MinFreeBytes,
	}

	auth := middleware.ServiceToken(cfg.ServiceToken)
	logMW := middleware.RequestLog(log)
	limiter := middleware.NewUploadLimiter(cfg.MaxConcurrentUploads)

	mux := http.NewServeMux()

	mux.Handle("POST /image", limiter.Limit(http.HandlerFunc(h.Upload)))
	mux.Handle("GET /image/download", limiter.Limit(http.HandlerFunc(h.Download)))
	mux.HandleFunc("DELETE /image/delete/{token}/{alias}", h.Delete)
	mux.HandleFunc("GET /image/delete/{token}/{alias}", h.Delete)
	mux.HandleFunc("GET /image/{segments...}", h.Serve)
	mux.Handle("POST /import", auth(limiter.Limit(http.HandlerFunc(h.Import))))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /healthz/ready", auth(http.HandlerFunc(h.Readiness)))

	return logMW(mux)
}

// Readiness is the Kubernetes readiness probe handler: 200 once the
// service can accept uploads, 503 otherwise. Checks performed:
//  1. The image directory is accessible (os.Stat via imagestore.Store.Root).
//  2. Free disk space >= minFreeBytes (syscall.Statfs on Linux).
//  3. The KV index answers a point read without erroring.
func (h *Handler) Readiness(w http.ResponseWriter, _ *http.Request) {
	type check struct {
		Name string `json:"name"`
		OK   bool   `json:"ok"`
		Msg  string `json:"msg,omitempty"`
	}
	var checks []check
	allOK := true

	if _, err := os.Stat(h.fs.Root()); err != nil {
		checks = append(checks, check{"image_dir_accessible", false, "stat failed"})
		allOK = false
	} else {
		checks = append(checks, check{"image_dir_accessible", true, ""})
	}

	if avail, total := h.fs.DiskStats(); total > 0 {
		if avail < uint64(h.minFreeBytes) {
			checks = append(checks, check{
				"disk_space", false,
				fmt.Sprintf("%d MB free, need %d MB", avail>>20, h.minFreeBytes>>20),
			})
			allOK = false
		} else {
			checks = append(checks, check{
				"disk_space", true,
				fmt.Sprintf("%d MB free of %d MB", avail>>20, total>>20),
			})
		}
	}

	if _, err := h.store.Get(kv.BucketDefault, []byte("\x00readiness-probe\x00")); err != nil && !errors.Is(err, kv.ErrNotFound) {
		checks = append(checks, check{"index_reachable", false, "kv read failed"})
		allOK = false
	} else {
		checks = append(checks, check{"index_reachable", true, ""})
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": allOK, "checks": checks})
}
