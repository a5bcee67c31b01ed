package httpserver

import (
	"net/http"
	"strings"

	"github.com/zynqcloud/pictura/internal/apierr"
)

// variantCacheControl is applied to every successful Serve response per
// spec.md §6: variants (and originals) never change once materialized, so
// they are safe to cache as public and immutable for a day.
const variantCacheControl = "public, max-age=86400, immutable"

// Serve handles GET /image/{segments...}: the last path segment is the
// alias, any preceding segments describe the operator chain.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("segments")
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(h.log, w, r, apierr.New(apierr.KindMissingAlias, "alias required"))
		return
	}

	alias := parts[len(parts)-1]
	ops := parts[:len(parts)-1]

	res, err := h.variants.Serve(r.Context(), ops, alias)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Cache-Control", variantCacheControl)
	w.Write(res.Data) //nolint:errcheck
}
