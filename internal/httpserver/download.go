package httpserver

import (
	"net/http"

	"github.com/zynqcloud/pictura/internal/apierr"
	"github.com/zynqcloud/pictura/internal/fetch"
)

// Download handles GET /image/download?url=...: fetch the remote resource
// and feed it through the same ingest path as a direct multipart upload.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(h.log, w, r, apierr.New(apierr.KindDownload, "url query parameter is required"))
		return
	}

	remote, err := fetch.Get(r.Context(), rawURL)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	defer remote.Body.Close()

	res, err := h.uploads.Upload(r.Context(), h.limitReader(remote.Body))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}

	files := []uploadedFile{{File: res.Alias, DeleteToken: res.DeleteToken}}
	writeJSON(w, http.StatusCreated, map[string]any{"msg": "ok", "files": files})
}
