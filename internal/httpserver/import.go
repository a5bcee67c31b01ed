package httpserver

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/zynqcloud/pictura/internal/apierr"
)

// Import handles POST /import: the same multipart shape as /image, but
// preserving each part's filename as the alias and its declared content
// type, with validation optionally skipped for trusted internal callers
// (SKIP_VALIDATE_IMPORTS). Gated by the ServiceToken middleware in routes.go.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(h.log, w, r, apierr.Wrap(apierr.KindUpload, "malformed multipart body", err))
		return
	}

	var files []uploadedFile
	for i := 0; i < maxUploadParts; i++ {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(h.log, w, r, apierr.Wrap(apierr.KindUpload, "malformed multipart body", err))
			return
		}
		if part.FormName() != "images" {
			part.Close() //nolint:errcheck
			continue
		}

		uf, err := h.importPart(r, part)
		part.Close() //nolint:errcheck
		if err != nil {
			writeError(h.log, w, r, err)
			return
		}
		files = append(files, uf)
	}

	if len(files) == 0 {
		writeError(h.log, w, r, apierr.New(apierr.KindNoFiles, "no files present in upload"))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"msg": "ok", "files": files})
}

func (h *Handler) importPart(r *http.Request, part *multipart.Part) (uploadedFile, error) {
	limited := h.limitReader(part)
	res, err := h.uploads.Import(r.Context(), part.FileName(), part.Header.Get("Content-Type"), !h.skipValidateImports, limited)
	if err != nil {
		return uploadedFile{}, err
	}
	return uploadedFile{File: res.Alias, DeleteToken: res.DeleteToken}, nil
}
