package httpserver

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/zynqcloud/pictura/internal/apierr"
)

// maxUploadParts bounds how many files a single multipart request may carry,
// per spec.md §6's "field images array, ≤10 files".
const maxUploadParts = 10

// uploadedFile is one successfully ingested file in a multipart response.
type uploadedFile struct {
	File        string `json:"file"`
	DeleteToken string `json:"delete_token"`
}

// Upload handles POST /image: a streaming multipart upload over field
// "images", each part piped directly into Manager.Upload without ever
// buffering a whole file in memory (mime/multipart.Reader, not
// ParseMultipartForm, which buffers to disk/memory internally).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
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

		uf, err := h.ingestPart(r, part)
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

func (h *Handler) ingestPart(r *http.Request, part *multipart.Part) (uploadedFile, error) {
	limited := h.limitReader(part)
	res, err := h.uploads.Upload(r.Context(), limited)
	if err != nil {
		return uploadedFile{}, err
	}
	return uploadedFile{File: res.Alias, DeleteToken: res.DeleteToken}, nil
}
