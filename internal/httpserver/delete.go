package httpserver

import "net/http"

// Delete handles DELETE|GET /image/delete/{token}/{alias}: the delete
// protocol is idempotent-looking (wrong token always 403, missing alias
// always 404) and allowed over GET as well as DELETE so it can be invoked
// from a plain browser link, per spec.md §6's route table.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	alias := r.PathValue("alias")

	if err := h.uploads.Delete(r.Context(), alias, token); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
