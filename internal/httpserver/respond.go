// Package httpserver wires the image repository's HTTP surface: routing,
// multipart ingest, remote-URL fetch-and-ingest, delete, and variant
// serving. Routing, multipart parsing, and this outbound fetch are all
// named out of the core's scope by spec.md §1 — this package is the
// "external collaborator" that consumes the core's interfaces.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/zynqcloud/pictura/internal/apierr"
)

// errorPayload is the fixed `{"msg": "..."}` envelope spec.md §6/§7 require
// for every error response.
type errorPayload struct {
	Msg string `json:"msg"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError maps err to its Kind's HTTP status and serializes the fixed
// error envelope. Any error that isn't an *apierr.Error (a bug, or a raw IO
// error that escaped a wrapper) is treated as Internal.
func writeError(log zerolog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierr.Wrap(apierr.KindInternal, "internal error", err)
	}
	status := apiErr.Kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("method", r.Method).Msg("request failed")
	}
	writeJSON(w, status, errorPayload{Msg: apiErr.Msg})
}
