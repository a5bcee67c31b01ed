package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// unauthorizedPayload matches the fixed {"msg": "..."} envelope the rest of
// the HTTP surface uses, even though this check runs ahead of apierr's
// normal request path (there is no *apierr.Error to carry here — the
// request never reaches a handler that could construct one).
type unauthorizedPayload struct {
	Msg string `json:"msg"`
}

// ServiceToken returns middleware that validates the X-Service-Token header.
// If token is empty (dev mode), all requests are allowed through.
func ServiceToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			provided := r.Header.Get("X-Service-Token")
			// Constant-time compare to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(unauthorizedPayload{Msg: "unauthorized"}) //nolint:errcheck
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
