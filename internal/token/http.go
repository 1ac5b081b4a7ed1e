package token

import (
	"net/http"
	"strings"
)

// FromRequest returns the bearer token from the Authorization header, or
// from the "token" query parameter when there is no header. Browsers cannot
// set headers on a WebSocket upgrade, hence the fallback.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
