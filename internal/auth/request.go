package auth

import (
	"net/http"
	"strings"
)

// TokenHeader is the request header carrying the raw token.
const TokenHeader = "token"

// TokenFromRequest extracts the credential from the out-of-band places a client
// may put it at connection-open time: the "token" query parameter (browsers
// cannot set headers on a WebSocket handshake), the "token" header, or an
// "Authorization: Bearer" header. It returns "" when none is present.
func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	if t := strings.TrimSpace(r.Header.Get(TokenHeader)); t != "" {
		return t
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}
