package middleware

import (
	"net/http"
	"strings"
)

// HeaderAccount names the header carrying the caller's account identifier.
// The gateway in front of this service authenticates the caller and stamps
// the header; the service itself never sees credentials.
const HeaderAccount = "X-Verdikt-Account"

// CallerAccount returns the caller's account from the request, normalized
// to lower case. Empty when the request is anonymous.
func CallerAccount(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderAccount)))
}
