package utils

import (
	"net"
	"net/http"
	"strings"
)

// ExtractClientIP returns the originating client address, preferring the
// first X-Forwarded-For entry, then X-Real-IP, then RemoteAddr without its
// port. The result is stored with the server-side session metadata.
func ExtractClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
