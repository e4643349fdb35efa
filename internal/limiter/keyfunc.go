package limiter

import (
	"net/http"
	"strings"
)

// KeyFunc derives the client identity a request is counted under.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc returns the client IP from the first proxy header that
// carries one: X-Forwarded-For (first hop), X-Real-IP, then
// X-Vercel-Forwarded-For. Requests with none of them share the "unknown"
// bucket rather than escaping limiting entirely.
func DefaultKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Vercel-Forwarded-For")); ip != "" {
		return ip
	}
	return "unknown"
}
