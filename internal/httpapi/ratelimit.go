package httpapi

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

// newRateLimiter allows perMinute requests per client IP over a sliding
// one-minute window.
func newRateLimiter(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = 120
	}
	return limitByIP(perMinute, "too many requests")
}

// newLoginLimiter caps PIN attempts per client IP.
func newLoginLimiter(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = 5
	}
	return limitByIP(perMinute, "too many login attempts")
}

func limitByIP(perMinute int, message string) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", message)
		}),
	)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
