package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitByIP allows n requests per window from one client address.
func RateLimitByIP(n int, window time.Duration) func(next http.Handler) http.Handler {
	return limiter(n, window, httprate.KeyByIP)
}

// RateLimitByUser keys on the authenticated user and falls back to the
// address for anonymous requests. Must run after Authenticate.
func RateLimitByUser(n int, window time.Duration) func(next http.Handler) http.Handler {
	return limiter(n, window, func(r *http.Request) (string, error) {
		if claims, ok := UserFromContext(r.Context()); ok {
			return "user:" + claims.Subject, nil
		}
		return httprate.KeyByIP(r)
	})
}

func limiter(n int, window time.Duration, key httprate.KeyFunc) func(next http.Handler) http.Handler {
	if n <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return httprate.Limit(n, window,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
		}),
	)
}
