package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// KeyFunc derives the quota key of a request, usually the client IP.
type KeyFunc func(*http.Request) string

// Middleware refuses requests over quota with 429 and a Retry-After header.
// reject writes the refusal body so callers keep their own error format.
func Middleware(limiter Limiter, scope string, key KeyFunc, reject func(http.ResponseWriter, *http.Request, time.Duration)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(r.Context(), scope+":"+key(r))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				reject(w, r, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
