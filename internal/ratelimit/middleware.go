package ratelimit

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/canopy-ai/canopy/internal/model"
)

// KeyFunc extracts the rate-limit key from a request. An empty string
// skips limiting for that request.
type KeyFunc func(r *http.Request) string

// RequestIDFunc extracts the request ID from the request context.
// Injected by the caller to avoid a dependency on the server package.
type RequestIDFunc func(r *http.Request) string

// Middleware enforces limiter on requests, keyed by prefix plus keyFunc.
// Limiter errors fail open: a broken limiter must not take down the
// collector with it.
func Middleware(limiter Limiter, prefix string, keyFunc KeyFunc, reqIDFunc RequestIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), prefix+":"+key)
			if err != nil || allowed {
				next.ServeHTTP(w, r)
				return
			}

			var requestID string
			if reqIDFunc != nil {
				requestID = reqIDFunc(r)
			}
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(model.APIError{
				Error: model.ErrorDetail{
					Code:    model.ErrCodeRateLimited,
					Message: "too many requests",
				},
				Meta: model.ResponseMeta{
					RequestID: requestID,
					Timestamp: time.Now().UTC(),
				},
			})
		})
	}
}

// IPKeyFunc keys requests by client IP from RemoteAddr. X-Forwarded-For
// is not trusted: the server may not sit behind a sanitizing proxy and
// any client can set the header to dodge its bucket.
func IPKeyFunc(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
