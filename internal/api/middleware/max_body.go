package middleware

import (
	"net/http"

	"github.com/cloo-solutions/carecontext/internal/api"
)

// MaxBodyBytes rejects bodies over limit with 413. The router passes
// RouterConfig.MaxBodyBytes, 5 MiB unless configured; limit <= 0 disables the check.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit && r.ContentLength != -1 {
				api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
