// Package admin exposes the pool's management surface over HTTP: the
// idiomatic-Go analogue of the JMX MBeans spec §6's registerMbeans option
// describes, built with chi instead of a JMX connector.
package admin

import (
	"net/http"
	"strings"
)

// BearerAuth rejects requests that don't carry the configured token in
// their Authorization header. An empty token disables auth entirely
// (local/dev use), matching the teacher's grpc auth interceptor shape but
// expressed as net/http middleware instead of a stream interceptor.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// [PRE_AUTH] Validate the bearer token before any handler runs.
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
