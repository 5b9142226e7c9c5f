package httpapi

import (
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/security"
)

// RequireBearer guards the operator API. An empty token leaves it open, which
// only makes sense on a local bench.
func RequireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !security.ConstantTimeEqual(presented, token) {
				log.WithFields(log.Fields{"path": r.URL.Path, "remote": r.RemoteAddr}).Debug("httpapi: rejected operator request")
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
