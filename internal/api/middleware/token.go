package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/utils"
)

// APIToken rejects requests that do not carry the shared bearer token. An empty
// token disables the check.
func APIToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || presented == "" {
				utils.WriteError(w, apperrors.Unauthorized("Missing API token"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				utils.WriteError(w, apperrors.Unauthorized("Invalid API token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetActor returns the X-Actor header, used to attribute acknowledgments
func GetActor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Actor"))
}
