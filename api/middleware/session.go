package middleware

import (
	"net/http"
	"strings"

	"github.com/shoplane-labs/shoplane-backend/pkg/logger"
)

const sessionTokenHeader = "X-Session-Token"

// SessionToken lifts the anonymous cart token off the request so cart
// handlers can resolve an owner without credentials.
func SessionToken(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get(sessionTokenHeader))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithSessionToken(r.Context(), token)
			if logg != nil {
				ctx = logg.WithField(ctx, "cart_session", token)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
