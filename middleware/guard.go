package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/goAuthTree/nodes/cookie"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the persistent cookie claims stored by RequireCookie.
func ClaimsFromContext(ctx context.Context) (*cookie.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*cookie.Claims)
	return c, ok
}

// RequireCookie rejects requests without a valid persistent cookie named name. When realm
// is set the cookie must have been issued in that realm. Run it after ClientIP so bound
// cookies are checked against the real client address.
func RequireCookie(mgr *cookie.Manager, name, realm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mgr == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			c, err := r.Cookie(name)
			if err != nil || c.Value == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := mgr.Verify(c.Value, ClientIPFromContext(r.Context()))
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if realm != "" && claims.Realm != realm {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
