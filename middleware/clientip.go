package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goAuthTree "github.com/MrEthical07/goAuthTree"
)

type clientIPContextKey struct{}

// ClientIPFromContext returns the address stored by ClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// ClientIP resolves the client address once per request and stores it in the request
// context, both for handlers and for engine audit events. trustedHeader names a proxy
// header such as X-Forwarded-For whose first entry wins; leave it empty when the service
// is reached directly.
func ClientIP(trustedHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r.RemoteAddr)
			if trustedHeader != "" {
				if v := r.Header.Get(trustedHeader); v != "" {
					first, _, _ := strings.Cut(v, ",")
					if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
						ip = parsed.String()
					}
				}
			}
			ctx := context.WithValue(r.Context(), clientIPContextKey{}, ip)
			ctx = goAuthTree.WithClientIP(ctx, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
