package middleware

import (
	"net"
	"net/http"

	"github.com/MrEthical07/sessionguard"
)

// ClientIP returns the host part of r.RemoteAddr. Deployments behind a proxy
// should rewrite RemoteAddr first (for example with chi's RealIP).
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientMetadata stores the client IP and user agent in the request context
// for CreateSession and audit events.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := sessionguard.WithClientIP(r.Context(), ClientIP(r))
		if ua := r.UserAgent(); ua != "" {
			ctx = sessionguard.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
