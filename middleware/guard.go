package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/sessionguard"
)

// DefaultCookieName is the session cookie read when no bearer header is sent.
const DefaultCookieName = "sg_session"

type validatedSessionContextKey struct{}

// SessionFromContext returns the session stored by [RequireSession].
func SessionFromContext(ctx context.Context) (*sessionguard.ValidatedSession, bool) {
	v, ok := ctx.Value(validatedSessionContextKey{}).(*sessionguard.ValidatedSession)
	return v, ok && v != nil
}

// SessionOptions tunes [RequireSession]. The zero value reads the bearer
// header and the DefaultCookieName cookie and slides sessions forward.
type SessionOptions struct {
	CookieName     string
	DisableRefresh bool
	Logger         *slog.Logger
}

// RequireSession rejects requests without a live session with 401. Store
// failures are also answered with 401: an outage never lets a request
// through unauthenticated.
func RequireSession(engine *sessionguard.Engine, opts SessionOptions) func(http.Handler) http.Handler {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, fromCookie := sessionToken(r, opts.CookieName)
			if token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.ValidateSession(r.Context(), token)
			if err != nil {
				logger.Warn("session validation failed", slog.Any("error", err))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if res == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if res.Session.NeedsRefresh && !opts.DisableRefresh {
				refreshed, err := engine.RefreshSession(r.Context(), token)
				switch {
				case err != nil:
					logger.Warn("session refresh failed", slog.String("session_id", res.Session.SessionID), slog.Any("error", err))
				case refreshed.Success:
					res.Session.ExpiresAt = refreshed.ExpiresAt
					res.Session.NeedsRefresh = false
					if fromCookie {
						http.SetCookie(w, SessionCookie(opts.CookieName, token, refreshed.ExpiresAt))
					}
				}
			}
			w.Header().Set("X-Session-Expires-At", res.Session.ExpiresAt.UTC().Format(time.RFC3339))

			ctx := context.WithValue(r.Context(), validatedSessionContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionCookie builds the HttpOnly, Secure, SameSite=Lax cookie carrying
// token until expiresAt.
func SessionCookie(name, token string, expiresAt time.Time) *http.Cookie {
	if name == "" {
		name = DefaultCookieName
	}
	return &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt.UTC(),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

// RequestToken returns the session token sent with r, read the same way
// [RequireSession] reads it. Logout handlers use it to name the session to
// delete.
func RequestToken(r *http.Request, cookieName string) string {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	token, _ := sessionToken(r, cookieName)
	return token
}

// sessionToken prefers the Authorization header over the cookie.
func sessionToken(r *http.Request, cookieName string) (token string, fromCookie bool) {
	if t, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return t, false
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
