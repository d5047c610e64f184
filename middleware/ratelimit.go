package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/sessionguard"
)

// KeyFunc derives the rate-limit identifier for a request. An empty key
// skips limiting for that request.
type KeyFunc func(r *http.Request) string

// ByClientIP keys requests by [ClientIP].
func ByClientIP(r *http.Request) string {
	return ClientIP(r)
}

// RateLimitOptions tunes [RateLimit].
type RateLimitOptions struct {
	// FailOpen lets requests through when the store is unavailable. The
	// default answers 503.
	FailOpen bool
	// Now is used for Retry-After; defaults to time.Now and should match the
	// engine clock.
	Now    func() time.Time
	Logger *slog.Logger
}

// RateLimit guards next with the engine's policy for action. Denied requests
// get 429 with Retry-After. Every request that reaches next is recorded
// afterwards; a response status below 400 is recorded as a success.
func RateLimit(engine *sessionguard.Engine, action sessionguard.Action, key KeyFunc, opts RateLimitOptions) func(http.Handler) http.Handler {
	if key == nil {
		key = ByClientIP
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := key(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := engine.CheckRateLimit(r.Context(), id, action)
			if err != nil {
				logger.Warn("rate limit check failed",
					slog.String("action", action.String()),
					slog.Any("error", err),
				)
				if !opts.FailOpen {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				retry := res.RetryAfter(now())
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, "too many requests, retry in "+strconv.Itoa(retry)+" seconds", http.StatusTooManyRequests)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			ctx := context.WithoutCancel(r.Context())
			if err := engine.RecordAttempt(ctx, id, action, sw.status < http.StatusBadRequest); err != nil {
				logger.Warn("rate limit record failed",
					slog.String("action", action.String()),
					slog.Any("error", err),
				)
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
