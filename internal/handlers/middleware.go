package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"eleve/internal/logging"
	"eleve/internal/security"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const ActorContextKey ContextKey = "actor"

// Middleware holds dependencies for middleware functions
type Middleware struct {
	verifier *security.TokenVerifier
	limiter  *security.RateLimiter
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(verifier *security.TokenVerifier, limiter *security.RateLimiter) *Middleware {
	return &Middleware{
		verifier: verifier,
		limiter:  limiter,
	}
}

// RequireAdmin is middleware that requires an administrator bearer token
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="eleve"`)
			respondWithError(w, http.StatusUnauthorized, "missing bearer token", "", nil)
			return
		}

		actorID, err := m.verifier.VerifyAdmin(token)
		if errors.Is(err, security.ErrNotAdmin) {
			respondWithError(w, http.StatusForbidden, "administrator role required", "non-admin token rejected", err)
			return
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="eleve", error="invalid_token"`)
			respondWithError(w, http.StatusUnauthorized, "invalid bearer token", "token rejected", err)
			return
		}

		ctx := context.WithValue(r.Context(), ActorContextKey, actorID)
		next(w, r.WithContext(ctx))
	}
}

// RateLimit limits requests per administrator, or per client IP before authentication
func (m *Middleware) RateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := ActorFromContext(r.Context())
		if key == "" {
			key = security.GetClientIP(r)
		}
		if !m.limiter.Allow(key) {
			respondWithError(w, http.StatusTooManyRequests, "too many requests, please slow down", "", nil)
			return
		}
		next(w, r)
	}
}

// statusRecorder remembers the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Logging middleware logs HTTP requests
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		// Call next handler
		next.ServeHTTP(rec, r)

		log := logging.Component("http")
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

// ActorFromContext returns the authenticated administrator's ID, or "" if none
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(ActorContextKey).(string)
	return actor
}
