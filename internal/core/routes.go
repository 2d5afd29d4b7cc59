package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mailsmith/internal/types"
)

// defaultRequestTimeout is used when no timeout is configured. It sits one
// second under the API Gateway integration limit so we time out before the
// gateway does and can still return a structured error.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders are never logged verbatim.
var defaultRedactedHeaders = []string{"Authorization", "Cookie"}

// MountRoutes attaches global middleware and all route groups to the
// router. Call it once, after every registrar has been appended.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	// Health stays outside /v1: it is unauthenticated and unversioned.
	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/v1", s.mountV1)
}

func (s *Server) registerGlobalMiddleware() {
	// Order matters:
	//   1. Recoverer is outermost so panics anywhere below become 500s.
	//   2. ContextTimeout bounds everything that follows, feed fetches included.
	//   3. RequestID must precede logging so every log line carries it.
	//   4. Security headers apply to all responses, error paths included.
	//   5. RequestLogger observes the final status code.
	//   6. CORS runs before auth so preflights never need credentials.
	//   7. Metrics wraps only the route handlers it measures.
	s.router.Use(Recoverer(s.Logger))
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(MetricsMiddleware(s.Metrics))
}

// mountV1 splits the versioned API into two auth domains: operator routes
// guarded by the static admin key, and tenant routes guarded by issued API
// keys. Handlers register themselves through the registrar slices, which
// keeps this package from importing them.
func (s *Server) mountV1(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.AdminAuthMiddleware)
		for _, register := range s.AdminRouteRegistrars {
			register(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		for _, register := range s.V1RouteRegistrars {
			register(r)
		}
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config == nil {
		return nil
	}
	return s.Config.Security.CorsAllowedOrigins
}

// ContextTimeoutMiddleware cancels the request context after the given
// duration. Handlers and downstream fetches must honor the context.
func ContextTimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware ensures every request has an ID, reusing the caller's
// X-Request-Id when present. The ID is echoed on the response and stored on
// the context for logging and error payloads.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = generateRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
	})
}

func generateRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// Entropy failure should never happen; a timestamp keeps log
		// correlation working if it somehow does.
		return "fallback-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf)
}
