package core

import (
	"errors"
	"net/http"
	"strings"

	"mailsmith/internal/auth"
	"mailsmith/internal/types"
)

// AuthMiddleware authenticates requests bearing tenant API keys. On success
// the verified key is placed on the context as the request actor. A nil
// KeyVerifier disables authentication, which is only appropriate in tests.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Keys == nil {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			writeAuthError(w, r, types.ErrCodeAuthKeyMissing, "Authorization header is required")
			return
		}

		token, ok := extractBearerToken(header)
		if !ok || token == "" {
			writeAuthError(w, r, types.ErrCodeAuthKeyMissing, "Bearer token is required")
			return
		}

		key, err := s.Keys.VerifyKey(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}

		actor := types.Actor{
			ID:   key.ID,
			Type: types.ActorTypeAPIKey,
			Name: key.Name,
		}
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}

// AdminAuthMiddleware guards operator endpoints with the statically
// configured admin key. Key management cannot authenticate with tenant keys
// without a bootstrap problem, so it uses its own credential.
func (s *Server) AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeAuthError(w, r, types.ErrCodeAuthKeyMissing, "Authorization header is required")
			return
		}

		token, ok := extractBearerToken(header)
		if !ok || token == "" {
			writeAuthError(w, r, types.ErrCodeAuthKeyMissing, "Bearer token is required")
			return
		}

		if !auth.VerifyAdminKey(token, s.Config.Security.AdminAPIKey) {
			s.Logger.Warn("admin authentication failed",
				"method", r.Method,
				"path", r.URL.Path,
			)
			writeAuthError(w, r, types.ErrCodeAuthKeyInvalid, "invalid API key")
			return
		}

		actor := types.Actor{Type: types.ActorTypeSystem, Name: "admin"}
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}

// extractBearerToken pulls the token out of an Authorization header value.
// The scheme comparison is case-insensitive per RFC 7235.
func extractBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// handleAuthError translates a key verification failure into a response.
// Auth errors pass through with their own code; anything else is logged and
// masked so internals never leak through the 401.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) && strings.HasPrefix(string(appErr.Code), "auth_") {
		s.Logger.Warn("authentication failed",
			"code", string(appErr.Code),
			"method", r.Method,
			"path", r.URL.Path,
		)
		writeAuthError(w, r, appErr.Code, appErr.Message)
		return
	}

	s.Logger.Error("authentication failed unexpectedly",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
	)
	writeAuthError(w, r, types.ErrCodeAuthKeyInvalid, "invalid API key")
}

func writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	Error(w, r, types.NewAppError(code, message, nil))
}
