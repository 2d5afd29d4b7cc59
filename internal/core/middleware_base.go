package core

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mailsmith/internal/types"
)

// responseCapture wraps http.ResponseWriter to record the status code and
// whether a response was written, for logging and metrics middleware.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Unwrap supports http.ResponseController and chi's middleware helpers.
func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

// Recoverer converts panics into 500 responses instead of crashing the
// process. It must be the outermost middleware so that it also covers
// panics raised by other middleware.
func Recoverer(logger types.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						"panic", fmt.Sprintf("%v", rec),
						"stack", string(debug.Stack()),
						"method", r.Method,
						"path", r.URL.Path,
					)
					writeStaticError(w, http.StatusInternalServerError,
						string(types.ErrCodeInternalUnexpected),
						"an unexpected error occurred",
						types.GetRequestID(r.Context()),
					)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per completed request. Header values named in
// redactedHeaders are masked before logging; matching is case-insensitive.
func RequestLogger(logger types.Logger, redactedHeaders []string) func(http.Handler) http.Handler {
	redactSet := make(map[string]struct{}, len(redactedHeaders))
	for _, h := range redactedHeaders {
		redactSet[strings.ToLower(h)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rc, r)

			headers := make(map[string]string, len(r.Header))
			for name, values := range r.Header {
				if _, redact := redactSet[strings.ToLower(name)]; redact {
					headers[name] = "[REDACTED]"
					continue
				}
				headers[name] = strings.Join(values, ", ")
			}

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rc.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", types.GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
				"headers", headers,
			}

			switch {
			case rc.statusCode >= http.StatusInternalServerError:
				logger.Error("request completed", args...)
			case rc.statusCode >= http.StatusBadRequest:
				logger.Warn("request completed", args...)
			default:
				logger.Info("request completed", args...)
			}
		})
	}
}

// MetricsMiddleware records request count and latency per endpoint. A nil
// collector disables instrumentation without changing the middleware chain.
func MetricsMiddleware(metrics MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rc, r)

			// The route pattern keeps metric cardinality bounded; raw paths
			// with IDs in them would create a dimension per resource.
			endpoint := chi.RouteContext(r.Context()).RoutePattern()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			metrics.RecordRequest(r.Method, endpoint, strconv.Itoa(rc.statusCode), time.Since(start))
		})
	}
}

// SecurityHeadersMiddleware sets conservative browser security headers on
// every response. The API serves JSON and rendered HTML fragments, neither
// of which should ever be framed or sniffed.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		next.ServeHTTP(w, r)
	})
}

// NewCORSMiddleware builds a CORS middleware from the configured allowed
// origins. A single "*" entry allows any origin; otherwise only listed
// origins are echoed back, with credentials enabled.
func NewCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
			continue
		}
		if o != "" {
			originSet[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else if _, ok := originSet[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeStaticError writes an APIErrorResponse without going through
// json.Marshal, for paths where marshaling itself may be compromised
// (panic recovery) or where no request-scoped state is trustworthy.
func writeStaticError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := fmt.Sprintf(
		`{"error":{"code":%q,"message":%q,"request_id":%q}}`,
		escapeJSON(code), escapeJSON(message), escapeJSON(requestID),
	)
	_, _ = w.Write([]byte(body))
}

// escapeJSON strips characters that would break a hand-built JSON string.
// Inputs here are our own constants plus a request ID, so replacement is
// simpler than escaping.
func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\`, "")
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}
