// Package core provides the API chassis for the mailsmith service.
// It creates a chi router compatible with both standard HTTP (for local dev)
// and AWS Lambda Proxy Integration. It enforces cross-cutting concerns --
// security, logging, observability, and error handling -- before requests
// reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mailsmith/internal/config"
	"mailsmith/internal/db"
	"mailsmith/internal/types"
)

// MetricsCollector defines the interface for recording API telemetry.
// Implementations record request latency and count metrics to CloudWatch
// or equivalent backends.
type MetricsCollector interface {
	// RecordRequest records API request metrics including latency and count.
	// Uses metric constants MetricAPILatency and MetricAPIRequestCount
	// from the types package.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// KeyVerifier authenticates presented API keys against their stored hashes.
// Implemented by auth.KeyService; injected for testability.
type KeyVerifier interface {
	VerifyKey(ctx context.Context, rawKey string) (*types.APIKey, error)
}

// Server encapsulates all dependencies for the mailsmith API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config    *config.Config
	Repos     *db.Repositories
	Logger    types.Logger
	Validator *Validator
	Metrics   MetricsCollector
	Keys      KeyVerifier

	// HealthProbes are executed by GET /health. Register one per critical
	// dependency (database).
	HealthProbes []HealthProbe

	// Route registrars are populated by the application entry point; the
	// indirection avoids import cycles between core and handler packages.
	// Admin registrars mount behind the operator-key middleware, V1
	// registrars behind tenant API-key auth.
	AdminRouteRegistrars []func(chi.Router)
	V1RouteRegistrars    []func(chi.Router)

	// Internal router
	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a "fail-fast" check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes or
// equivalent) after construction. This separation allows tests to customize
// route registration.
func NewServer(
	cfg *config.Config,
	repos *db.Repositories,
	logger types.Logger,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if repos == nil {
		return nil, fmt.Errorf("repositories must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Repos:     repos,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	return s, nil
}

// Handler returns the http.Handler interface for the router.
// Used by http.ListenAndServe (local) and the Lambda proxy adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
// This is used internally by route-mounting methods and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources: it closes
// the database connection pool behind the repositories. HTTP listener
// shutdown is the entry point's responsibility.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if s.Repos != nil {
		if err := s.Repos.Close(); err != nil {
			s.Logger.Error("error closing repository connections", "error", err)
			return fmt.Errorf("closing repository connections: %w", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
