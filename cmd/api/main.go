// Package main is the entry point for the mailsmith API server.
//
// It loads configuration, connects the database pool, assembles the render
// pipeline (feed adapter, block builder, HTML renderer), and mounts the HTTP
// surface on the core chassis (middleware, routing, health checks).
//
// In local mode (APP_ENV=local) it runs as a standard HTTP server on the
// configured port. Inside AWS Lambda it bridges API Gateway HTTP API events
// to the chi router via the aws-lambda-go-api-proxy adapter.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"

	"mailsmith/internal/api/handlers"
	"mailsmith/internal/auth"
	"mailsmith/internal/blocks"
	"mailsmith/internal/config"
	"mailsmith/internal/core"
	"mailsmith/internal/db"
	"mailsmith/internal/feeds"
	"mailsmith/internal/queue"
	"mailsmith/internal/render"
	"mailsmith/internal/security"
	"mailsmith/internal/telemetry"
	"mailsmith/internal/types"
)

// feedMaxRedirects caps redirect chains on feed fetches. Each hop is
// re-validated against the SSRF blocklist.
const feedMaxRedirects = 3

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error, and Warn directly, but With returns
// *slog.Logger rather than types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	typedLogger := &slogAdapter{logger: logger}
	logger.Info("mailsmith API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	// Database pool and repositories. The pool is closed by srv.Shutdown.
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	repos := db.NewRepositories(pool)

	// AWS clients. BaseEndpoint is only overridden for LocalStack.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	// Render pipeline: feed adapter -> block builder -> HTML renderer.
	// Feed URLs are user input, so fetches go through the SSRF-guarded client.
	httpClient, err := security.NewSafeHTTPClient(cfg.Feeds.FetchTimeout, feedMaxRedirects)
	if err != nil {
		return fmt.Errorf("building feed HTTP client: %w", err)
	}
	feedClient := feeds.NewClient(
		httpClient,
		feeds.RetryPolicy{
			MaxRetries: cfg.Feeds.MaxRetries,
			MinWait:    cfg.Feeds.RetryMinWait,
			MaxWait:    cfg.Feeds.RetryMaxWait,
		},
		cfg.Feeds.UserAgent,
	)
	feedSource := feeds.NewHTTPSource(feedClient, feeds.NewParser(), cfg.Feeds.MaxBodyBytes)
	builder := blocks.NewBuilder(blocks.DefaultRegistry(), feedSource, typedLogger)
	renderer, err := render.NewRenderer(render.RendererConfig{Logger: typedLogger})
	if err != nil {
		return fmt.Errorf("initializing renderer: %w", err)
	}
	pipeline := render.NewService(builder, renderer)

	// API key issuing and verification.
	keyService := auth.NewKeyService(auth.KeyServiceConfig{
		Repo:   repos.APIKeys,
		Hasher: auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Logger: typedLogger,
	})

	// Telemetry and the render job publisher.
	var metrics *telemetry.CloudWatchMetrics
	if cfg.Observability.EnableMetrics {
		metrics = telemetry.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, typedLogger)
	}
	var jobMetrics queue.JobMetrics
	if metrics != nil {
		jobMetrics = metrics
	}
	publisher := queue.NewPublisher(sqsClient, cfg.AWS, jobMetrics, typedLogger)

	// Server chassis.
	srv, err := core.NewServer(cfg, repos, typedLogger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Keys = keyService
	if metrics != nil {
		srv.Metrics = metrics
	}
	srv.HealthProbes = append(srv.HealthProbes, db.NewPingProbe(pool))

	// Admin surface: key management behind the operator key.
	apiKeyHandler := handlers.NewAPIKeyHandler(keyService, repos.APIKeys, srv.Validator, typedLogger)
	srv.AdminRouteRegistrars = append(srv.AdminRouteRegistrars, apiKeyHandler.RegisterRoutes)

	// Tenant surface: documents, render history, inline preview.
	documentHandler := handlers.NewDocumentHandler(handlers.DocumentHandlerConfig{
		Documents:          repos.Documents,
		Renders:            repos.Renders,
		Pipeline:           pipeline,
		Publisher:          publisher,
		Validator:          srv.Validator,
		Logger:             typedLogger,
		MaxDefinitionBytes: cfg.Server.MaxDefinitionBytes,
	})
	renderHandler := handlers.NewRenderHandler(pipeline, srv.Validator, typedLogger, cfg.Server.MaxDefinitionBytes)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		documentHandler.RegisterRoutes,
		renderHandler.RegisterRoutes,
	)

	// Mount all routes (middleware chain + versioned endpoints + health).
	srv.MountRoutes()

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}

	return runHTTPServer(srv, cfg, logger)
}

// secretProvider returns the SSM-backed provider for deployed environments.
// Local development returns nil; LoadConfig skips SSM resolution when
// APP_ENV=local.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.NewSSMProvider(region)
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runLambda serves API Gateway HTTP API (v2) events through the chi router.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	logger.Info("starting in Lambda mode")
	adapter := chiadapter.NewV2(srv.Router())
	lambda.Start(adapter.ProxyWithContextV2)
	return nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Release server resources (DB pool).
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
