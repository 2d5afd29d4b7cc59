// Package main is the entrypoint for the Render Worker Lambda function.
//
// The Render Worker consumes render jobs from the render job SQS queue, loads
// the referenced document, runs it through the render pipeline (block
// composition, feed expansion, visibility filtering, HTML generation), and
// settles the pending render row with the outcome. It implements the SQS
// Lambda handler pattern where each invocation receives a batch of messages.
//
// Cold Start (main):
//  1. Load configuration and initialize the structured logger.
//  2. Connect the database pool and repositories.
//  3. Initialize SQS and CloudWatch clients.
//  4. Assemble the render pipeline (feed adapter, block builder, renderer).
//  5. Register the handler and call lambda.Start.
//
// Handler flow per SQS message:
//  1. Unmarshal the RenderJob from the message body.
//  2. Load the document; a deleted document settles the row as failed.
//  3. Render for the job's context, timed.
//  4. Success: settle the row as succeeded and record telemetry.
//  5. Transient failure (feed fetch, upstream): re-publish with exponential
//     backoff until the retry budget is exhausted, then settle as failed.
//  6. Permanent failure (build errors): settle as failed immediately.
//
// Messages that fail with infrastructure errors (database outage, SQS publish
// failure) are reported via partial batch responses so SQS redelivers only
// those messages.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"mailsmith/internal/blocks"
	"mailsmith/internal/config"
	"mailsmith/internal/db"
	"mailsmith/internal/feeds"
	"mailsmith/internal/queue"
	"mailsmith/internal/render"
	"mailsmith/internal/security"
	"mailsmith/internal/telemetry"
	"mailsmith/internal/types"
)

const (
	// maxRetries bounds how many times a transiently failing job is
	// re-queued before its render row is settled as failed.
	maxRetries = 3

	// feedMaxRedirects caps redirect chains on feed fetches. Each hop is
	// re-validated against the SSRF blocklist.
	feedMaxRedirects = 3

	// retryBaseDelay seeds the exponential backoff between attempts.
	retryBaseDelay = 30 * time.Second

	// retryMaxDelay caps the backoff. SQS itself caps per-message delay at
	// 15 minutes, so larger values would be clamped anyway.
	retryMaxDelay = 15 * time.Minute
)

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

// documentGetter loads stored documents. Implemented by *db.DocumentRepository.
type documentGetter interface {
	GetByID(ctx context.Context, id string) (*types.Document, error)
}

// renderSettler settles pending render rows. Implemented by *db.RenderRepository.
type renderSettler interface {
	UpdateResult(ctx context.Context, id string, status types.RenderStatus, outputBytes int, errMsg string, durationMS int64) error
}

// renderPipeline runs a stored definition through block build and HTML
// rendering. Implemented by *render.Service.
type renderPipeline interface {
	RenderStored(ctx context.Context, def types.DefinitionData, rc types.RenderContext) ([]byte, error)
}

// retryPublisher re-queues a job with a delivery delay. Implemented by
// *queue.Publisher.
type retryPublisher interface {
	PublishRetry(ctx context.Context, job types.RenderJob, delay time.Duration) error
}

// renderMetrics records render outcomes. Implemented by
// *telemetry.CloudWatchMetrics; nil disables telemetry.
type renderMetrics interface {
	RecordRenderOutcome(ctx context.Context, source types.RenderJobSource, succeeded bool, duration time.Duration)
}

// Handler holds the dependencies for the render worker Lambda handler.
type Handler struct {
	docs      documentGetter
	renders   renderSettler
	pipeline  renderPipeline
	publisher retryPublisher
	metrics   renderMetrics
	logger    types.Logger
}

// Handle processes an SQS event containing one or more render jobs. Each
// message is processed independently. Lambda SQS integration uses partial
// batch responses: messages that fail processing are returned in
// batchItemFailures so SQS redelivers only them.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord handles a single render job. A nil return acknowledges the
// message; a non-nil return reports it in batchItemFailures so SQS redelivers.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var job types.RenderJob
	if err := json.Unmarshal([]byte(record.Body), &job); err != nil {
		h.logger.Error("failed to unmarshal render job",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		// Permanent parse failure - do not retry (return nil to ACK).
		return nil
	}

	logger := h.logger.With(
		"job_id", job.JobID,
		"document_id", job.DocumentID,
		"source", string(job.Source),
		"retry_count", job.RetryCount,
		"trace_id", job.TraceID,
	)

	logger.Info("processing render job")

	doc, err := h.docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundDocument {
			// The document was deleted between enqueue and processing.
			// Redelivery cannot succeed, so settle the row and ACK.
			logger.Warn("document no longer exists, failing render job")
			if settleErr := h.settle(ctx, job, types.RenderStatusFailed, 0, "document not found", 0, logger); settleErr != nil {
				return settleErr
			}
			h.recordOutcome(ctx, job.Source, false, 0)
			return nil
		}
		return fmt.Errorf("load document: %w", err)
	}

	start := time.Now()
	html, renderErr := h.pipeline.RenderStored(ctx, doc.Definition, job.Context)
	duration := time.Since(start)

	if renderErr == nil {
		if err := h.settle(ctx, job, types.RenderStatusSucceeded, len(html), "", duration, logger); err != nil {
			// Redelivery re-renders; settling the row again is idempotent.
			return err
		}
		h.recordOutcome(ctx, job.Source, true, duration)
		logger.Info("render job succeeded",
			"output_bytes", len(html),
			"duration_ms", duration.Milliseconds(),
		)
		return nil
	}

	if isTransient(renderErr) {
		return h.handleTransientFailure(ctx, job, renderErr, duration, logger)
	}

	// Permanent failure: unknown block type, missing required property,
	// invalid child policy. The definition is deterministic, so redelivery
	// cannot change the outcome.
	if err := h.settle(ctx, job, types.RenderStatusFailed, 0, renderErr.Error(), duration, logger); err != nil {
		return err
	}
	h.recordOutcome(ctx, job.Source, false, duration)
	logger.Error("render job permanently failed", "error", renderErr.Error())
	return nil
}

// handleTransientFailure re-queues the job with backoff, or settles it as
// failed once the retry budget is exhausted. The render row stays pending
// while retries are in flight.
func (h *Handler) handleTransientFailure(ctx context.Context, job types.RenderJob, renderErr error, duration time.Duration, logger types.Logger) error {
	if job.RetryCount >= maxRetries {
		msg := fmt.Sprintf("max retries exceeded: %v", renderErr)
		if err := h.settle(ctx, job, types.RenderStatusFailed, 0, msg, duration, logger); err != nil {
			return err
		}
		h.recordOutcome(ctx, job.Source, false, duration)
		logger.Error("render job failed after exhausting retries", "error", renderErr.Error())
		return nil
	}

	// PublishRetry increments RetryCount before sending.
	delay := retryBackoff(job.RetryCount)
	if err := h.publisher.PublishRetry(ctx, job, delay); err != nil {
		// Redelivery of the original message preserves the attempt count.
		return fmt.Errorf("re-queue render job: %w", err)
	}

	logger.Warn("render job re-queued after transient failure",
		"error", renderErr.Error(),
		"delay_seconds", int(delay.Seconds()),
	)
	return nil
}

// settle records the job outcome on its render row. A missing row means the
// job is orphaned (the row was deleted after enqueue); that is logged and
// swallowed since redelivery cannot recover it. Other errors propagate so
// SQS redelivers.
func (h *Handler) settle(ctx context.Context, job types.RenderJob, status types.RenderStatus, outputBytes int, errMsg string, duration time.Duration, logger types.Logger) error {
	err := h.renders.UpdateResult(ctx, job.JobID, status, outputBytes, errMsg, duration.Milliseconds())
	if err == nil {
		return nil
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundRender {
		logger.Warn("render row missing while settling job", "status", string(status))
		return nil
	}
	return fmt.Errorf("settle render row: %w", err)
}

func (h *Handler) recordOutcome(ctx context.Context, source types.RenderJobSource, succeeded bool, duration time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordRenderOutcome(ctx, source, succeeded, duration)
}

// isTransient reports whether a render error is worth retrying. Feed fetch
// and upstream failures are transient; build errors are deterministic and
// permanent.
func isTransient(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == types.ErrCodeFeedFetchFailed ||
		strings.HasPrefix(string(appErr.Code), "upstream_")
}

// retryBackoff computes the re-queue delay for the given attempt count:
// exponential doubling from retryBaseDelay, capped at retryMaxDelay.
func retryBackoff(retryCount int) time.Duration {
	delay := retryBaseDelay << retryCount
	if delay <= 0 || delay > retryMaxDelay {
		return retryMaxDelay
	}
	return delay
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

func main() {
	// Initialize structured logger at startup (Cold Start).
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("render worker initializing (cold start)")

	// Wrap slog.Logger to satisfy the types.Logger interface.
	typedLogger := &slogAdapter{logger: logger}
	ctx := context.Background()

	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Database pool and repositories.
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	repos := db.NewRepositories(pool)

	// AWS clients. BaseEndpoint is only overridden for LocalStack.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
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
		logger.Error("failed to build feed HTTP client", "error", err)
		os.Exit(1)
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
		logger.Error("failed to initialize renderer", "error", err)
		os.Exit(1)
	}
	pipeline := render.NewService(builder, renderer)

	// Telemetry and the retry publisher.
	var cwMetrics *telemetry.CloudWatchMetrics
	if cfg.Observability.EnableMetrics {
		cwMetrics = telemetry.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, typedLogger)
	}
	var metrics renderMetrics
	var jobMetrics queue.JobMetrics
	if cwMetrics != nil {
		metrics = cwMetrics
		jobMetrics = cwMetrics
	}
	publisher := queue.NewPublisher(sqsClient, cfg.AWS, jobMetrics, typedLogger)

	handler := &Handler{
		docs:      repos.Documents,
		renders:   repos.Renders,
		pipeline:  pipeline,
		publisher: publisher,
		metrics:   metrics,
		logger:    typedLogger,
	}

	logger.Info("render worker initialized",
		"environment", cfg.Environment,
		"render_job_queue", cfg.AWS.RenderJobQueue,
		"metric_namespace", cfg.Observability.MetricNamespace,
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime. This enables local integration testing without the
	// AWS Lambda RIE.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run cmd/render-worker/main.go
	if os.Getenv("APP_ENV") == "local" {
		logger.Info("APP_ENV=local: reading SQS event from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		if len(payload) == 0 {
			logger.Error("no input received on stdin")
			os.Exit(1)
		}
		var sqsEvent events.SQSEvent
		if err := json.Unmarshal(payload, &sqsEvent); err != nil {
			logger.Error("failed to parse stdin as SQS event", "error", err)
			os.Exit(1)
		}
		response, err := handler.Handle(ctx, sqsEvent)
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		if len(response.BatchItemFailures) > 0 {
			logger.Warn("handler reported partial failures",
				"failed_count", len(response.BatchItemFailures),
			)
			respJSON, _ := json.MarshalIndent(response, "", "  ")
			fmt.Fprintln(os.Stderr, string(respJSON))
		}
		logger.Info("handler execution completed",
			"records_processed", len(sqsEvent.Records),
			"failures", len(response.BatchItemFailures),
		)
		return
	}

	lambda.Start(handler.Handle)
}

// Compile-time assertion that slogAdapter implements types.Logger.
var _ types.Logger = (*slogAdapter)(nil)
