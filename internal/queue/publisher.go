// Package queue provides the SQS-based producer that dispatches render jobs
// to the asynchronous render worker.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"mailsmith/internal/config"
	"mailsmith/internal/types"
)

// sqsMaxDelay is the SQS DelaySeconds ceiling.
const sqsMaxDelay = 900 * time.Second

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// JobMetrics records queue-side telemetry. Satisfied by
// telemetry.CloudWatchMetrics; a nil JobMetrics disables queue metrics.
type JobMetrics interface {
	RecordJobPublished(ctx context.Context, source types.RenderJobSource)
}

// Publisher sends render jobs to the render-jobs SQS queue. The API inserts
// a pending render row before publishing; the job's JobID references that
// row, so the worker knows which row to settle.
type Publisher struct {
	client   SQSSender
	queueURL string
	metrics  JobMetrics
	logger   types.Logger
}

// NewPublisher creates a Publisher targeting the configured render-jobs
// queue.
func NewPublisher(client SQSSender, awsCfg config.AWSConfig, metrics JobMetrics, logger types.Logger) *Publisher {
	return &Publisher{
		client:   client,
		queueURL: awsCfg.RenderJobQueue,
		metrics:  metrics,
		logger:   logger,
	}
}

// Publish serializes the job and sends it. The job source and trace ID ride
// along as message attributes so operators can see them without decoding the
// body.
func (p *Publisher) Publish(ctx context.Context, job types.RenderJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to marshal render job", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(job.Source)),
			},
		},
	}
	if job.TraceID != "" {
		input.MessageAttributes["trace_id"] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(job.TraceID),
		}
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to publish render job", err)
	}

	if p.metrics != nil {
		p.metrics.RecordJobPublished(ctx, job.Source)
	}

	p.logger.Info("render job published",
		"queue_url", p.queueURL,
		"job_id", job.JobID,
		"document_id", job.DocumentID,
		"source", string(job.Source),
		"trace_id", job.TraceID,
	)

	return nil
}

// PublishRetry re-queues a job after a transient failure. It increments
// RetryCount before serializing, so the next consumer sees an accurate
// attempt number, and delays delivery by the given backoff, clamped to the
// SQS maximum of 15 minutes.
func (p *Publisher) PublishRetry(ctx context.Context, job types.RenderJob, delay time.Duration) error {
	job.RetryCount++

	body, err := json.Marshal(job)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to marshal render job", err)
	}

	if delay > sqsMaxDelay {
		delay = sqsMaxDelay
	}
	delaySec := int32(delay / time.Second)
	if delaySec < 0 {
		delaySec = 0
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to re-queue render job", err)
	}

	p.logger.Info("render job re-queued",
		"job_id", job.JobID,
		"document_id", job.DocumentID,
		"retry_count", job.RetryCount,
		"delay_seconds", delaySec,
	)

	return nil
}
