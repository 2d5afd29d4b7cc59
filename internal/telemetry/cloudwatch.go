// Package telemetry publishes operational metrics to AWS CloudWatch. The API
// middleware, the queue publisher, and the render worker all emit through it.
package telemetry

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"mailsmith/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// putTimeout bounds a single PutMetricData call. Metrics are fire-and-forget;
// a slow CloudWatch endpoint must not stall the caller indefinitely.
const putTimeout = 2 * time.Second

// CloudWatchMetrics publishes request and render metrics to CloudWatch.
//
// Metrics emitted:
//   - APILatency: Dims {Endpoint, Method} -- request duration in ms
//   - APIRequestCount: Dims {Endpoint, Method, Status} -- one per request
//   - RenderDuration: Dims {Source} -- pipeline duration in ms
//   - RenderSuccess / RenderFailure: Dims {Source} -- one per render outcome
//   - RenderJobPublished: Dims {Source} -- one per enqueued job
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given
// namespace. An empty namespace falls back to the default.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordRequest implements the API middleware collector. The middleware calls
// it after the response has been written, so the put is off the client's
// critical path; it carries its own timeout because no request context is
// available here.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()

	m.put(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricAPILatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimEndpoint), Value: aws.String(endpoint)},
					{Name: aws.String(types.DimMethod), Value: aws.String(method)},
				},
			},
			{
				MetricName: aws.String(types.MetricAPIRequestCount),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimEndpoint), Value: aws.String(endpoint)},
					{Name: aws.String(types.DimMethod), Value: aws.String(method)},
					{Name: aws.String(types.DimStatus), Value: aws.String(status)},
				},
			},
		},
	})
}

// RecordRenderOutcome emits the pipeline duration plus a success or failure
// count for one render attempt, segmented by job source.
func (m *CloudWatchMetrics) RecordRenderOutcome(ctx context.Context, source types.RenderJobSource, succeeded bool, duration time.Duration) {
	outcome := types.MetricRenderSuccess
	if !succeeded {
		outcome = types.MetricRenderFailure
	}

	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimSource), Value: aws.String(string(source))},
	}

	m.put(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricRenderDuration),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(outcome),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	})
}

// RecordJobPublished emits one count per render job handed to SQS.
func (m *CloudWatchMetrics) RecordJobPublished(ctx context.Context, source types.RenderJobSource) {
	m.put(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricJobPublished),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimSource), Value: aws.String(string(source))},
				},
			},
		},
	})
}

// put dispatches the metric data, logging failures instead of returning them.
func (m *CloudWatchMetrics) put(ctx context.Context, input *cloudwatch.PutMetricDataInput) {
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		names := make([]string, 0, len(input.MetricData))
		for _, datum := range input.MetricData {
			names = append(names, aws.ToString(datum.MetricName))
		}
		m.logger.Error("failed to put metric data",
			"error", err.Error(),
			"metrics", names,
		)
	}
}
