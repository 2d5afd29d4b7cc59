package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"mailsmith/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// mockLogger captures error messages so tests can assert failures are logged.
type mockLogger struct {
	errorMsgs []string
}

func (m *mockLogger) Info(string, ...any) {}
func (m *mockLogger) Error(msg string, _ ...any) {
	m.errorMsgs = append(m.errorMsgs, msg)
}
func (m *mockLogger) Warn(string, ...any)      {}
func (m *mockLogger) With(...any) types.Logger { return m }

// assertDimension verifies that a dimension with the given name and value is present.
func assertDimension(t *testing.T, dims []cwtypes.Dimension, name, value string) {
	t.Helper()
	for _, d := range dims {
		if *d.Name == name {
			if *d.Value != value {
				t.Errorf("dimension %q: expected value %q, got %q", name, value, *d.Value)
			}
			return
		}
	}
	t.Errorf("dimension %q not found", name)
}

// findDatum returns the metric datum with the given name, failing the test if absent.
func findDatum(t *testing.T, data []cwtypes.MetricDatum, name string) cwtypes.MetricDatum {
	t.Helper()
	for _, d := range data {
		if *d.MetricName == name {
			return d
		}
	}
	t.Fatalf("metric %q not found", name)
	return cwtypes.MetricDatum{}
}

func TestCloudWatchMetrics_RecordRequest(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", &mockLogger{})

	metrics.RecordRequest("POST", "/v1/documents/{documentID}/render", "200", 120*time.Millisecond)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}

	input := cw.calls[0]
	if *input.Namespace != types.MetricNamespace {
		t.Errorf("expected namespace %q, got %q", types.MetricNamespace, *input.Namespace)
	}
	if len(input.MetricData) != 2 {
		t.Fatalf("expected 2 metric data, got %d", len(input.MetricData))
	}

	latency := findDatum(t, input.MetricData, types.MetricAPILatency)
	if *latency.Value != 120.0 {
		t.Errorf("expected latency value 120, got %f", *latency.Value)
	}
	if latency.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("expected unit Milliseconds, got %s", latency.Unit)
	}
	assertDimension(t, latency.Dimensions, types.DimEndpoint, "/v1/documents/{documentID}/render")
	assertDimension(t, latency.Dimensions, types.DimMethod, "POST")

	count := findDatum(t, input.MetricData, types.MetricAPIRequestCount)
	if *count.Value != 1.0 {
		t.Errorf("expected count value 1, got %f", *count.Value)
	}
	if count.Unit != cwtypes.StandardUnitCount {
		t.Errorf("expected unit Count, got %s", count.Unit)
	}
	assertDimension(t, count.Dimensions, types.DimStatus, "200")
}

func TestCloudWatchMetrics_CustomNamespace(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "MailsmithStaging", &mockLogger{})

	metrics.RecordRequest("GET", "/health", "200", time.Millisecond)

	if got := *cw.calls[0].Namespace; got != "MailsmithStaging" {
		t.Errorf("expected namespace %q, got %q", "MailsmithStaging", got)
	}
}

func TestCloudWatchMetrics_RecordRenderOutcome_Success(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", &mockLogger{})

	metrics.RecordRenderOutcome(context.Background(), types.JobSourceAPI, true, 340*time.Millisecond)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cw.calls))
	}

	data := cw.calls[0].MetricData
	duration := findDatum(t, data, types.MetricRenderDuration)
	if *duration.Value != 340.0 {
		t.Errorf("expected duration 340, got %f", *duration.Value)
	}
	assertDimension(t, duration.Dimensions, types.DimSource, string(types.JobSourceAPI))

	success := findDatum(t, data, types.MetricRenderSuccess)
	if *success.Value != 1.0 {
		t.Errorf("expected success count 1, got %f", *success.Value)
	}
}

func TestCloudWatchMetrics_RecordRenderOutcome_Failure(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", &mockLogger{})

	metrics.RecordRenderOutcome(context.Background(), types.JobSourceScheduled, false, 50*time.Millisecond)

	data := cw.calls[0].MetricData
	failure := findDatum(t, data, types.MetricRenderFailure)
	assertDimension(t, failure.Dimensions, types.DimSource, string(types.JobSourceScheduled))

	for _, d := range data {
		if *d.MetricName == types.MetricRenderSuccess {
			t.Error("a failed render must not emit a success count")
		}
	}
}

func TestCloudWatchMetrics_RecordJobPublished(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", &mockLogger{})

	metrics.RecordJobPublished(context.Background(), types.JobSourceAPI)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cw.calls))
	}

	datum := findDatum(t, cw.calls[0].MetricData, types.MetricJobPublished)
	if datum.Unit != cwtypes.StandardUnitCount {
		t.Errorf("expected unit Count, got %s", datum.Unit)
	}
	assertDimension(t, datum.Dimensions, types.DimSource, string(types.JobSourceAPI))
}

func TestCloudWatchMetrics_PutFailureIsLoggedNotReturned(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: fmt.Errorf("cloudwatch unavailable")}
	logger := &mockLogger{}
	metrics := NewCloudWatchMetrics(cw, "", logger)

	// Must not panic; the error surfaces only in the log.
	metrics.RecordRequest("GET", "/health", "200", time.Millisecond)
	metrics.RecordJobPublished(context.Background(), types.JobSourceAPI)

	if len(cw.calls) != 2 {
		t.Errorf("expected 2 call attempts, got %d", len(cw.calls))
	}
	if len(logger.errorMsgs) != 2 {
		t.Errorf("expected 2 logged errors, got %d", len(logger.errorMsgs))
	}
}
