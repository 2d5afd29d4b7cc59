package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricAPILatency      = "APILatency"
	MetricAPIRequestCount = "APIRequestCount"
	MetricRenderDuration  = "RenderDuration"
	MetricRenderSuccess   = "RenderSuccess"
	MetricRenderFailure   = "RenderFailure"
	MetricJobPublished    = "RenderJobPublished"

	// Dimension Keys
	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"
	DimSource   = "Source"

	// Default metric namespace; overridable via METRIC_NAMESPACE.
	MetricNamespace = "Mailsmith"
)
